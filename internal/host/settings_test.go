package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"card-agents/internal/api"
	"card-agents/internal/api/apitest"
	"card-agents/internal/cluster"
	"card-agents/pkg/util/idgen"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: lab
  cluster:
    server: https://lab.example:6443
    insecure-skip-tls-verify: true
users:
- name: robot
  user:
    token: kube-token
contexts:
- name: lab
  context:
    cluster: lab
    user: robot
    namespace: agents
current-context: lab
`

// ============================================================================
// Test Helpers
// ============================================================================

func newTestViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func staticSettings(s api.ClusterSettings) func() (api.ClusterSettings, error) {
	return func() (api.ClusterSettings, error) { return s, nil }
}

// ============================================================================
// 1. LoadSettings
// ============================================================================

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings(viper.New())
	require.NoError(t, err)
	assert.Equal(t, api.DefaultNamespace, s.Namespace)
	assert.Equal(t, api.DefaultLoginAlias, s.LoginAlias)
	assert.Empty(t, s.ClusterURL)
	assert.Empty(t, s.Token)
}

func TestLoadSettings_ExplicitValues(t *testing.T) {
	ca := writeTemp(t, "ca.pem", "-----BEGIN CERTIFICATE-----\n")
	v := newTestViper(t, map[string]any{
		KeyClusterURL: " https://api.example ",
		KeyNamespace:  "jobs",
		KeyToken:      "secret",
		KeyInsecure:   true,
		KeyCABundle:   ca,
	})

	s, err := LoadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example", s.ClusterURL)
	assert.Equal(t, "jobs", s.Namespace)
	assert.Equal(t, "secret", s.Token)
	assert.True(t, s.IgnoreSSL)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----\n", s.CABundle)
}

func TestLoadSettings_MissingCABundle(t *testing.T) {
	v := newTestViper(t, map[string]any{KeyCABundle: filepath.Join(t.TempDir(), "missing.pem")})
	_, err := LoadSettings(v)
	assert.ErrorContains(t, err, "read CA bundle")
}

func TestLoadSettings_Kubeconfig(t *testing.T) {
	path := writeTemp(t, "config", testKubeconfig)

	s, err := LoadSettings(newTestViper(t, map[string]any{KeyKubeconfig: path}))
	require.NoError(t, err)
	assert.Equal(t, "https://lab.example:6443", s.ClusterURL)
	assert.Equal(t, "kube-token", s.Token)
	assert.Equal(t, "agents", s.Namespace)
	assert.True(t, s.IgnoreSSL)
}

func TestLoadSettings_ExplicitValuesBeatKubeconfig(t *testing.T) {
	path := writeTemp(t, "config", testKubeconfig)

	s, err := LoadSettings(newTestViper(t, map[string]any{
		KeyKubeconfig: path,
		KeyToken:      "flag-token",
		KeyNamespace:  "automation",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://lab.example:6443", s.ClusterURL)
	assert.Equal(t, "flag-token", s.Token)
	assert.Equal(t, "automation", s.Namespace)
}

func TestLoadSettings_UnknownContext(t *testing.T) {
	path := writeTemp(t, "config", testKubeconfig)
	_, err := LoadSettings(newTestViper(t, map[string]any{KeyKubeconfig: path, KeyContext: "nope"}))
	assert.Error(t, err)
}

// ============================================================================
// 2. Resolvers
// ============================================================================

func TestResolver_NotConfigured(t *testing.T) {
	tests := []struct {
		name     string
		cardID   string
		settings api.ClusterSettings
	}{
		{"no card", "", api.ClusterSettings{ClusterURL: "https://api.example", Token: "t", Namespace: "ns"}},
		{"no url", "card-1", api.ClusterSettings{Token: "t", Namespace: "ns"}},
		{"no token", "card-1", api.ClusterSettings{ClusterURL: "https://api.example", Namespace: "ns"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(staticSettings(tt.settings), WithResolverLogger(logr.Discard()))
			pc, err := r.ForCard(tt.cardID).Resolve(context.Background())
			assert.NoError(t, err)
			assert.Nil(t, pc)
		})
	}

	r := NewResolver(staticSettings(api.ClusterSettings{}), WithResolverLogger(logr.Discard()))
	_, err := r.Client(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolver_FingerprintFollowsSettings(t *testing.T) {
	settings := api.ClusterSettings{ClusterURL: "https://api.example/", Namespace: "automation", Token: "one"}
	r := NewResolver(func() (api.ClusterSettings, error) { return settings, nil }, WithResolverLogger(logr.Discard()))
	resolver := r.ForCard("card-1")

	first, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "card-1", first.CardID)
	assert.Equal(t, "automation", first.Namespace)
	assert.Equal(t, idgen.Fingerprint("https://api.example", "automation", "one"), first.Fingerprint)
	client, err := first.NewClient()
	require.NoError(t, err)
	assert.NotNil(t, client)

	settings.Token = "two"
	second, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestResolver_BuildsClientOnlyOnDemand(t *testing.T) {
	settings := api.ClusterSettings{ClusterURL: "https://api.example", Namespace: "automation", Token: "one"}
	builds := 0
	countBuilds := func(*cluster.Client) { builds++ }
	r := NewResolver(staticSettings(settings), WithResolverLogger(logr.Discard()), WithClientOptions(countBuilds))

	for i := 0; i < 3; i++ {
		pc, err := r.ForCard("card-1").Resolve(context.Background())
		require.NoError(t, err)
		require.NotNil(t, pc)
	}
	assert.Zero(t, builds, "resolving a context does not build a client")

	pc, err := r.ForCard("card-1").Resolve(context.Background())
	require.NoError(t, err)
	client, err := pc.NewClient()
	require.NoError(t, err)
	assert.IsType(t, &cluster.Client{}, client)
	assert.Equal(t, 1, builds)
}

func TestResolver_InvalidURL(t *testing.T) {
	r := NewResolver(staticSettings(api.ClusterSettings{ClusterURL: "://bad", Token: "t"}), WithResolverLogger(logr.Discard()))
	_, err := r.ForCard("card-1").Resolve(context.Background())
	assert.ErrorContains(t, err, "build cluster client")
}

func TestFromViper_ReadsOnEveryResolve(t *testing.T) {
	v := newTestViper(t, map[string]any{KeyClusterURL: "https://api.example", KeyToken: "one"})
	r := FromViper(v, WithResolverLogger(logr.Discard()))

	first, err := r.ForCard("card-1").Resolve(context.Background())
	require.NoError(t, err)

	v.Set(KeyNamespace, "other")
	second, err := r.ForCard("card-1").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "other", second.Namespace)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestStatic(t *testing.T) {
	fake := &apitest.FakePodAPI{}
	s := NewStatic(fake, "", "")

	pc, err := s.ForCard("card-1").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static:"+api.DefaultNamespace, pc.Fingerprint)
	client, err := pc.NewClient()
	require.NoError(t, err)
	assert.Same(t, fake, client)

	pc, err = s.ForCard("").Resolve(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, pc)

	client, err = s.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, fake, client)
}
