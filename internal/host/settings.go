// Package host supplies what the dashboard consumes from its surroundings:
// the per-card cluster context, confirmation before destructive actions and
// user notifications.
package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"card-agents/internal/api"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"k8s.io/client-go/tools/clientcmd"
)

// Configuration keys shared by flags, the config file and the environment.
const (
	KeyClusterURL = "cluster-url"
	KeyNamespace  = "namespace"
	KeyToken      = "token"
	KeyCABundle   = "ca-bundle"
	KeyInsecure   = "insecure-skip-tls-verify"
	KeyLoginAlias = "login-alias"
	KeyKubeconfig = "kubeconfig"
	KeyContext    = "context"
	KeyCard       = "card"
	KeyPreview    = "preview"
	KeyLogLevel   = "log-level"
)

// LoadSettings reads cluster settings from v. Explicit cluster-url and token
// values win; anything still missing is filled from the kubeconfig when
// kubeconfig or context is set.
func LoadSettings(v *viper.Viper) (api.ClusterSettings, error) {
	s := api.DefaultClusterSettings()
	if ns := strings.TrimSpace(v.GetString(KeyNamespace)); ns != "" {
		s.Namespace = ns
	}
	if alias := strings.TrimSpace(v.GetString(KeyLoginAlias)); alias != "" {
		s.LoginAlias = alias
	}
	s.ClusterURL = strings.TrimSpace(v.GetString(KeyClusterURL))
	s.Token = strings.TrimSpace(v.GetString(KeyToken))
	s.IgnoreSSL = v.GetBool(KeyInsecure)

	if path := v.GetString(KeyCABundle); path != "" {
		pem, err := readFile(path)
		if err != nil {
			return s, fmt.Errorf("read CA bundle: %w", err)
		}
		s.CABundle = string(pem)
	}

	kubeconfig, kubeContext := v.GetString(KeyKubeconfig), v.GetString(KeyContext)
	if (kubeconfig != "" || kubeContext != "") && (s.ClusterURL == "" || s.Token == "") {
		if err := fillFromKubeconfig(&s, kubeconfig, kubeContext, v.IsSet(KeyNamespace)); err != nil {
			return s, err
		}
	}
	return s, nil
}

func fillFromKubeconfig(s *api.ClusterSettings, path, contextName string, namespaceSet bool) error {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return fmt.Errorf("expand kubeconfig path: %w", err)
		}
		rules.Precedence = []string{filepath.Clean(expanded)}
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return fmt.Errorf("build rest config: %w", err)
	}
	if s.ClusterURL == "" {
		s.ClusterURL = restConfig.Host
	}
	if s.Token == "" {
		s.Token = restConfig.BearerToken
		if s.Token == "" && restConfig.BearerTokenFile != "" {
			raw, err := os.ReadFile(restConfig.BearerTokenFile)
			if err != nil {
				return fmt.Errorf("read token file: %w", err)
			}
			s.Token = strings.TrimSpace(string(raw))
		}
	}
	if s.CABundle == "" {
		switch {
		case len(restConfig.CAData) > 0:
			s.CABundle = string(restConfig.CAData)
		case restConfig.CAFile != "":
			pem, err := os.ReadFile(restConfig.CAFile)
			if err != nil {
				return fmt.Errorf("read CA file: %w", err)
			}
			s.CABundle = string(pem)
		}
	}
	if !s.IgnoreSSL {
		s.IgnoreSSL = restConfig.Insecure
	}
	if !namespaceSet {
		if ns, _, err := clientConfig.Namespace(); err == nil && ns != "" && ns != "default" {
			s.Namespace = ns
		}
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Clean(expanded))
}
