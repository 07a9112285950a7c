package host

import (
	"context"
	"errors"
	"fmt"

	"card-agents/internal/api"
	"card-agents/internal/cluster"
	"card-agents/internal/podruntime"
	"card-agents/pkg/util/idgen"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"
)

// ErrNotConfigured is returned by Client when no cluster URL or token is set.
var ErrNotConfigured = errors.New("cluster connection is not configured: set cluster-url and token, or a kubeconfig")

// Source hands out cluster access to the dashboard surfaces.
type Source interface {
	// ForCard resolves the watch context of one card.
	ForCard(cardID string) podruntime.Resolver
	// Client returns a client for pod actions that are not card scoped.
	Client(ctx context.Context) (api.PodAPI, error)
}

var (
	_ Source = (*Resolver)(nil)
	_ Source = (*Static)(nil)
)

// Resolver builds cluster clients from settings loaded on every call, so
// edited settings change the fingerprint and rotate watchers.
type Resolver struct {
	load       func() (api.ClusterSettings, error)
	log        logr.Logger
	clientOpts []cluster.Option
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger handed to the resolver and its clients.
func WithResolverLogger(log logr.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// WithClientOptions are passed to every cluster client the resolver builds.
func WithClientOptions(opts ...cluster.Option) ResolverOption {
	return func(r *Resolver) { r.clientOpts = append(r.clientOpts, opts...) }
}

// NewResolver returns a Resolver reading settings through load.
func NewResolver(load func() (api.ClusterSettings, error), opts ...ResolverOption) *Resolver {
	r := &Resolver{load: load, log: ctrl.Log.WithName("host")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromViper reads settings from v on every resolution.
func FromViper(v *viper.Viper, opts ...ResolverOption) *Resolver {
	return NewResolver(func() (api.ClusterSettings, error) { return LoadSettings(v) }, opts...)
}

// ForCard implements Source. A missing card id, cluster URL or token yields a
// nil context: not configured yet.
func (r *Resolver) ForCard(cardID string) podruntime.Resolver {
	return podruntime.ResolverFunc(func(ctx context.Context) (*podruntime.PodContext, error) {
		if cardID == "" {
			return nil, nil
		}
		settings, err := r.load()
		if err != nil {
			return nil, err
		}
		if !configured(settings) {
			r.log.V(1).Info("cluster not configured", "card", cardID)
			return nil, nil
		}
		if err := clusterConfig(settings).Validate(); err != nil {
			return nil, fmt.Errorf("build cluster client: %w", err)
		}
		return &podruntime.PodContext{
			CardID:      cardID,
			Namespace:   settings.Namespace,
			Fingerprint: idgen.Fingerprint(settings.ClusterURL, settings.Namespace, settings.Token),
			NewClient:   func() (api.PodAPI, error) { return r.newClient(settings) },
		}, nil
	})
}

// Client implements Source.
func (r *Resolver) Client(ctx context.Context) (api.PodAPI, error) {
	settings, err := r.load()
	if err != nil {
		return nil, err
	}
	if !configured(settings) {
		return nil, ErrNotConfigured
	}
	return r.newClient(settings)
}

func (r *Resolver) newClient(s api.ClusterSettings) (api.PodAPI, error) {
	opts := append([]cluster.Option{cluster.WithLogger(r.log.WithName("cluster"))}, r.clientOpts...)
	client, err := cluster.NewClient(clusterConfig(s), opts...)
	if err != nil {
		return nil, fmt.Errorf("build cluster client: %w", err)
	}
	return client, nil
}

func clusterConfig(s api.ClusterSettings) cluster.Config {
	return cluster.Config{
		BaseURL:   s.ClusterURL,
		Namespace: s.Namespace,
		Token:     s.Token,
		CAData:    []byte(s.CABundle),
		Insecure:  s.IgnoreSSL,
	}
}

func configured(s api.ClusterSettings) bool {
	return s.ClusterURL != "" && s.Token != ""
}

// Static serves one fixed client, as the preview mode does. Its fingerprint
// never changes.
type Static struct {
	client      api.PodAPI
	namespace   string
	fingerprint string
}

// NewStatic returns a Source for client. An empty fingerprint becomes
// "static:<namespace>".
func NewStatic(client api.PodAPI, namespace, fingerprint string) *Static {
	if namespace == "" {
		namespace = api.DefaultNamespace
	}
	if fingerprint == "" {
		fingerprint = "static:" + namespace
	}
	return &Static{client: client, namespace: namespace, fingerprint: fingerprint}
}

// ForCard implements Source.
func (s *Static) ForCard(cardID string) podruntime.Resolver {
	return podruntime.ResolverFunc(func(context.Context) (*podruntime.PodContext, error) {
		if cardID == "" {
			return nil, nil
		}
		return &podruntime.PodContext{
			CardID:      cardID,
			Namespace:   s.namespace,
			Fingerprint: s.fingerprint,
			NewClient:   func() (api.PodAPI, error) { return s.client, nil },
		}, nil
	})
}

// Client implements Source.
func (s *Static) Client(context.Context) (api.PodAPI, error) { return s.client, nil }
