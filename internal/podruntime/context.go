package podruntime

import (
	"context"

	"card-agents/internal/api"
)

// PodContext is everything needed to watch one card's pods.
type PodContext struct {
	CardID    string
	Namespace string
	// Fingerprint changes whenever the cluster URL, namespace or credentials
	// change; a changed fingerprint rotates the card's watcher.
	Fingerprint string
	// NewClient is only called when a new watcher is created for the card.
	NewClient func() (api.PodAPI, error)
}

// Resolver supplies the current PodContext. A nil context with a nil error
// means the board is not configured yet.
type Resolver interface {
	Resolve(ctx context.Context) (*PodContext, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (*PodContext, error)

func (f ResolverFunc) Resolve(ctx context.Context) (*PodContext, error) { return f(ctx) }
