// Package podruntime shares one pod watcher per card between every consumer
// (badges, card-back list, CLI status) and evicts watchers nobody touched
// within the staleness window.
package podruntime

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

// DefaultStaleAfter is how long a watcher may go untouched before the sweep
// disposes it. It is also the sweep interval.
const DefaultStaleAfter = 2 * time.Minute

// Lock ordering: r.mu before w.mu. Watchers never call back into the registry.

// Registry holds at most one live Watcher per card id.
type Registry struct {
	log        logr.Logger
	clock      clock.Clock
	staleAfter time.Duration

	mu       sync.Mutex
	watchers map[string]*Watcher
	sweeping bool
	closed   bool
	closing  chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithClock sets the clock driving access times and the sweep timer.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) { r.clock = clk }
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// NewRegistry creates an empty registry. The sweep starts with the first watcher.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:        ctrl.Log.WithName("pod-runtime"),
		clock:      clock.RealClock{},
		staleAfter: DefaultStaleAfter,
		watchers:   make(map[string]*Watcher),
		closing:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ensure returns the card's watcher, creating it when none exists, when the
// fingerprint changed, or when the previous one failed to bootstrap. The
// replaced watcher is disposed first. A nil context, or a closed registry,
// yields nil.
func (r *Registry) Ensure(pc *PodContext) *Watcher {
	if pc == nil || pc.CardID == "" || pc.NewClient == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	w := r.watchers[pc.CardID]
	if w == nil || w.fingerprint != pc.Fingerprint || w.Status() == StatusError {
		if w != nil {
			r.log.Info("replacing pod watcher", "card", pc.CardID,
				"fingerprintChanged", w.fingerprint != pc.Fingerprint, "status", w.Status())
			w.Dispose()
		}
		w = newWatcher(pc, r.log, r.clock)
		r.watchers[pc.CardID] = w
		runningWatchers.Set(float64(len(r.watchers)))
		w.start()
	}

	w.Touch()
	r.scheduleSweepLocked()
	return w
}

// EnsureFor resolves the current context and ensures its watcher. A nil
// watcher with a nil error means not configured.
func (r *Registry) EnsureFor(ctx context.Context, resolver Resolver) (*Watcher, error) {
	pc, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, nil
	}
	return r.Ensure(pc), nil
}

// Warm ensures the watcher and waits for its first snapshot. Failures are
// only logged: the next Ensure recreates a failed watcher anyway.
func (r *Registry) Warm(ctx context.Context, resolver Resolver) {
	w, err := r.EnsureFor(ctx, resolver)
	if err != nil {
		r.log.V(1).Info("warm watcher failed", "error", err.Error())
		return
	}
	if w == nil {
		return
	}
	if err := w.Wait(ctx); err != nil {
		r.log.V(1).Info("warm watcher failed", "card", w.CardID(), "error", err.Error())
	}
}

// Get returns the card's current watcher without touching it.
func (r *Registry) Get(cardID string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[cardID]
	return w, ok
}

// Len returns the number of held watchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Dispose stops and removes the card's watcher.
func (r *Registry) Dispose(cardID string) {
	r.mu.Lock()
	w, ok := r.watchers[cardID]
	if ok {
		delete(r.watchers, cardID)
		runningWatchers.Set(float64(len(r.watchers)))
	}
	r.mu.Unlock()

	if ok {
		w.Dispose()
	}
}

// Close disposes every watcher and stops the sweep. Later Ensure calls return nil.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	watchers := r.watchers
	r.watchers = make(map[string]*Watcher)
	close(r.closing)
	runningWatchers.Set(0)
	r.mu.Unlock()

	for _, w := range watchers {
		w.Dispose()
	}
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// scheduleSweepLocked starts the sweep loop unless it is already running.
func (r *Registry) scheduleSweepLocked() {
	if r.sweeping {
		return
	}
	r.sweeping = true
	go r.sweepLoop()
}

// sweepLoop sweeps once per staleness window and exits when the registry is
// empty or closed.
func (r *Registry) sweepLoop() {
	for {
		timer := r.clock.NewTimer(r.staleAfter)
		select {
		case <-r.closing:
			timer.Stop()
			return
		case <-timer.C():
		}
		if !r.sweep() {
			return
		}
	}
}

// sweep disposes watchers untouched for longer than the window. It reports
// whether any watchers remain; when none do the loop stops and the next
// Ensure restarts it.
func (r *Registry) sweep() bool {
	now := r.clock.Now()

	r.mu.Lock()
	var stale []*Watcher
	for cardID, w := range r.watchers {
		if now.Sub(w.LastAccess()) > r.staleAfter {
			stale = append(stale, w)
			delete(r.watchers, cardID)
		}
	}
	remaining := len(r.watchers)
	runningWatchers.Set(float64(remaining))
	if remaining == 0 || r.closed {
		r.sweeping = false
	}
	r.mu.Unlock()

	for _, w := range stale {
		watcherEvictions.Inc()
		r.log.V(1).Info("evicted stale pod watcher", "card", w.CardID())
		w.Dispose()
	}
	return remaining > 0
}
