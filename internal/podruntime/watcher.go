package podruntime

import (
	"context"
	"errors"
	"sync"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/podstore"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"
)

// ErrDisposed is returned by Wait when the watcher was disposed before its
// first snapshot loaded.
var ErrDisposed = errors.New("pod watcher disposed")

// Status is the bootstrap state of a Watcher.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Watcher is one shared subscription to a card's pods. It lists once to seed
// its store and counters, then applies watch events. Counters change by at
// most one per event.
type Watcher struct {
	cardID      string
	namespace   string
	fingerprint string
	client      api.PodAPI
	log         logr.Logger
	clock       clock.PassiveClock

	mu         sync.RWMutex
	status     Status
	store      *podstore.Store
	running    int
	err        error
	lastAccess time.Time
	disposed   bool
	stopWatch  func()

	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
}

// newWatcher builds the card's client. A client that cannot be built leaves
// the watcher in StatusError so the next Ensure retries.
func newWatcher(pc *PodContext, log logr.Logger, clk clock.PassiveClock) *Watcher {
	w := &Watcher{
		cardID:      pc.CardID,
		namespace:   pc.Namespace,
		fingerprint: pc.Fingerprint,
		log:         log.WithValues("card", pc.CardID, "namespace", pc.Namespace),
		clock:       clk,
		status:      StatusInitializing,
		store:       podstore.New(),
		lastAccess:  clk.Now(),
		ready:       make(chan struct{}),
	}
	client, err := pc.NewClient()
	if err != nil {
		w.status = StatusError
		w.err = err
		w.log.Error(err, "building pod watcher client failed")
		return w
	}
	w.client = client
	return w
}

// start runs the bootstrap on its own goroutine.
func (w *Watcher) start() {
	if w.client == nil {
		w.markReady()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	go w.bootstrap(ctx)
}

func (w *Watcher) bootstrap(ctx context.Context) {
	defer w.markReady()

	pods, err := w.client.ListPods(ctx, api.ListOptions{CardID: w.cardID, Namespace: w.namespace})

	w.mu.Lock()
	if w.disposed {
		w.err = ErrDisposed
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.status = StatusError
		w.err = err
		w.mu.Unlock()
		w.log.Error(err, "pod watcher bootstrap failed")
		return
	}
	w.store.Reset(pods)
	w.running = countRunning(pods)
	w.status = StatusReady
	w.mu.Unlock()
	w.log.V(1).Info("pod watcher ready", "running", w.Count(), "total", len(pods))

	stop := w.client.WatchPods(ctx, w.apply, api.WatchOptions{
		CardID:    w.cardID,
		Namespace: w.namespace,
		OnError: func(err error) {
			w.log.Info("pod watch error", "error", err.Error())
		},
	})

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		stop()
		return
	}
	w.stopWatch = stop
	w.mu.Unlock()
}

func (w *Watcher) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// apply folds one watch event into the store and counters.
func (w *Watcher) apply(evt api.WatchEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}

	if evt.Type == watch.Deleted {
		if prev, ok := w.store.Remove(evt.Pod.ID); ok && prev.Phase == api.PodRunning {
			w.running = max(0, w.running-1)
		}
		return
	}

	prev, existed := w.store.Upsert(evt.Pod)
	delta := 0
	if existed && prev.Phase == api.PodRunning {
		delta--
	}
	if evt.Pod.Phase == api.PodRunning {
		delta++
	}
	w.running = max(0, w.running+delta)
	w.status = StatusReady
}

func countRunning(pods []api.AgentPod) int {
	n := 0
	for _, pod := range pods {
		if pod.Phase == api.PodRunning {
			n++
		}
	}
	return n
}

// CardID returns the card the watcher serves.
func (w *Watcher) CardID() string { return w.cardID }

// Fingerprint returns the credential fingerprint the watcher was built with.
func (w *Watcher) Fingerprint() string { return w.fingerprint }

// Client returns the API client the watcher reads from.
func (w *Watcher) Client() api.PodAPI { return w.client }

// Status returns the bootstrap state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Count returns the number of Running pods.
func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Total returns the number of known pods in any phase.
func (w *Watcher) Total() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Len()
}

// Err returns the bootstrap error, if any.
func (w *Watcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Pods returns the known pods sorted by name.
func (w *Watcher) Pods() []api.AgentPod {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Pods()
}

// Groups returns the known pods grouped by phase.
func (w *Watcher) Groups() []api.PodGroup {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Groups()
}

// Ready is closed once bootstrap finished, successfully or not.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Wait blocks until bootstrap finished and returns its error. Every caller
// observes the same error.
func (w *Watcher) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ready:
		return w.Err()
	}
}

// Touch records an access, postponing eviction.
func (w *Watcher) Touch() {
	w.mu.Lock()
	w.lastAccess = w.clock.Now()
	w.mu.Unlock()
}

// LastAccess returns the time of the last Touch.
func (w *Watcher) LastAccess() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastAccess
}

// Disposed reports whether Dispose was called.
func (w *Watcher) Disposed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.disposed
}

// Dispose stops the watch stream and any pending reconnect. It is idempotent.
func (w *Watcher) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	cancel, stop := w.cancel, w.stopWatch
	w.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
}
