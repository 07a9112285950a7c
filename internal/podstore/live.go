package podstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"card-agents/internal/api"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

// LiveStatus is the state of a Live view.
type LiveStatus string

const (
	LiveIdle       LiveStatus = "idle"
	LiveLoading    LiveStatus = "loading"
	LiveConnecting LiveStatus = "connecting"
	LiveStreaming  LiveStatus = "streaming"
	LiveError      LiveStatus = "error"
)

// Snapshot is a consistent copy of a Live view.
type Snapshot struct {
	Pods              []api.AgentPod
	Groups            []api.PodGroup
	Status            LiveStatus
	Err               error
	ReconnectAttempts int
	LastEventAt       time.Time
}

// Live keeps a Store in sync with one card's pods: it lists once, then
// applies watch events until stopped. It backs the card-back pod list.
type Live struct {
	client    api.PodAPI
	cardID    string
	namespace string
	log       logr.Logger
	clock     clock.PassiveClock
	onChange  func(Snapshot)

	mu          sync.RWMutex
	store       *Store
	status      LiveStatus
	err         error
	reconnects  int
	lastEventAt time.Time
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}
	startOnce   sync.Once
}

// LiveOption configures a Live view.
type LiveOption func(*Live)

// WithLiveLogger sets the view's logger.
func WithLiveLogger(log logr.Logger) LiveOption {
	return func(l *Live) { l.log = log }
}

// WithLiveClock sets the clock used for LastEventAt.
func WithLiveClock(clk clock.PassiveClock) LiveOption {
	return func(l *Live) { l.clock = clk }
}

// WithOnChange registers a callback invoked after every state change. It
// runs on the view's goroutine and must not call Stop.
func WithOnChange(fn func(Snapshot)) LiveOption {
	return func(l *Live) { l.onChange = fn }
}

// NewLive creates an idle view. A nil client or empty card id keeps it idle.
func NewLive(client api.PodAPI, cardID, namespace string, opts ...LiveOption) *Live {
	l := &Live{
		client:    client,
		cardID:    cardID,
		namespace: namespace,
		log:       ctrl.Log.WithName("live-pods"),
		clock:     clock.RealClock{},
		store:     New(),
		status:    LiveIdle,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start lists the card's pods and then watches them until ctx is done or
// Stop is called. It returns immediately; later calls are no-ops.
func (l *Live) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		if l.client == nil || l.cardID == "" {
			close(l.done)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		l.cancel = cancel
		l.status = LiveLoading
		l.mu.Unlock()

		go l.run(ctx)
	})
}

func (l *Live) run(ctx context.Context) {
	defer close(l.done)
	log := l.log.WithValues("card", l.cardID, "namespace", l.namespace)

	pods, err := l.client.ListPods(ctx, api.ListOptions{CardID: l.cardID, Namespace: l.namespace})
	if ctx.Err() != nil {
		return
	}
	l.update(func() {
		if err != nil {
			log.Info("listing pods failed", "error", err.Error())
			l.err = err
			l.status = LiveError
			return
		}
		l.store.Reset(pods)
	})

	stop := l.client.WatchPods(ctx, func(evt api.WatchEvent) {
		l.update(func() {
			l.status = LiveStreaming
			l.lastEventAt = l.clock.Now()
			if evt.Type == watch.Deleted {
				l.store.Remove(evt.Pod.ID)
				return
			}
			l.store.Upsert(evt.Pod)
		})
	}, api.WatchOptions{
		CardID:    l.cardID,
		Namespace: l.namespace,
		OnConnectionStateChange: func(state api.ConnectionState) {
			l.update(func() { l.status = LiveStatus(state) })
		},
		OnReconnect: func(attempt int) {
			l.update(func() { l.reconnects = attempt })
		},
		OnError: func(err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.update(func() {
				l.err = err
				l.status = LiveError
			})
		},
	})
	<-ctx.Done()
	stop()
}

// update applies fn under the lock unless the view was stopped, then
// notifies onChange outside the lock.
func (l *Live) update(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	fn()
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange(l.Snapshot())
	}
}

// Snapshot returns a copy of the current state.
func (l *Live) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pods := l.store.Pods()
	return Snapshot{
		Pods:              pods,
		Groups:            Group(pods),
		Status:            l.status,
		Err:               l.err,
		ReconnectAttempts: l.reconnects,
		LastEventAt:       l.lastEventAt,
	}
}

// Upsert applies a local change, e.g. an optimistic update after an action.
func (l *Live) Upsert(pod api.AgentPod) {
	l.update(func() { l.store.Upsert(pod) })
}

// Remove drops a pod locally, e.g. right after it was stopped.
func (l *Live) Remove(podID string) {
	l.update(func() { l.store.Remove(podID) })
}

// Reset replaces the local contents.
func (l *Live) Reset(pods []api.AgentPod) {
	l.update(func() { l.store.Reset(pods) })
}

// Stop cancels the list and watch. No state changes are applied after Stop
// returns. It is safe to call more than once.
func (l *Live) Stop() {
	l.mu.Lock()
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the view's goroutine has exited.
func (l *Live) Done() <-chan struct{} { return l.done }
