// Package logstream tails one pod's log. A session waits for a pending pod
// to start before connecting, splits the chunked stream into lines, strips
// the timestamp prefix and hands lines to a sink in order.
package logstream

import (
	"context"
	"errors"
	"io"
	"sync"

	"card-agents/internal/api"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/fields"
	ctrl "sigs.k8s.io/controller-runtime"
)

// DefaultTailLines is how much history a session requests.
const DefaultTailLines int64 = 10000

// Status is the state of a Session.
type Status string

const (
	StatusIdle Status = "idle"
	// StatusWaiting means the pod is Pending or Unknown and the session is
	// watching it until it starts.
	StatusWaiting    Status = "waiting"
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	// StatusEnded means the server closed the stream, typically because the
	// container exited.
	StatusEnded Status = "ended"
	StatusError Status = "error"
)

// Sink receives complete lines in stream order.
type Sink func(lines []string)

// CanStream reports whether the log endpoint can serve a pod in phase.
func CanStream(phase api.PodPhase) bool {
	return phase != api.PodPending && phase != api.PodUnknown
}

type options struct {
	tailLines     int64
	log           logr.Logger
	bufferSize    int
	onStatus      func(Status)
	keepTimestamp bool
}

// Option configures a Session.
type Option func(*options)

// WithTailLines overrides DefaultTailLines. Zero or less requests the full log.
func WithTailLines(n int64) Option {
	return func(o *options) { o.tailLines = n }
}

// WithLogger sets the session logger.
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStatusHook is called on every status change.
func WithStatusHook(fn func(Status)) Option {
	return func(o *options) { o.onStatus = fn }
}

// WithTimestamps keeps the timestamp prefix on each line.
func WithTimestamps() Option {
	return func(o *options) { o.keepTimestamp = true }
}

// Session is one log tail. Its goroutine exits on Cancel, on parent context
// cancellation, or when the stream ends.
type Session struct {
	client api.PodAPI
	pod    api.AgentPod
	sink   Sink
	opts   options

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	status Status
	err    error
	lines  int
}

// Open starts tailing pod. Cancelling ctx or calling Cancel stops the
// stream and any phase watch; cancellation is never reported as an error.
func Open(ctx context.Context, client api.PodAPI, pod api.AgentPod, sink Sink, opts ...Option) *Session {
	o := options{
		tailLines:  DefaultTailLines,
		log:        ctrl.Log.WithName("logstream"),
		bufferSize: 32 * 1024,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.WithValues("pod", pod.Name, "namespace", pod.Namespace)

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		client: client,
		pod:    pod,
		sink:   sink,
		opts:   o,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusIdle,
	}
	go s.run(ctx)
	return s
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if !CanStream(s.pod.Phase) {
		if !s.waitForStart(ctx) {
			return
		}
	}
	s.stream(ctx)
}

// waitForStart watches the single pod until it leaves Pending/Unknown. The
// watch is stopped before returning. It reports false on cancellation.
func (s *Session) waitForStart(ctx context.Context) bool {
	s.setStatus(StatusWaiting)
	s.opts.log.V(1).Info("waiting for pod to start", "phase", s.pod.Phase)

	started := make(chan struct{})
	var once sync.Once
	stop := s.client.WatchPods(ctx, func(evt api.WatchEvent) {
		if evt.Pod.Name != s.pod.Name {
			return
		}
		if CanStream(evt.Pod.Phase) {
			once.Do(func() { close(started) })
		}
	}, api.WatchOptions{
		Namespace:     s.pod.Namespace,
		FieldSelector: fields.OneTermEqualSelector("metadata.name", s.pod.Name).String(),
		OnError: func(err error) {
			if ctx.Err() == nil {
				s.fail(err)
			}
		},
	})
	defer stop()

	select {
	case <-ctx.Done():
		return false
	case <-started:
		return true
	}
}

func (s *Session) stream(ctx context.Context) {
	s.setStatus(StatusConnecting)

	logOpts := api.LogOptions{Namespace: s.pod.Namespace, Container: s.pod.PrimaryContainer()}
	if s.opts.tailLines > 0 {
		tail := s.opts.tailLines
		logOpts.TailLines = &tail
	}
	rc, err := s.client.StreamLogs(ctx, s.pod.Name, logOpts)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(err)
		}
		return
	}
	defer rc.Close()
	// Unblock a pending Read as soon as the session is cancelled.
	stopClose := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stopClose()

	logStreamsActive.Inc()
	defer logStreamsActive.Dec()
	s.setStatus(StatusStreaming)

	var splitter LineSplitter
	buf := make([]byte, s.opts.bufferSize)
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			s.deliver(ctx, splitter.Write(buf[:n]))
		}
		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(readErr, io.EOF) {
			s.deliver(ctx, splitter.Flush())
			s.setStatus(StatusEnded)
			s.opts.log.V(1).Info("log stream ended", "lines", s.LineCount())
			return
		}
		s.fail(readErr)
		return
	}
}

func (s *Session) deliver(ctx context.Context, lines []string) {
	if len(lines) == 0 || ctx.Err() != nil {
		return
	}
	if !s.opts.keepTimestamp {
		for i, line := range lines {
			lines[i] = StripTimestamp(line)
		}
	}
	s.mu.Lock()
	s.lines += len(lines)
	s.mu.Unlock()
	if s.sink != nil {
		s.sink(lines)
	}
}

// setStatus records status. Reaching connecting or streaming clears an
// error left by the phase watch.
func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	if status == StatusConnecting || status == StatusStreaming {
		s.err = nil
	}
	s.mu.Unlock()
	if s.opts.onStatus != nil {
		s.opts.onStatus(status)
	}
}

func (s *Session) fail(err error) {
	s.opts.log.Info("log stream failed", "error", err.Error())
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setStatus(StatusError)
}

// Pod returns the pod being tailed.
func (s *Session) Pod() api.AgentPod { return s.pod }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the last stream error.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// LineCount returns the number of lines delivered so far.
func (s *Session) LineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines
}

// Cancel stops the session. It does not wait; see Done.
func (s *Session) Cancel() { s.cancel() }

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }
