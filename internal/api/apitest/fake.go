// Package apitest provides a scriptable api.PodAPI for tests.
package apitest

import (
	"context"
	"io"
	"strings"
	"sync"

	"card-agents/internal/api"
)

var _ api.PodAPI = (*FakePodAPI)(nil)

// FakePodAPI records calls and lets tests drive watch streams by hand.
type FakePodAPI struct {
	ListFunc func(ctx context.Context, opts api.ListOptions) ([]api.AgentPod, error)
	// ListResult and ListErr are used when ListFunc is nil.
	ListResult []api.AgentPod
	ListErr    error

	StopFunc func(ctx context.Context, name string, opts api.StopOptions) error
	LogsFunc func(ctx context.Context, name string, opts api.LogOptions) (io.ReadCloser, error)

	mu        sync.Mutex
	listCalls []api.ListOptions
	stopCalls []string
	logCalls  []LogCall
	watches   []*FakeWatch
	watchCh   chan *FakeWatch
}

// LogCall is one recorded StreamLogs call.
type LogCall struct {
	Name string
	Opts api.LogOptions
}

// ListPods implements api.PodAPI.
func (f *FakePodAPI) ListPods(ctx context.Context, opts api.ListOptions) ([]api.AgentPod, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, opts)
	fn, result, err := f.ListFunc, f.ListResult, f.ListErr
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	return append([]api.AgentPod(nil), result...), nil
}

// WatchPods implements api.PodAPI. Events are only delivered through the
// returned FakeWatch.
func (f *FakePodAPI) WatchPods(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	w := &FakeWatch{Opts: opts, ctx: ctx, cancel: cancel, handler: handler}

	f.mu.Lock()
	f.watches = append(f.watches, w)
	ch := f.watchCh
	f.mu.Unlock()

	if ch != nil {
		select {
		case ch <- w:
		default:
		}
	}
	return cancel
}

// StopPod implements api.PodAPI.
func (f *FakePodAPI) StopPod(ctx context.Context, name string, opts api.StopOptions) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, name)
	fn := f.StopFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, opts)
	}
	return nil
}

// StreamLogs implements api.PodAPI. Without LogsFunc it returns an empty stream.
func (f *FakePodAPI) StreamLogs(ctx context.Context, name string, opts api.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.logCalls = append(f.logCalls, LogCall{Name: name, Opts: opts})
	fn := f.LogsFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, opts)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// NotifyWatches returns a channel receiving every watch opened after the call.
func (f *FakePodAPI) NotifyWatches() <-chan *FakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCh = make(chan *FakeWatch, 16)
	return f.watchCh
}

// ListCalls returns the recorded ListPods options.
func (f *FakePodAPI) ListCalls() []api.ListOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ListOptions(nil), f.listCalls...)
}

// StopCalls returns the recorded StopPod names.
func (f *FakePodAPI) StopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopCalls...)
}

// LogCalls returns the recorded StreamLogs calls.
func (f *FakePodAPI) LogCalls() []LogCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogCall(nil), f.logCalls...)
}

// Watches returns every watch opened so far.
func (f *FakePodAPI) Watches() []*FakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeWatch(nil), f.watches...)
}

// LastWatch returns the most recent watch, or nil.
func (f *FakePodAPI) LastWatch() *FakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.watches) == 0 {
		return nil
	}
	return f.watches[len(f.watches)-1]
}

// FakeWatch is one WatchPods call.
type FakeWatch struct {
	Opts    api.WatchOptions
	ctx     context.Context
	cancel  context.CancelFunc
	handler api.WatchHandler
}

// Emit delivers evt synchronously unless the watch was stopped.
func (w *FakeWatch) Emit(evt api.WatchEvent) {
	if w.Stopped() {
		return
	}
	w.handler(evt)
}

// SetState reports a connection state change.
func (w *FakeWatch) SetState(state api.ConnectionState) {
	if w.Opts.OnConnectionStateChange != nil && !w.Stopped() {
		w.Opts.OnConnectionStateChange(state)
	}
}

// Fail reports a failed attempt followed by reconnect attempt n.
func (w *FakeWatch) Fail(err error, attempt int) {
	if w.Stopped() {
		return
	}
	if w.Opts.OnError != nil {
		w.Opts.OnError(err)
	}
	if w.Opts.OnReconnect != nil {
		w.Opts.OnReconnect(attempt)
	}
}

// Stopped reports whether stop was called or the watch context ended.
func (w *FakeWatch) Stopped() bool { return w.ctx.Err() != nil }

// Done is closed when the watch is stopped.
func (w *FakeWatch) Done() <-chan struct{} { return w.ctx.Done() }
