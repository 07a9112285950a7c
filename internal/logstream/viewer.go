package logstream

import (
	"context"
	"sync"

	"card-agents/internal/api"

	"k8s.io/utils/clock"
)

// MaxHeldLines bounds the lines a detached viewer holds; older held lines
// are dropped first.
const MaxHeldLines = int(DefaultTailLines)

// Viewer shows at most one pod's log at a time. Lines arriving while the
// view is detached are held, up to MaxHeldLines, and flushed on Resume.
type Viewer struct {
	client api.PodAPI
	sink   Sink
	opts   []Option
	follow *Follow

	mu      sync.Mutex
	session *Session
	gen     uint64
	pending []string
	maxHeld int
	dropped int
}

// NewViewer creates a viewer writing to sink. clk drives the follow grace
// window; nil uses the real clock.
func NewViewer(client api.PodAPI, sink Sink, clk clock.PassiveClock, opts ...Option) *Viewer {
	return &Viewer{
		client:  client,
		sink:    sink,
		opts:    opts,
		follow:  NewFollow(clk),
		maxHeld: MaxHeldLines,
	}
}

// SetPod switches the viewer to pod. The previous session is cancelled and
// has exited before the new one starts; a nil pod only cancels.
func (v *Viewer) SetPod(ctx context.Context, pod *api.AgentPod) *Session {
	v.mu.Lock()
	prev := v.session
	v.session = nil
	v.gen++
	gen := v.gen
	v.pending = nil
	v.dropped = 0
	v.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		<-prev.Done()
	}
	v.follow.Reset()
	if pod == nil {
		return nil
	}

	s := Open(ctx, v.client, *pod, func(lines []string) { v.append(gen, lines) }, v.opts...)

	v.mu.Lock()
	if v.gen != gen {
		// A concurrent SetPod superseded this one.
		v.mu.Unlock()
		s.Cancel()
		return nil
	}
	v.session = s
	v.mu.Unlock()
	return s
}

// append runs the sink under v.mu so held and live lines never interleave.
func (v *Viewer) append(gen uint64, lines []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	if !v.follow.Following() {
		v.pending = append(v.pending, lines...)
		if over := len(v.pending) - v.maxHeld; over > 0 {
			v.dropped += over
			v.pending = v.pending[over:]
		}
		return
	}
	v.sink(lines)
}

// Session returns the active session, or nil.
func (v *Viewer) Session() *Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// Following reports whether new lines are shown immediately.
func (v *Viewer) Following() bool { return v.follow.Following() }

// Scroll feeds a scroll report from the host view.
func (v *Viewer) Scroll(scrollTop, scrollHeight, clientHeight float64) bool {
	return v.follow.OnScroll(scrollTop, scrollHeight, clientHeight)
}

// Detach holds new lines until Resume.
func (v *Viewer) Detach() { v.follow.Detach() }

// Resume re-attaches and flushes held lines in order.
func (v *Viewer) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.follow.Resume()
	if len(v.pending) > 0 {
		v.sink(v.pending)
		v.pending = nil
	}
}

// Pending returns how many lines are held while detached.
func (v *Viewer) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Dropped returns how many held lines were discarded for the current pod
// because the viewer stayed detached past MaxHeldLines.
func (v *Viewer) Dropped() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropped
}

// Close cancels the active session and waits for it to exit.
func (v *Viewer) Close() {
	v.SetPod(context.Background(), nil)
}
