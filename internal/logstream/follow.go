package logstream

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	// NearBottomThreshold is how close to the bottom, in pixels, still counts
	// as following.
	NearBottomThreshold = 8
	// ResumeGrace is how long scroll reports are ignored after Resume, so the
	// programmatic scroll to the bottom does not immediately detach again.
	ResumeGrace = 150 * time.Millisecond
)

// Follow tracks whether a log view sticks to the newest line. It starts
// following; a user scroll away from the bottom detaches it and only Resume
// re-attaches it.
type Follow struct {
	clock     clock.PassiveClock
	threshold float64
	grace     time.Duration

	mu          sync.Mutex
	following   bool
	ignoreUntil time.Time
}

// NewFollow returns a following state machine. A nil clock uses the real clock.
func NewFollow(clk clock.PassiveClock) *Follow {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Follow{
		clock:     clk,
		threshold: NearBottomThreshold,
		grace:     ResumeGrace,
		following: true,
	}
}

// Following reports the current state.
func (f *Follow) Following() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.following
}

// OnScroll feeds one scroll report and returns the resulting state. Reports
// inside the resume grace window are ignored.
func (f *Follow) OnScroll(scrollTop, scrollHeight, clientHeight float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clock.Now().Before(f.ignoreUntil) {
		return f.following
	}
	distance := scrollHeight - scrollTop - clientHeight
	if f.following && distance > f.threshold {
		f.following = false
	}
	return f.following
}

// Detach stops following, as when the user pauses explicitly.
func (f *Follow) Detach() {
	f.mu.Lock()
	f.following = false
	f.mu.Unlock()
}

// Resume re-attaches and opens the grace window. The caller performs the
// single scroll to the bottom.
func (f *Follow) Resume() {
	f.mu.Lock()
	f.following = true
	f.ignoreUntil = f.clock.Now().Add(f.grace)
	f.mu.Unlock()
}

// Reset returns to the initial following state, used when the pod changes.
func (f *Follow) Reset() {
	f.mu.Lock()
	f.following = true
	f.ignoreUntil = time.Time{}
	f.mu.Unlock()
}
