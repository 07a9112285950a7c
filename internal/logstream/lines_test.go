package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"
)

func TestStripTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-03-01T10:00:00Z hello", "hello"},
		{"2026-03-01T10:00:00.123456789Z  spaced", "spaced"},
		{"2026-03-01T10:00:00+02:00 offset", "offset"},
		{"2026-03-01T10:00:00-05:30\tTabbed", "Tabbed"},
		{"  \t2026-03-01T10:00:00Z leading", "leading"},
		{"no timestamp here", "no timestamp here"},
		{"2026-03-01 10:00:00 not rfc3339", "2026-03-01 10:00:00 not rfc3339"},
		{"text 2026-03-01T10:00:00Z middle", "text 2026-03-01T10:00:00Z middle"},
		{"2026-03-01T10:00:00Z", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripTimestamp(tt.in), "input %q", tt.in)
	}
}

func TestLineSplitter(t *testing.T) {
	var s LineSplitter

	assert.Nil(t, s.Write([]byte("par")))
	assert.Equal(t, []string{"partial", "next"}, s.Write([]byte("tial\nnext\n")))
	assert.Equal(t, []string{"a", "b"}, s.Write([]byte("a\n\n\nb\r\nc")), "empty segments dropped, CR trimmed")
	assert.Equal(t, []string{"c"}, s.Flush())
	assert.Nil(t, s.Flush())
}

func TestLineSplitter_MultiByteAcrossChunks(t *testing.T) {
	var s LineSplitter
	text := []byte("héllo wörld ✓\n")
	// Split inside the three-byte check mark.
	cut := len(text) - 3

	assert.Nil(t, s.Write(text[:cut]))
	assert.Equal(t, []string{"héllo wörld ✓"}, s.Write(text[cut:]))
}

// ============================================================================
// Follow state machine
// ============================================================================

func TestFollow(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := NewFollow(clk)
	assert.True(t, f.Following())

	// Within the threshold of the bottom keeps following.
	assert.True(t, f.OnScroll(992, 1500, 500))

	// A user scroll away detaches.
	assert.False(t, f.OnScroll(600, 1500, 500))

	// Scrolling back to the bottom does not re-attach on its own.
	assert.False(t, f.OnScroll(1000, 1500, 500))

	f.Resume()
	assert.True(t, f.Following())

	// The programmatic scroll right after resume is ignored even if the
	// content grew meanwhile.
	clk.SetTime(clk.Now().Add(100 * time.Millisecond))
	assert.True(t, f.OnScroll(200, 1500, 500))

	// After the grace window user scrolls count again.
	clk.SetTime(clk.Now().Add(60 * time.Millisecond))
	assert.False(t, f.OnScroll(200, 1500, 500))

	f.Reset()
	assert.True(t, f.Following())
	f.Detach()
	assert.False(t, f.Following())
}
