package watchstream

import "time"

const (
	// DefaultBackoff is the base reconnect delay when WatchOptions.Backoff is zero.
	DefaultBackoff = 750 * time.Millisecond
	// MaxBackoff caps every reconnect delay.
	MaxBackoff = 30 * time.Second
)

// Delay returns the wait before reconnect attempt n (1-based):
// min(MaxBackoff, base * 2^(n-1)).
func Delay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= MaxBackoff {
			break
		}
		d *= 2
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
