// Package watchstream consumes a long-lived pod watch: it reads
// newline-delimited {type, object} envelopes in wire order, skips lines it
// cannot decode, and reconnects with capped exponential backoff until the
// caller cancels.
package watchstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"card-agents/internal/api"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

// Opener starts one watch connection and returns its body. The body must be
// closed when ctx is cancelled.
type Opener interface {
	OpenWatch(ctx context.Context, opts api.WatchOptions) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, opts api.WatchOptions) (io.ReadCloser, error)

func (f OpenerFunc) OpenWatch(ctx context.Context, opts api.WatchOptions) (io.ReadCloser, error) {
	return f(ctx, opts)
}

// Consumer drives watch connections opened through an Opener. It is safe for
// concurrent use; every Watch call runs its own connection loop.
type Consumer struct {
	opener       Opener
	log          logr.Logger
	clock        clock.Clock
	maxLineBytes int
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(c *Consumer) { c.log = log }
}

// WithClock replaces the clock used for backoff waits.
func WithClock(clk clock.Clock) Option {
	return func(c *Consumer) { c.clock = clk }
}

// WithMaxLineBytes bounds a single watch line.
func WithMaxLineBytes(n int) Option {
	return func(c *Consumer) { c.maxLineBytes = n }
}

// NewConsumer creates a Consumer reading from opener.
func NewConsumer(opener Opener, opts ...Option) *Consumer {
	c := &Consumer{
		opener:       opener,
		log:          ctrl.Log.WithName("watchstream"),
		clock:        clock.RealClock{},
		maxLineBytes: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch delivers events to handler on a background goroutine until ctx is
// done or stop is called. stop only requests cancellation, so it may be
// called from inside handler; it is safe to call more than once.
func (c *Consumer) Watch(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go c.run(ctx, handler, opts)
	return cancel
}

// Events is the channel form of Watch. The channel is closed once ctx is
// done and the connection loop has exited. A slow receiver holds back
// reading from the wire; events are never dropped or reordered.
func (c *Consumer) Events(ctx context.Context, opts api.WatchOptions) <-chan api.WatchEvent {
	ch := make(chan api.WatchEvent, 64)
	go func() {
		defer close(ch)
		c.run(ctx, func(evt api.WatchEvent) {
			select {
			case ch <- evt:
			case <-ctx.Done():
			}
		}, opts)
	}()
	return ch
}

// run is the connect, stream, back off loop. It returns only on cancellation.
func (c *Consumer) run(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) {
	log := c.log.WithValues("card", opts.CardID, "namespace", opts.Namespace, "fieldSelector", opts.FieldSelector)
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		notifyState(opts, api.StateConnecting)
		start := c.clock.Now()
		delivered, err := c.stream(ctx, handler, opts)
		if ctx.Err() != nil {
			log.V(1).Info("watch stopped", "reason", context.Cause(ctx))
			return
		}

		if err != nil {
			log.Info("watch stream failed", "error", err.Error(), "delivered", delivered)
			notifyState(opts, api.StateError)
			if opts.OnError != nil {
				opts.OnError(err)
			}
		} else {
			log.V(1).Info("watch stream closed by server", "delivered", delivered)
		}

		// Only a connection that carried events or stayed up past the
		// backoff ceiling starts a fresh failure run.
		if delivered > 0 || c.clock.Since(start) >= MaxBackoff {
			attempt = 0
		}
		attempt++
		reconnectsTotal.Inc()
		if opts.OnReconnect != nil {
			opts.OnReconnect(attempt)
		}

		delay := Delay(opts.Backoff, attempt)
		log.V(1).Info("reconnecting watch", "attempt", attempt, "backoff", delay.String())
		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// stream runs a single connection and reports how many events it handed
// to handler. A nil error means the server ended the stream cleanly.
func (c *Consumer) stream(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) (delivered int, err error) {
	body, err := c.opener.OpenWatch(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	notifyState(opts, api.StateStreaming)

	r := bufio.NewReaderSize(body, 64*1024)
	for {
		line, readErr := readLine(r, c.maxLineBytes)
		if errors.Is(readErr, errLineTooLong) {
			decodeErrorsTotal.Inc()
			c.log.Info("skipping oversized watch line", "maxBytes", c.maxLineBytes)
			continue
		}
		if len(line) > 0 && ctx.Err() == nil {
			ok, err := c.deliver(line, handler)
			if err != nil {
				return delivered, err
			}
			if ok {
				delivered++
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return delivered, nil
			}
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, fmt.Errorf("reading watch stream: %w", readErr)
		}
	}
}

// deliver decodes one line and hands it to handler, reporting whether an
// event was delivered. Only server ERROR envelopes end the connection;
// anything else undecodable is skipped.
func (c *Consumer) deliver(line []byte, handler api.WatchHandler) (bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, nil
	}

	evt, err := decodeEvent(line)
	if err != nil {
		var statusErr *StatusError
		switch {
		case errors.Is(err, errSkip):
			return false, nil
		case errors.As(err, &statusErr):
			return false, statusErr
		default:
			decodeErrorsTotal.Inc()
			c.log.Info("skipping invalid watch line", "error", err.Error(), "line", truncate(line, 256))
			return false, nil
		}
	}

	eventsTotal.WithLabelValues(string(evt.Type)).Inc()
	handler(evt)
	return true, nil
}

func notifyState(opts api.WatchOptions, state api.ConnectionState) {
	if opts.OnConnectionStateChange != nil {
		opts.OnConnectionStateChange(state)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
