// Package preview is an in-memory api.PodAPI for demos and UI work without a
// cluster. It serves a fixed set of pods, randomly changes one of them every
// few seconds while anyone is watching, and streams synthetic logs.
package preview

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"card-agents/internal/api"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

const (
	DefaultCardID         = "PREVIEW"
	DefaultJitterInterval = 4 * time.Second
	DefaultLogInterval    = 250 * time.Millisecond
	DefaultLogLines       = 40

	subscriptionBuffer = 128
)

var jitterPhases = []api.PodPhase{api.PodRunning, api.PodPending, api.PodSucceeded, api.PodFailed}

var _ api.PodAPI = (*Client)(nil)

// Client is the preview PodAPI.
type Client struct {
	cardID    string
	namespace string
	log       logr.Logger
	clock     clock.WithTicker

	jitterEvery time.Duration
	logEvery    time.Duration
	logLines    int

	mu         sync.Mutex
	rand       *rand.Rand
	pods       []api.AgentPod
	subs       map[int]*subscription
	nextID     int
	stopJitter context.CancelFunc
}

type subscription struct {
	cardID   string
	selector fields.Selector
	events   chan api.WatchEvent
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock drives the jitter ticker and log stream from clk.
func WithClock(clk clock.WithTicker) Option {
	return func(c *Client) { c.clock = clk }
}

// WithSeed makes phase jitter deterministic.
func WithSeed(seed int64) Option {
	return func(c *Client) { c.rand = rand.New(rand.NewSource(seed)) }
}

// WithJitterInterval overrides DefaultJitterInterval.
func WithJitterInterval(d time.Duration) Option {
	return func(c *Client) { c.jitterEvery = d }
}

// WithLogStream overrides the synthetic log cadence and length.
func WithLogStream(every time.Duration, lines int) Option {
	return func(c *Client) {
		c.logEvery = every
		c.logLines = lines
	}
}

// New returns a preview client seeded for cardID in namespace.
func New(cardID, namespace string, opts ...Option) *Client {
	if cardID == "" {
		cardID = DefaultCardID
	}
	if namespace == "" {
		namespace = api.DefaultNamespace
	}
	c := &Client{
		cardID:      cardID,
		namespace:   namespace,
		log:         ctrl.Log.WithName("preview"),
		clock:       clock.RealClock{},
		jitterEvery: DefaultJitterInterval,
		logEvery:    DefaultLogInterval,
		logLines:    DefaultLogLines,
		subs:        make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewSource(c.clock.Now().UnixNano()))
	}
	c.pods = seedPods(cardID, namespace, c.clock.Now())
	return c
}

// CardID returns the card the seeded pods belong to.
func (c *Client) CardID() string { return c.cardID }

// ListPods implements api.PodAPI. Every card sees the same preview pods,
// labelled with the requested card.
func (c *Client) ListPods(ctx context.Context, opts api.ListOptions) ([]api.AgentPod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := parseFieldSelector(opts.FieldSelector)
	if err != nil {
		return nil, err
	}
	card := c.targetCard(opts.CardID)

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.AgentPod, 0, len(c.pods))
	for _, pod := range c.pods {
		if sel.Matches(podFields(pod)) {
			out = append(out, forCard(pod, card))
		}
	}
	return out, nil
}

// WatchPods implements api.PodAPI. The subscriber first receives an ADDED
// event per matching pod, then every later change.
func (c *Client) WatchPods(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	sel, err := parseFieldSelector(opts.FieldSelector)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return cancel
	}
	sub := &subscription{
		cardID:   c.targetCard(opts.CardID),
		selector: sel,
		events:   make(chan api.WatchEvent, subscriptionBuffer),
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	for _, pod := range c.pods {
		if sel.Matches(podFields(pod)) {
			sub.events <- api.WatchEvent{Type: watch.Added, Pod: forCard(pod, sub.cardID)}
		}
	}
	c.startJitterLocked()
	c.mu.Unlock()

	go func() {
		defer c.unsubscribe(id)
		if opts.OnConnectionStateChange != nil {
			opts.OnConnectionStateChange(api.StateStreaming)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-sub.events:
				if ctx.Err() != nil {
					return
				}
				handler(evt)
			}
		}
	}()
	return cancel
}

func (c *Client) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	if len(c.subs) == 0 && c.stopJitter != nil {
		c.stopJitter()
		c.stopJitter = nil
	}
}

// StopPod implements api.PodAPI: the pod is removed and watchers receive a
// DELETED event. Unknown pods are ignored.
func (c *Client) StopPod(ctx context.Context, podName string, _ api.StopOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pod := range c.pods {
		if pod.Name != podName {
			continue
		}
		c.pods = append(c.pods[:i:i], c.pods[i+1:]...)
		c.emitLocked(watch.Deleted, pod)
		c.log.V(1).Info("preview pod stopped", "pod", podName)
		return nil
	}
	return nil
}

// StreamLogs implements api.PodAPI with a synthetic, timestamped log that
// ends after the configured number of lines.
func (c *Client) StreamLogs(ctx context.Context, podName string, _ api.LogOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	ticker := c.clock.NewTicker(c.logEvery)

	go func() {
		defer ticker.Stop()
		for n := 1; n <= c.logLines; n++ {
			select {
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			case now := <-ticker.C():
				line := fmt.Sprintf("%s %s: preview log line #%d\n", now.UTC().Format(time.RFC3339Nano), podName, n)
				if _, err := io.WriteString(pw, line); err != nil {
					// Reader closed.
					return
				}
			}
		}
		pw.Close()
	}()
	return pr, nil
}

// startJitterLocked starts the ticker when the first subscriber arrives.
func (c *Client) startJitterLocked() {
	if c.stopJitter != nil || len(c.subs) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopJitter = cancel
	ticker := c.clock.NewTicker(c.jitterEvery)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				c.jitter(ctx)
			}
		}
	}()
}

// jitter moves one random pod to a random phase.
func (c *Client) jitter(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || len(c.pods) == 0 {
		return
	}
	i := c.rand.Intn(len(c.pods))
	pod := clonePod(c.pods[i])
	pod.Phase = jitterPhases[c.rand.Intn(len(jitterPhases))]
	pod.LastEvent = "Heartbeat " + c.clock.Now().Format("15:04:05")
	c.pods[i] = pod
	c.emitLocked(watch.Modified, pod)
}

func (c *Client) emitLocked(typ watch.EventType, pod api.AgentPod) {
	for _, sub := range c.subs {
		if !sub.selector.Matches(podFields(pod)) {
			continue
		}
		evt := api.WatchEvent{Type: typ, Pod: forCard(pod, sub.cardID)}
		select {
		case sub.events <- evt:
		default:
			c.log.Info("preview subscriber is not keeping up, event dropped", "pod", evt.Pod.Name, "type", evt.Type)
		}
	}
}

func (c *Client) targetCard(cardID string) string {
	if cardID == "" {
		return c.cardID
	}
	return cardID
}

func parseFieldSelector(raw string) (fields.Selector, error) {
	if raw == "" {
		return fields.Everything(), nil
	}
	sel, err := fields.ParseSelector(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid field selector %q: %w", raw, err)
	}
	return sel, nil
}

func podFields(pod api.AgentPod) fields.Set {
	return fields.Set{
		"metadata.name":      pod.Name,
		"metadata.namespace": pod.Namespace,
		"status.phase":       string(pod.Phase),
	}
}

func forCard(pod api.AgentPod, cardID string) api.AgentPod {
	pod = clonePod(pod)
	pod.CardID = cardID
	return pod
}
