// Package cluster is the HTTP transport to the cluster API. Client implements
// api.PodAPI: it lists, watches, streams logs for and stops agent pods.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/podmapper"
	"card-agents/internal/watchstream"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

const (
	acceptJSON = "application/json"
	// Some clusters reject a specific Accept header on the log endpoint.
	acceptAny = "*/*"

	// defaultJobDeleteGrace is the pause between deleting a job and its pod.
	defaultJobDeleteGrace = time.Second

	maxErrorBody = 64 * 1024
)

var _ api.PodAPI = (*Client)(nil)

// Config is the fixed connection configuration of a Client.
type Config struct {
	BaseURL   string
	Namespace string
	Token     string
	// CAData is a PEM bundle trusted in addition to the system roots.
	CAData   []byte
	Insecure bool
	// Timeout bounds list, get and delete requests. Streams are unbounded.
	Timeout time.Duration
}

// Client talks to one cluster API endpoint.
type Client struct {
	cfg            Config
	base           string
	httpClient     *http.Client
	watcher        *watchstream.Consumer
	log            logr.Logger
	clock          clock.Clock
	jobDeleteGrace time.Duration
	watchOpts      []watchstream.Option
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and its watch streams.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient replaces the HTTP client built from Config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the clock used for the job delete grace and watch backoff.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithJobDeleteGrace sets the pause between deleting a job and its pod.
func WithJobDeleteGrace(d time.Duration) Option {
	return func(c *Client) { c.jobDeleteGrace = d }
}

// WithWatchOptions passes options through to the watch stream consumer.
func WithWatchOptions(opts ...watchstream.Option) Option {
	return func(c *Client) { c.watchOpts = append(c.watchOpts, opts...) }
}

// Validate checks the cluster URL without building a transport.
func (cfg Config) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("cluster URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid cluster URL %q", cfg.BaseURL)
	}
	return nil
}

// NewClient validates cfg and builds a client. TLS trust comes from
// cfg.CAData or cfg.Insecure; the bearer token is added per request.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = api.DefaultNamespace
	}

	c := &Client{
		cfg:            cfg,
		base:           strings.TrimRight(cfg.BaseURL, "/"),
		log:            ctrl.Log.WithName("cluster"),
		clock:          clock.RealClock{},
		jobDeleteGrace: defaultJobDeleteGrace,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		tlsConfig := rest.TLSClientConfig{Insecure: cfg.Insecure}
		if !cfg.Insecure {
			tlsConfig.CAData = cfg.CAData
		}
		transport, err := rest.TransportFor(&rest.Config{Host: cfg.BaseURL, TLSClientConfig: tlsConfig})
		if err != nil {
			return nil, fmt.Errorf("configuring cluster TLS: %w", err)
		}
		c.httpClient = &http.Client{Transport: transport}
	}

	watchOpts := append([]watchstream.Option{
		watchstream.WithLogger(c.log.WithName("watch")),
		watchstream.WithClock(c.clock),
	}, c.watchOpts...)
	c.watcher = watchstream.NewConsumer(c, watchOpts...)
	return c, nil
}

// Namespace returns the default namespace of the client.
func (c *Client) Namespace() string { return c.cfg.Namespace }

// do executes one request. Non-2xx responses are drained into a
// TransportError; requests with no response become a TransportError with
// status 0 unless ctx was cancelled, which is returned as the context error.
func (c *Client) do(ctx context.Context, endpoint, method, rawURL, accept string) (*http.Response, error) {
	start := time.Now()
	code := "0"
	defer func() {
		duration := time.Since(start)
		requestDuration.WithLabelValues(endpoint, code).Observe(duration.Seconds())
		klog.V(4).InfoS("Cluster request",
			"endpoint", endpoint,
			"method", method,
			"code", code,
			"duration_ms", duration.Milliseconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}
	code = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// doJSON runs a bounded request and decodes a JSON response into out when
// out is non-nil.
func (c *Client) doJSON(ctx context.Context, endpoint, method, rawURL string, out any) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, endpoint, method, rawURL, acceptJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

// ListPods lists the pods matching opts.
func (c *Client) ListPods(ctx context.Context, opts api.ListOptions) ([]api.AgentPod, error) {
	u, err := c.ListURL(opts)
	if err != nil {
		return nil, err
	}
	var list corev1.PodList
	if err := c.doJSON(ctx, "list", http.MethodGet, u, &list); err != nil {
		return nil, err
	}
	return podmapper.MapList(&list), nil
}

// OpenWatch opens one watch connection and returns its body.
func (c *Client) OpenWatch(ctx context.Context, opts api.WatchOptions) (io.ReadCloser, error) {
	u, err := c.WatchURL(opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "watch", http.MethodGet, u, acceptJSON)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// WatchPods watches pods matching opts, reconnecting until ctx is done or
// stop is called.
func (c *Client) WatchPods(ctx context.Context, handler api.WatchHandler, opts api.WatchOptions) (stop func()) {
	return c.watcher.Watch(ctx, handler, opts)
}

// StreamLogs opens a follow-mode log stream. The caller closes the reader.
func (c *Client) StreamLogs(ctx context.Context, podName string, opts api.LogOptions) (io.ReadCloser, error) {
	if podName == "" {
		return nil, ErrPodNameRequired
	}
	resp, err := c.do(ctx, "logs", http.MethodGet, c.LogsURL(podName, opts), acceptAny)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// getPod fetches the raw pod resource.
func (c *Client) getPod(ctx context.Context, ns, name string) (*corev1.Pod, error) {
	var pod corev1.Pod
	if err := c.doJSON(ctx, "get-pod", http.MethodGet, c.PodURL(ns, name), &pod); err != nil {
		return nil, err
	}
	return &pod, nil
}

// GetPod fetches and maps a single pod.
func (c *Client) GetPod(ctx context.Context, name, namespace string) (api.AgentPod, error) {
	if name == "" {
		return api.AgentPod{}, ErrPodNameRequired
	}
	pod, err := c.getPod(ctx, namespace, name)
	if err != nil {
		return api.AgentPod{}, err
	}
	return podmapper.Map(pod), nil
}
