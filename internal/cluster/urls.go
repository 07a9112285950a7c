package cluster

import (
	"fmt"
	"net/url"
	"strconv"

	"card-agents/internal/api"

	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
)

// LabelSelector combines the card label with an optional extra selector.
func LabelSelector(cardID, extra string) (string, error) {
	sel, err := labels.Parse(extra)
	if err != nil {
		return "", fmt.Errorf("invalid label selector %q: %w", extra, err)
	}
	if cardID != "" {
		req, err := labels.NewRequirement(api.LabelCardID, selection.Equals, []string{cardID})
		if err != nil {
			return "", fmt.Errorf("invalid card id %q: %w", cardID, err)
		}
		sel = sel.Add(*req)
	}
	return sel.String(), nil
}

// PodNameSelector is the field selector for a single named pod.
func PodNameSelector(name string) string {
	return fields.OneTermEqualSelector("metadata.name", name).String()
}

func (c *Client) namespace(ns string) string {
	if ns != "" {
		return ns
	}
	return c.cfg.Namespace
}

func (c *Client) podsURL(ns string) string {
	return fmt.Sprintf("%s/api/v1/namespaces/%s/pods", c.base, url.PathEscape(c.namespace(ns)))
}

func (c *Client) podURL(ns, name string) string {
	return c.podsURL(ns) + "/" + url.PathEscape(name)
}

func (c *Client) selectorQuery(cardID, labelSelector, fieldSelector string) (url.Values, error) {
	q := url.Values{}
	ls, err := LabelSelector(cardID, labelSelector)
	if err != nil {
		return nil, err
	}
	if ls != "" {
		q.Set("labelSelector", ls)
	}
	if fieldSelector != "" {
		if _, err := fields.ParseSelector(fieldSelector); err != nil {
			return nil, fmt.Errorf("invalid field selector %q: %w", fieldSelector, err)
		}
		q.Set("fieldSelector", fieldSelector)
	}
	return q, nil
}

// ListURL builds the pod list URL.
func (c *Client) ListURL(opts api.ListOptions) (string, error) {
	q, err := c.selectorQuery(opts.CardID, opts.LabelSelector, opts.FieldSelector)
	if err != nil {
		return "", err
	}
	return withQuery(c.podsURL(opts.Namespace), q), nil
}

// WatchURL builds the pod watch URL.
func (c *Client) WatchURL(opts api.WatchOptions) (string, error) {
	q, err := c.selectorQuery(opts.CardID, opts.LabelSelector, opts.FieldSelector)
	if err != nil {
		return "", err
	}
	q.Set("watch", "true")
	return withQuery(c.podsURL(opts.Namespace), q), nil
}

// LogsURL builds the follow-mode log URL for a pod. Timestamps are always
// requested so clients can strip them consistently.
func (c *Client) LogsURL(name string, opts api.LogOptions) string {
	q := url.Values{}
	q.Set("follow", "true")
	q.Set("timestamps", "true")
	if opts.Container != "" {
		q.Set("container", opts.Container)
	}
	setInt := func(key string, v *int64) {
		if v != nil {
			q.Set(key, strconv.FormatInt(*v, 10))
		}
	}
	setInt("tailLines", opts.TailLines)
	setInt("sinceSeconds", opts.SinceSeconds)
	setInt("limitBytes", opts.LimitBytes)
	return withQuery(c.podURL(opts.Namespace, name)+"/log", q)
}

// JobURL builds the batch job URL used for deletion. Background propagation
// lets the job controller clean up its pods.
func (c *Client) JobURL(ns, name string) string {
	q := url.Values{}
	q.Set("propagationPolicy", "Background")
	u := fmt.Sprintf("%s/apis/batch/v1/namespaces/%s/jobs/%s", c.base, url.PathEscape(c.namespace(ns)), url.PathEscape(name))
	return withQuery(u, q)
}

// PodURL builds the URL of a single pod.
func (c *Client) PodURL(ns, name string) string {
	return c.podURL(ns, name)
}

func withQuery(u string, q url.Values) string {
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}
