package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrPodNameRequired is returned by operations addressing a single pod when
// no name was given.
var ErrPodNameRequired = errors.New("pod name is required")

// TransportError is returned for any non-2xx response and for requests that
// got no response at all (Status 0).
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("cluster request failed: %v", e.Err)
		}
		return "cluster request failed: no response"
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("cluster request failed with status %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("cluster request failed with status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message returns the server's explanation: the message of a Kubernetes
// Status body when present, else the trimmed raw body.
func (e *TransportError) Message() string {
	var status metav1.Status
	if err := json.Unmarshal([]byte(e.Body), &status); err == nil && status.Message != "" {
		return status.Message
	}
	return strings.TrimSpace(e.Body)
}

// IsStatus reports whether err is a TransportError with the given status.
func IsStatus(err error, status int) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == status
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

// IsGone reports a 410 response.
func IsGone(err error) bool { return IsStatus(err, http.StatusGone) }

// IsNetworkError reports a request that never got a response.
func IsNetworkError(err error) bool { return IsStatus(err, 0) }

// IsIgnorableNetworkError reports transient connectivity failures that are
// retried anyway and are not worth showing to a user: refused or reset
// connections, timeouts, truncated responses, and fetch failures relayed by
// the browser host.
func IsIgnorableNetworkError(err error) bool {
	if !IsNetworkError(err) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "failed to fetch") || strings.Contains(msg, "load failed")
}

// DisplayableError filters err for user display. Cancellation and ignorable
// network errors become nil.
func DisplayableError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || IsIgnorableNetworkError(err) {
		return nil
	}
	return err
}
