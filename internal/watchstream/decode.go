package watchstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"card-agents/internal/api"
	"card-agents/internal/podmapper"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// DefaultMaxLineBytes bounds a single watch line. Pods with large env blocks
// still fit comfortably.
const DefaultMaxLineBytes = 4 << 20

var (
	errLineTooLong = errors.New("watch line exceeds max bytes")
	// errSkip marks envelopes that are valid but carry nothing to deliver.
	errSkip = errors.New("skip")
)

// StatusError is an ERROR envelope sent by the server in place of an object,
// typically when the watch window expired.
type StatusError struct {
	Status metav1.Status
}

func (e *StatusError) Error() string {
	if e.Status.Message != "" {
		return fmt.Sprintf("watch error %d: %s", e.Status.Code, e.Status.Message)
	}
	return fmt.Sprintf("watch error %d: %s", e.Status.Code, e.Status.Reason)
}

// readLine returns the next newline-terminated line without the trailing
// newline. A final unterminated line is returned with a nil error; the next
// call reports io.EOF. A line longer than maxBytes is consumed up to its
// newline and reported as errLineTooLong, leaving the reader on the next line.
func readLine(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	tooLong := false
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			out = append(out, frag...)
			if len(out) > maxBytes {
				tooLong, out = true, nil
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return bytes.TrimSuffix(out, []byte("\n")), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, errLineTooLong
			}
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		default:
			return nil, err
		}
	}
}

// decodeEvent parses one {type, object} envelope and maps its pod.
// BOOKMARK envelopes yield errSkip; ERROR envelopes yield *StatusError.
func decodeEvent(line []byte) (api.WatchEvent, error) {
	var env metav1.WatchEvent
	if err := json.Unmarshal(line, &env); err != nil {
		return api.WatchEvent{}, fmt.Errorf("decoding watch envelope: %w", err)
	}

	switch watch.EventType(env.Type) {
	case watch.Added, watch.Modified, watch.Deleted:
	case watch.Bookmark:
		return api.WatchEvent{}, errSkip
	case watch.Error:
		var status metav1.Status
		if len(env.Object.Raw) > 0 {
			_ = json.Unmarshal(env.Object.Raw, &status)
		}
		return api.WatchEvent{}, &StatusError{Status: status}
	default:
		return api.WatchEvent{}, fmt.Errorf("unknown watch event type %q", env.Type)
	}

	if len(env.Object.Raw) == 0 {
		return api.WatchEvent{}, fmt.Errorf("watch %s event has no object", env.Type)
	}
	var pod corev1.Pod
	if err := json.Unmarshal(env.Object.Raw, &pod); err != nil {
		return api.WatchEvent{}, fmt.Errorf("decoding watch object: %w", err)
	}
	return api.WatchEvent{Type: watch.EventType(env.Type), Pod: podmapper.Map(&pod)}, nil
}
