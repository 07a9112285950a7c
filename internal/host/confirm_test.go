package host

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/api/apitest"
	"card-agents/internal/cluster"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	sevs []Severity
}

func (r *recordingNotifier) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	r.sevs = append(r.sevs, severity)
}

// ============================================================================
// 1. Prompt
// ============================================================================

func TestPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yep\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := &Prompt{In: strings.NewReader(tt.input), Out: &out}
		got, err := p.Confirm(context.Background(), "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Proceed? [y/N]: ", out.String())
	}
}

func TestPrompt_CancelledContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := (&Prompt{In: pr, Out: io.Discard}).Confirm(ctx, "Proceed?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

// deadlineInput blocks reads until a read deadline is set.
type deadlineInput struct {
	once      sync.Once
	interrupt chan struct{}
	mu        sync.Mutex
	cleared   bool
}

func (d *deadlineInput) Read([]byte) (int, error) {
	<-d.interrupt
	return 0, os.ErrDeadlineExceeded
}

func (d *deadlineInput) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		d.mu.Lock()
		d.cleared = true
		d.mu.Unlock()
		return nil
	}
	d.once.Do(func() { close(d.interrupt) })
	return nil
}

func TestPrompt_CancelInterruptsRead(t *testing.T) {
	in := &deadlineInput{interrupt: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := (&Prompt{In: in, Out: io.Discard}).Confirm(ctx, "Proceed?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)

	// Confirm only returns after the reader goroutine has exited.
	select {
	case <-in.interrupt:
	default:
		t.Fatal("pending read was not interrupted")
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	assert.True(t, in.cleared, "the deadline is cleared for later prompts")
}

func TestStopMessage(t *testing.T) {
	assert.Equal(t,
		"Stop pod agent-1 in namespace automation? This also deletes its backing job when available.",
		StopMessage("agent-1", "automation"))
}

// ============================================================================
// 2. ConfirmAndStop
// ============================================================================

func TestConfirmAndStop_Declined(t *testing.T) {
	fake := &apitest.FakePodAPI{}
	n := &recordingNotifier{}
	var asked string
	decline := ConfirmFunc(func(_ context.Context, msg string) (bool, error) {
		asked = msg
		return false, nil
	})

	err := ConfirmAndStop(context.Background(), decline, n, fake, apitest.Pod("agent-1", api.PodRunning))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, fake.StopCalls())
	assert.Empty(t, n.msgs)
	assert.Equal(t, StopMessage("agent-1", api.DefaultNamespace), asked)
}

func TestConfirmAndStop_Approved(t *testing.T) {
	var got api.StopOptions
	fake := &apitest.FakePodAPI{StopFunc: func(_ context.Context, _ string, opts api.StopOptions) error {
		got = opts
		return nil
	}}
	n := &recordingNotifier{}
	pod := apitest.Pod("agent-1", api.PodRunning, func(p *api.AgentPod) {
		p.Namespace = ""
		p.Owner = &api.PodOwnerReference{Kind: api.OwnerKindJob, Name: "job-1"}
	})

	require.NoError(t, ConfirmAndStop(context.Background(), AlwaysConfirm, n, fake, pod))
	assert.Equal(t, []string{"agent-1"}, fake.StopCalls())
	assert.Equal(t, api.DefaultNamespace, got.Namespace)
	assert.Equal(t, "job-1", got.Owner.Name)
	assert.Equal(t, []Severity{SeverityInfo}, n.sevs)
}

func TestConfirmAndStop_FailureNotifies(t *testing.T) {
	forbidden := &cluster.TransportError{Status: 403, Body: "forbidden"}
	fake := &apitest.FakePodAPI{StopFunc: func(context.Context, string, api.StopOptions) error { return forbidden }}
	n := &recordingNotifier{}

	err := ConfirmAndStop(context.Background(), AlwaysConfirm, n, fake, apitest.Pod("agent-1", api.PodRunning))
	assert.ErrorIs(t, err, forbidden)
	require.Len(t, n.msgs, 1)
	assert.Equal(t, SeverityError, n.sevs[0])
	assert.Contains(t, n.msgs[0], "Failed to stop pod agent-1")
}

func TestConfirmAndStop_IgnorableErrorNotShown(t *testing.T) {
	refused := &cluster.TransportError{Err: syscall.ECONNREFUSED}
	fake := &apitest.FakePodAPI{StopFunc: func(context.Context, string, api.StopOptions) error { return refused }}
	n := &recordingNotifier{}

	err := ConfirmAndStop(context.Background(), AlwaysConfirm, n, fake, apitest.Pod("agent-1", api.PodRunning))
	assert.Error(t, err)
	assert.Empty(t, n.msgs)
}

func TestConfirmAndStop_ConfirmError(t *testing.T) {
	boom := errors.New("no terminal")
	fail := ConfirmFunc(func(context.Context, string) (bool, error) { return false, boom })
	fake := &apitest.FakePodAPI{}

	assert.ErrorIs(t, ConfirmAndStop(context.Background(), fail, &recordingNotifier{}, fake, apitest.Pod("a", api.PodRunning)), boom)
	assert.Empty(t, fake.StopCalls())
}

// ============================================================================
// 3. Notifiers
// ============================================================================

func TestTerminal(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	term := &Terminal{Out: &out}

	term.Notify("stopped", SeverityInfo)
	term.Notify("careful", SeverityWarning)
	term.Notify("broken", SeverityError)
	assert.Equal(t, "stopped\ncareful\nbroken\n", out.String())
}

func TestLogNotifier(t *testing.T) {
	// Must not panic with a discarding logger.
	LogNotifier{Log: logr.Discard()}.Notify("hello", SeverityError)
	LogNotifier{Log: logr.Discard()}.Notify("hello", SeverityInfo)
}
