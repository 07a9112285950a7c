package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/cluster"
)

// ErrCancelled is returned when the user declines a destructive action.
var ErrCancelled = errors.New("cancelled by user")

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, message string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, message string) (bool, error) {
	return f(ctx, message)
}

// AlwaysConfirm approves everything, for --yes.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Prompt asks on a terminal. Only "y" and "yes" approve.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// deadlineReader is satisfied by *os.File for terminals and pipes.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// Confirm implements Confirmer. A cancelled ctx returns its error without
// waiting for input. When In supports read deadlines the pending read is
// interrupted and the deadline cleared again; otherwise the reader goroutine
// exits with the next line or EOF.
func (p *Prompt) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.Out, "%s [y/N]: ", message)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		if d, ok := p.In.(deadlineReader); ok && d.SetReadDeadline(time.Now()) == nil {
			<-ch
			_ = d.SetReadDeadline(time.Time{})
		}
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// StopMessage is the confirmation shown before stopping a pod.
func StopMessage(podName, namespace string) string {
	return fmt.Sprintf("Stop pod %s in namespace %s? This also deletes its backing job when available.", podName, namespace)
}

// ConfirmAndStop asks c, then stops pod and reports the outcome through n.
// Declining returns ErrCancelled without touching the cluster.
func ConfirmAndStop(ctx context.Context, c Confirmer, n Notifier, client api.PodAPI, pod api.AgentPod) error {
	ns := pod.Namespace
	if ns == "" {
		ns = api.DefaultNamespace
	}
	ok, err := c.Confirm(ctx, StopMessage(pod.Name, ns))
	if err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}

	if err := client.StopPod(ctx, pod.Name, api.StopOptions{Namespace: ns, Owner: pod.Owner}); err != nil {
		if shown := cluster.DisplayableError(err); shown != nil {
			n.Notify(fmt.Sprintf("Failed to stop pod %s: %v", pod.Name, shown), SeverityError)
		}
		return err
	}
	n.Notify(fmt.Sprintf("Stopped pod %s", pod.Name), SeverityInfo)
	return nil
}
