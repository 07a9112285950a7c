package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"card-agents/internal/api"
	"card-agents/internal/podstore"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the agent pods of a card until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		card, err := cardID()
		if err != nil {
			return err
		}
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printer := newChangePrinter(cmd.OutOrStdout())
		live := podstore.NewLive(client, card, namespace(), podstore.WithOnChange(printer.print))
		live.Start(ctx)
		<-live.Done()
		live.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// changePrinter prints connection state changes and one line per pod
// whose phase or last event changed since the previous snapshot.
type changePrinter struct {
	mu       sync.Mutex
	out      io.Writer
	status   podstore.LiveStatus
	attempts int
	seen     map[string]api.AgentPod
}

func newChangePrinter(out io.Writer) *changePrinter {
	return &changePrinter{out: out, seen: make(map[string]api.AgentPod)}
}

func (p *changePrinter) print(snap podstore.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Status != p.status || snap.ReconnectAttempts != p.attempts {
		p.status, p.attempts = snap.Status, snap.ReconnectAttempts
		line := fmt.Sprintf("-- %s", snap.Status)
		if snap.ReconnectAttempts > 0 {
			line += fmt.Sprintf(" (reconnect attempt %d)", snap.ReconnectAttempts)
		}
		if snap.Err != nil && snap.Status == podstore.LiveError {
			line += ": " + snap.Err.Error()
		}
		fmt.Fprintln(p.out, line)
	}

	current := make(map[string]api.AgentPod, len(snap.Pods))
	for _, pod := range snap.Pods {
		current[pod.ID] = pod
		prev, ok := p.seen[pod.ID]
		if ok && prev.Phase == pod.Phase && prev.LastEvent == pod.LastEvent {
			continue
		}
		fmt.Fprintf(p.out, "%s\t%s\t%s\n", pod.DisplayName, phaseColor(pod.Phase).Sprint(pod.Phase), orDash(pod.LastEvent))
	}
	for id, pod := range p.seen {
		if _, ok := current[id]; !ok {
			fmt.Fprintf(p.out, "%s\tdeleted\n", pod.DisplayName)
		}
	}
	p.seen = current
}
