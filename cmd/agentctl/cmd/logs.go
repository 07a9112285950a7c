package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"card-agents/internal/logstream"

	"github.com/spf13/cobra"
)

var (
	tailLines  int64
	timestamps bool
)

var logsCmd = &cobra.Command{
	Use:   "logs <pod-name>",
	Short: "Stream agent pod logs, waiting for a pending pod to start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		pod, err := findPod(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		opts := []logstream.Option{
			logstream.WithTailLines(tailLines),
			logstream.WithStatusHook(func(s logstream.Status) {
				if s == logstream.StatusWaiting {
					fmt.Fprintf(errOut, "Waiting for pod %s to start...\n", pod.Name)
				}
			}),
		}
		if timestamps {
			opts = append(opts, logstream.WithTimestamps())
		}

		viewer := logstream.NewViewer(client, func(lines []string) {
			fmt.Fprintln(out, strings.Join(lines, "\n"))
		}, nil, opts...)
		defer viewer.Close()

		session := viewer.SetPod(ctx, &pod)
		<-session.Done()
		if err := session.Err(); err != nil {
			return fmt.Errorf("log stream failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().Int64Var(&tailLines, "tail", logstream.DefaultTailLines, "Lines of history to show; 0 shows everything")
	logsCmd.Flags().BoolVar(&timestamps, "timestamps", false, "Keep the timestamp prefix of each line")
}
