package cmd

import (
	"context"
	"fmt"
	"time"

	"card-agents/internal/podruntime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running-pods badge of a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		card, err := cardID()
		if err != nil {
			return err
		}

		registry := podruntime.NewRegistry()
		defer registry.Close()

		w, err := registry.EnsureFor(cmd.Context(), sourceFactory().ForCard(card))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if w == nil {
			fmt.Fprintln(out, "Not configured: set --cluster-url and --token, or --kubeconfig.")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()
		badge := podruntime.BuildBadge(ctx, w)

		text := badge.Text
		if text == "" {
			text = "No running pods"
		}
		paint := color.New(color.Reset)
		switch badge.Color {
		case "green":
			paint = color.New(color.FgGreen)
		case "red":
			paint = color.New(color.FgRed)
		}
		fmt.Fprintln(out, paint.Sprint(text))
		if w.Status() == podruntime.StatusError {
			fmt.Fprintln(out, badge.Title)
			return nil
		}
		fmt.Fprintf(out, "%d running / %d total\n", badge.Running, badge.Total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "How long to wait for the first snapshot")
}
