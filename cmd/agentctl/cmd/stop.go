package cmd

import (
	"errors"
	"fmt"

	"card-agents/internal/api"
	"card-agents/internal/host"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var assumeYes bool

var stopCmd = &cobra.Command{
	Use:     "stop <pod-name>",
	Aliases: []string{"delete", "rm"},
	Short:   "Stop an agent pod and delete its backing job",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}

		pod, err := findPod(cmd.Context(), client, name)
		if err != nil {
			// The job is resolved from the cluster when the pod is not listed.
			klog.V(2).InfoS("Pod lookup failed, stopping by name", "pod", name, "err", err)
			pod = api.AgentPod{Name: name, Namespace: namespace()}
		}

		var confirm host.Confirmer = &host.Prompt{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
		if assumeYes {
			confirm = host.AlwaysConfirm
		}
		err = host.ConfirmAndStop(cmd.Context(), confirm, &host.Terminal{Out: cmd.OutOrStdout()}, client, pod)
		if errors.Is(err, host.ErrCancelled) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}
