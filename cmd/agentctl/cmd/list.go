package cmd

import (
	"fmt"
	"text/tabwriter"

	"card-agents/internal/api"
	"card-agents/internal/host"
	"card-agents/internal/podstore"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the agent pods of a card, grouped by phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}

		card := viper.GetString(host.KeyCard)
		klog.V(4).InfoS("Listing pods", "card", card, "namespace", namespace())
		pods, err := client.ListPods(cmd.Context(), api.ListOptions{CardID: card, Namespace: namespace()})
		if err != nil {
			return err
		}
		if len(pods) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pods found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPHASE\tRESTARTS\tNODE\tAGE\tLAST EVENT")
		for _, group := range podstore.Group(pods) {
			for _, pod := range group.Pods {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					pod.DisplayName, phaseColor(pod.Phase).Sprint(pod.Phase), pod.Restarts,
					orDash(pod.NodeName), age(pod.StartedAt), orDash(pod.LastEvent))
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
