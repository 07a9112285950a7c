package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var outputFormat string

var getCmd = &cobra.Command{
	Use:   "get <pod-name>",
	Short: "Get detailed agent pod information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		klog.V(4).InfoS("CLI get command started", "pod", name, "namespace", namespace())

		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		pod, err := findPod(cmd.Context(), client, name)
		if err != nil {
			klog.ErrorS(err, "Pod lookup failed", "pod", name, "namespace", namespace())
			return err
		}

		out := cmd.OutOrStdout()
		switch outputFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(pod)
		case "yaml":
			y, err := yaml.Marshal(pod)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(y))
			fmt.Fprintf(out, "age: %s\n", age(pod.StartedAt))
			return nil
		}
		return fmt.Errorf("unknown output format %q (expected yaml or json)", outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format (yaml|json)")
}
