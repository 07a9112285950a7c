package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"card-agents/internal/api"
	"card-agents/internal/host"
	"card-agents/internal/logging"
	"card-agents/internal/preview"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
)

const envPrefix = "CARD_AGENTS"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Card Agents Control - inspect and stop the agent pods of a card",
	Long: `agentctl lists, watches, tails and stops the short-lived agent pods
launched for a card on a remote cluster.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(viper.GetString(host.KeyLogLevel))
		if err != nil {
			return err
		}
		ctrl.SetLogger(logger)
		klog.SetLogger(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.card-agents/config.yaml)")
	flags.String(host.KeyClusterURL, "", "Cluster API URL")
	flags.StringP(host.KeyNamespace, "n", api.DefaultNamespace, "Namespace of the agent pods")
	flags.String(host.KeyToken, "", "Bearer token for the cluster API")
	flags.String(host.KeyCABundle, "", "Path to a PEM bundle trusted for the cluster API")
	flags.Bool(host.KeyInsecure, false, "Skip TLS verification of the cluster API")
	flags.String(host.KeyCard, "", "Card id whose pods to show")
	flags.String(host.KeyKubeconfig, "", "Kubeconfig to read the cluster URL and token from")
	flags.String(host.KeyContext, "", "Kubeconfig context to use")
	flags.String(host.KeyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	flags.Bool(host.KeyPreview, false, "Use built-in preview pods instead of a cluster")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	for _, key := range []string{
		host.KeyClusterURL, host.KeyNamespace, host.KeyToken, host.KeyCABundle, host.KeyInsecure,
		host.KeyCard, host.KeyKubeconfig, host.KeyContext, host.KeyLogLevel, host.KeyPreview,
	} {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./.card-agents")
		if home, err := homedir.Dir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".card-agents"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		klog.V(2).InfoS("Using config file", "path", viper.ConfigFileUsed())
	}
}

var sourceFactory = defaultSourceFactory

func defaultSourceFactory() host.Source {
	if viper.GetBool(host.KeyPreview) {
		ns := viper.GetString(host.KeyNamespace)
		client := preview.New(viper.GetString(host.KeyCard), ns)
		return host.NewStatic(client, ns, "preview:"+ns)
	}
	return host.FromViper(viper.GetViper())
}

func getClient(ctx context.Context) (api.PodAPI, error) {
	client, err := sourceFactory().Client(ctx)
	if err != nil {
		klog.ErrorS(err, "Failed to create cluster client")
		return nil, err
	}
	return client, nil
}

func namespace() string {
	if ns := viper.GetString(host.KeyNamespace); ns != "" {
		return ns
	}
	return api.DefaultNamespace
}

func cardID() (string, error) {
	card := viper.GetString(host.KeyCard)
	if card == "" {
		return "", fmt.Errorf("--%s is required", host.KeyCard)
	}
	return card, nil
}
