package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/host"
	"card-agents/internal/logging"
	"card-agents/internal/podruntime"
	"card-agents/internal/preview"
	"card-agents/internal/server"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var configFile string
	var addr string
	var readyTimeout time.Duration
	var staleAfter time.Duration
	flag.StringVar(&configFile, "config", "", "Config file with the cluster connection settings.")
	flag.StringVar(&addr, "bind-address", ":8088", "The address the dashboard API binds to.")
	flag.DurationVar(&readyTimeout, "ready-timeout", 10*time.Second, "How long a request waits for a card's first snapshot.")
	flag.DurationVar(&staleAfter, "stale-after", podruntime.DefaultStaleAfter, "Idle time after which a card's watcher is disposed.")

	flags := pflag.CommandLine
	flags.String(host.KeyClusterURL, "", "Cluster API URL")
	flags.String(host.KeyNamespace, api.DefaultNamespace, "Namespace of the agent pods")
	flags.String(host.KeyToken, "", "Bearer token for the cluster API")
	flags.String(host.KeyCABundle, "", "Path to a PEM bundle trusted for the cluster API")
	flags.Bool(host.KeyInsecure, false, "Skip TLS verification of the cluster API")
	flags.String(host.KeyKubeconfig, "", "Kubeconfig to read the cluster URL and token from")
	flags.String(host.KeyContext, "", "Kubeconfig context to use")
	flags.String(host.KeyCard, "", "Card whose watcher is started at boot")
	flags.String(host.KeyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	flags.Bool(host.KeyPreview, false, "Serve built-in preview pods instead of a cluster")
	flags.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	v := viper.GetViper()
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("CARD_AGENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	logger, err := logging.New(v.GetString(host.KeyLogLevel))
	if err != nil {
		ctrl.Log.Error(err, "invalid log level")
		os.Exit(1)
	}
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			setupLog.Error(err, "unable to read config", "path", configFile)
			os.Exit(1)
		}
		// Watchers pick up new settings through their fingerprint on the next request.
		v.OnConfigChange(func(e fsnotify.Event) {
			setupLog.Info("config changed", "path", e.Name)
		})
		v.WatchConfig()
	}

	var source host.Source = host.FromViper(v)
	if v.GetBool(host.KeyPreview) {
		ns := v.GetString(host.KeyNamespace)
		source = host.NewStatic(preview.New(preview.DefaultCardID, ns), ns, "preview:"+ns)
		setupLog.Info("serving preview pods", "namespace", ns)
	}

	registry := podruntime.NewRegistry(podruntime.WithStaleAfter(staleAfter))
	defer registry.Close()

	ctx := ctrl.SetupSignalHandler()
	if card := v.GetString(host.KeyCard); card != "" {
		registry.Warm(ctx, source.ForCard(card))
	}

	srv := server.NewServer(registry, source, addr, server.WithReadyTimeout(readyTimeout))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		registry.Close()
		return nil
	})

	setupLog.Info("starting card agents dashboard", "addr", addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "problem running dashboard")
		os.Exit(1)
	}
}
