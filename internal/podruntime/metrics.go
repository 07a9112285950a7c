package podruntime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runningWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "card_agents_running_watchers",
		Help: "Pod watchers currently held by the registry",
	})

	watcherEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "card_agents_watcher_evictions_total",
		Help: "Pod watchers disposed by the staleness sweep",
	})
)
