package logstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	logStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "card_agents_log_streams_active",
		Help: "Pod log streams currently open",
	})
)
