package watchstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reconnectsTotal counts scheduled reconnects across all watch streams.
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "card_agents_watch_reconnects_total",
		Help: "Number of watch stream reconnects scheduled after a stream ended or failed",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "card_agents_watch_events_total",
		Help: "Watch events delivered to handlers, by event type",
	}, []string{"type"})

	decodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "card_agents_watch_decode_errors_total",
		Help: "Watch lines that could not be decoded and were skipped",
	})
)
