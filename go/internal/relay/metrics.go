package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "directorio"

var (
	// ConnectionsActive tracks open websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Number of open relay websocket connections",
		},
	)

	// FramesRelayed counts frames fanned out to a room, by kind.
	FramesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_relayed_total",
			Help:      "Total frames fanned out to room subscribers",
		},
		[]string{"kind"},
	)

	// FramesDropped counts frames that were not delivered, by reason.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped by the relay",
		},
		[]string{"reason"},
	)
)

const (
	dropRateLimited  = "rate_limited"
	dropMalformed    = "malformed"
	dropBufferFull   = "buffer_full"
	dropPublishError = "publish_error"
)
