// Package observability holds the prometheus instrumentation shared by the
// realtime infrastructure.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RealtimeMetrics tracks broker activity
type RealtimeMetrics struct {
	BroadcastsSent    prometheus.Counter
	BroadcastFailures prometheus.Counter
	ActiveChannels    prometheus.Gauge
	Participants      prometheus.Gauge
}

// NewRealtimeMetrics creates and registers the realtime metric set. Pass nil
// to register on the default registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &RealtimeMetrics{
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindmeld_realtime_broadcasts_total",
			Help: "Broadcast messages fanned out to subscribers",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindmeld_realtime_broadcast_failures_total",
			Help: "Broadcast messages dropped because a subscriber could not accept them",
		}),
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mindmeld_realtime_active_channels",
			Help: "Channels with at least one subscriber",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mindmeld_realtime_participants",
			Help: "Tracked presences across all channels",
		}),
	}
	reg.MustRegister(m.BroadcastsSent, m.BroadcastFailures, m.ActiveChannels, m.Participants)
	return m
}

// NopRealtimeMetrics returns an unregistered metric set for tests
func NopRealtimeMetrics() *RealtimeMetrics {
	return &RealtimeMetrics{
		BroadcastsSent:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_broadcasts_total"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_broadcast_failures_total"}),
		ActiveChannels:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_active_channels"}),
		Participants:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_participants"}),
	}
}
