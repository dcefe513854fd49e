package hub

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	activeConnections prometheus.Gauge
	activeChannels    prometheus.Gauge
	broadcastsTotal   prometheus.Counter
	broadcastDrops    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatblock_active_connections",
			Help: "Connections currently registered in the hub.",
		}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatblock_active_channels",
			Help: "Channel keys with at least one registered connection.",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_broadcasts_total",
			Help: "Broadcast events fanned out.",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_broadcast_drops_total",
			Help: "Per-recipient deliveries dropped during fan-out.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.activeChannels,
		m.broadcastsTotal,
		m.broadcastDrops,
	)
	return m
}

func (m *Metrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(n))
}

func (m *Metrics) SetActiveChannels(n int) {
	if m == nil {
		return
	}
	m.activeChannels.Set(float64(n))
}

func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}
