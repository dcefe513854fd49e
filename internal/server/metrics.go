package server

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	authFailures     prometheus.Counter
	upgradesRejected prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_auth_failures_total",
			Help: "Websocket establishment requests refused for bad credentials.",
		}),
		upgradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_upgrades_rejected_total",
			Help: "Upgrade requests refused after authentication (membership, bad path).",
		}),
	}

	reg.MustRegister(m.authFailures, m.upgradesRejected)
	return m
}

func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) RecordUpgradeRejected() {
	if m == nil {
		return
	}
	m.upgradesRejected.Inc()
}
