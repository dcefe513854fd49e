package session

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	sessionsTotal     *prometheus.CounterVec
	messagesPersisted prometheus.Counter
	presenceUpdates   prometheus.Counter
	storeErrors       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatblock_sessions_total",
			Help: "Sessions attached, by channel kind.",
		}, []string{"channel"}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_messages_persisted_total",
			Help: "Chat messages successfully written to the store.",
		}),
		presenceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_presence_updates_total",
			Help: "Presence transitions successfully persisted.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatblock_store_errors_total",
			Help: "Persistence failures absorbed by session loops.",
		}),
	}

	reg.MustRegister(
		m.sessionsTotal,
		m.messagesPersisted,
		m.presenceUpdates,
		m.storeErrors,
	)
	return m
}

func (m *Metrics) RecordSession(channel string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordMessagePersisted() {
	if m == nil {
		return
	}
	m.messagesPersisted.Inc()
}

func (m *Metrics) RecordPresenceUpdate() {
	if m == nil {
		return
	}
	m.presenceUpdates.Inc()
}

func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}
