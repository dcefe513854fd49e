package hub

import "log/slog"

// Broadcaster fans one payload out to every connection registered on a
// channel key. Delivery is best-effort, at most once per listener: a failed
// send is logged and counted, never surfaced to the caller, and never blocks
// delivery to the remaining connections.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, logger *slog.Logger, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

func (b *Broadcaster) Broadcast(channelKey string, payload []byte) {
	conns := b.registry.Snapshot(channelKey)
	delivered := 0
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			b.metrics.RecordDrop()
			b.logger.Warn("dropping broadcast for connection",
				slog.String("channel", channelKey),
				slog.String("connID", c.ID().String()),
				slog.Any("error", err),
			)
			continue
		}
		delivered++
	}
	b.metrics.RecordBroadcast()
	b.logger.Debug("broadcast delivered",
		slog.String("channel", channelKey),
		slog.Int("recipients", delivered),
	)
}
