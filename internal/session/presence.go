package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/autkucakan/Chat-Block/internal/hub"
	"github.com/autkucakan/Chat-Block/internal/store"
)

// Presence drives one connection attached to the global presence channel.
// Every accepted transition is persisted first, then broadcast to all
// presence listeners, the originating connection included.
type Presence struct {
	userID int64
	conn   hub.Conn

	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	presence    store.PresenceStore
	metrics     *Metrics
	logger      *slog.Logger
}

func NewPresence(
	userID int64,
	conn hub.Conn,
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	presence store.PresenceStore,
	metrics *Metrics,
	logger *slog.Logger,
) *Presence {
	return &Presence{
		userID:      userID,
		conn:        conn,
		registry:    registry,
		broadcaster: broadcaster,
		presence:    presence,
		metrics:     metrics,
		logger: logger.With(
			slog.String("component", "presence_session"),
			slog.Int64("userID", userID),
		),
	}
}

// Attach registers the connection on the presence channel and announces the
// online transition. The registration happens first, so the attaching
// connection sees its own state echoed.
func (s *Presence) Attach(ctx context.Context) {
	s.registry.Register(hub.PresenceChannel, s.conn, s.userID)
	s.metrics.RecordSession("presence")
	s.setAndBroadcast(ctx, store.StatusOnline)
}

// HandleMessage processes one status-update request. Protocol errors are
// answered inline to the sender only and never terminate the session.
func (s *Presence) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	if !gjson.ValidBytes(msg) {
		s.replyError("invalid format")
		return
	}
	status, ok := store.ParseStatus(gjson.GetBytes(msg, "status").String())
	if !ok {
		s.replyError("invalid status")
		return
	}
	s.setAndBroadcast(ctx, status)
}

// HandleClose forces the offline transition. The connection is deregistered
// before the broadcast, so the offline event consistently reaches exactly the
// surviving listeners (the departing peer could not receive it anyway).
func (s *Presence) HandleClose(connID uuid.UUID, err error) {
	s.registry.Deregister(hub.PresenceChannel, s.conn)
	s.setAndBroadcast(context.Background(), store.StatusOffline)
	if err != nil {
		s.logger.Debug("presence session detached", slog.Any("reason", err))
	}
}

func (s *Presence) setAndBroadcast(ctx context.Context, status store.Status) {
	rec, err := s.presence.UpdatePresence(ctx, s.userID, status, time.Now().UTC())
	if err != nil {
		// Skip the broadcast when the durable record did not change.
		s.metrics.RecordStoreError()
		s.logger.Error("presence update not persisted, skipping broadcast",
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return
	}
	s.metrics.RecordPresenceUpdate()

	payload, err := newPresenceEvent(rec)
	if err != nil {
		s.logger.Error("marshal presence event", slog.Any("error", err))
		return
	}
	s.broadcaster.Broadcast(hub.PresenceChannel, payload)
}

func (s *Presence) replyError(msg string) {
	if err := s.conn.Send(errorEvent(msg)); err != nil {
		s.logger.Warn("could not deliver inline error", slog.Any("error", err))
	}
}
