// Package session holds the per-connection control loops: one Chat session per
// chat-channel connection and one Presence session per presence-channel
// connection. A session owns its connection from attach to detach; the hub
// only indexes it.
package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/autkucakan/Chat-Block/internal/hub"
	"github.com/autkucakan/Chat-Block/internal/store"
)

// Chat drives one authenticated, authorized connection attached to a single
// chat channel. Each inbound text frame is persisted first; only a persisted
// message is broadcast.
type Chat struct {
	chatID int64
	userID int64
	conn   hub.Conn

	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	messages    store.MessageStore
	metrics     *Metrics
	logger      *slog.Logger
}

func NewChat(
	chatID, userID int64,
	conn hub.Conn,
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	messages store.MessageStore,
	metrics *Metrics,
	logger *slog.Logger,
) *Chat {
	return &Chat{
		chatID:      chatID,
		userID:      userID,
		conn:        conn,
		registry:    registry,
		broadcaster: broadcaster,
		messages:    messages,
		metrics:     metrics,
		logger: logger.With(
			slog.String("component", "chat_session"),
			slog.Int64("chatID", chatID),
			slog.Int64("userID", userID),
		),
	}
}

func (s *Chat) channelKey() string {
	return ChatChannelKey(s.chatID)
}

// Attach registers the connection on the chat's channel key. Call before the
// connection pumps start so the close path can never observe an unregistered
// connection.
func (s *Chat) Attach() {
	s.registry.Register(s.channelKey(), s.conn, s.userID)
	s.metrics.RecordSession("chat")
}

// HandleMessage runs inline in the connection's read pump, so one sender's
// messages are persisted and broadcast strictly in arrival order.
func (s *Chat) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	m, err := s.messages.CreateMessage(ctx, s.chatID, s.userID, string(msg))
	if err != nil {
		// Persistence failure is local to this frame: drop it, keep the
		// session alive, broadcast nothing.
		s.metrics.RecordStoreError()
		s.logger.Error("message not persisted, dropping", slog.Any("error", err))
		return
	}
	s.metrics.RecordMessagePersisted()

	payload, err := newMessageEvent(m)
	if err != nil {
		s.logger.Error("marshal message event", slog.Any("error", err))
		return
	}
	s.broadcaster.Broadcast(s.channelKey(), payload)
}

// HandleClose deregisters the connection. Safe to run from any close path;
// a second call is a no-op inside the registry.
func (s *Chat) HandleClose(connID uuid.UUID, err error) {
	s.registry.Deregister(s.channelKey(), s.conn)
	if err != nil {
		s.logger.Debug("chat session detached", slog.Any("reason", err))
	}
}
