package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/autkucakan/Chat-Block/internal/store"
)

// ChatChannelKey is the broadcast key for one chat.
func ChatChannelKey(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}

// MessageEvent is the chat-channel outbound frame.
type MessageEvent struct {
	ID           int64     `json:"id"`
	Content      string    `json:"content"`
	AuthorUserID int64     `json:"author_user_id"`
	ChatID       int64     `json:"chat_id"`
	CreatedAt    time.Time `json:"created_at"`
	IsRead       bool      `json:"is_read"`
}

// PresenceEvent is the presence-channel outbound frame.
type PresenceEvent struct {
	UserID   int64     `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// ErrorEvent is sent inline to a single offending sender, never broadcast.
type ErrorEvent struct {
	Error string `json:"error"`
}

func newMessageEvent(m *store.Message) ([]byte, error) {
	return json.Marshal(MessageEvent{
		ID:           m.ID,
		Content:      m.Content,
		AuthorUserID: m.AuthorID,
		ChatID:       m.ChatID,
		CreatedAt:    m.CreatedAt,
		IsRead:       m.IsRead,
	})
}

func newPresenceEvent(p *store.Presence) ([]byte, error) {
	return json.Marshal(PresenceEvent{
		UserID:   p.UserID,
		Status:   string(p.Status),
		LastSeen: p.LastSeen,
	})
}

func errorEvent(msg string) []byte {
	b, _ := json.Marshal(ErrorEvent{Error: msg})
	return b
}
