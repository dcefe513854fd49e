package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotChatMember is returned when a write is attempted against a chat the
	// author does not belong to (or that does not exist; the two are not
	// distinguished).
	ErrNotChatMember = errors.New("chat not found or user is not a member")
	// ErrUserNotFound is returned for operations against unknown users.
	ErrUserNotFound = errors.New("user not found")
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

// ParseStatus maps a wire string onto the status enumeration.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusOffline, StatusAway:
		return Status(s), true
	default:
		return "", false
	}
}

// Message is a persisted chat message, fully materialized by the store
// (identifier and timestamp included).
type Message struct {
	ID        int64
	ChatID    int64
	AuthorID  int64
	Content   string
	CreatedAt time.Time
	IsRead    bool
}

// Presence is a user's last-known status record.
type Presence struct {
	UserID   int64
	Status   Status
	LastSeen time.Time
}

// User and Chat exist for seeding and lookups; their CRUD surface is owned by
// the HTTP API, not this subsystem.
type User struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}

type Chat struct {
	ID          int64
	Name        string
	IsGroupChat bool
	CreatedAt   time.Time
}

// MembershipStore answers whether a user may attach to a chat.
type MembershipStore interface {
	IsChatMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// MessageStore persists chat messages. CreateMessage re-verifies membership at
// write time; the session's attach-time check is only a point-in-time gate.
type MessageStore interface {
	CreateMessage(ctx context.Context, chatID, authorID int64, content string) (*Message, error)
}

// PresenceStore persists presence transitions. Conflicting updates for the
// same user resolve last-writer-wins by timestamp.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, userID int64, status Status, at time.Time) (*Presence, error)
}

// Store is the full collaborator surface the server wires together.
type Store interface {
	MembershipStore
	MessageStore
	PresenceStore
}
