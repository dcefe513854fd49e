package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chats (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	is_group_chat BOOLEAN NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_users (
	user_id INTEGER NOT NULL REFERENCES users(id),
	chat_id INTEGER NOT NULL REFERENCES chats(id),
	PRIMARY KEY (user_id, chat_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	content    TEXT NOT NULL,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	chat_id    INTEGER NOT NULL REFERENCES chats(id),
	created_at TIMESTAMP NOT NULL,
	is_read    BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
CREATE TABLE IF NOT EXISTS presence (
	user_id   INTEGER PRIMARY KEY REFERENCES users(id),
	status    TEXT NOT NULL,
	last_seen TIMESTAMP NOT NULL
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and if needed initializes) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "store_sqlite")),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsChatMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_users WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query chat membership: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, chatID, authorID int64, content string) (*Message, error) {
	// Membership is re-checked inside the write path; the session's
	// attach-time authorization does not survive the connection lifetime.
	member, err := s.IsChatMember(ctx, chatID, authorID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotChatMember
	}

	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, user_id, chat_id, created_at, is_read) VALUES (?, ?, ?, ?, 0)`,
		content, authorID, chatID, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	return &Message{
		ID:        id,
		ChatID:    chatID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: createdAt,
		IsRead:    false,
	}, nil
}

func (s *SQLiteStore) UpdatePresence(ctx context.Context, userID int64, status Status, at time.Time) (*Presence, error) {
	// Last-writer-wins by timestamp: an update carrying an older timestamp
	// than the stored record is ignored.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (user_id, status, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, last_seen = excluded.last_seen
		 WHERE excluded.last_seen >= presence.last_seen`,
		userID, string(status), at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("update presence: %w", err)
	}
	return s.GetPresence(ctx, userID)
}

// GetPresence returns the stored record for a user.
func (s *SQLiteStore) GetPresence(ctx context.Context, userID int64) (*Presence, error) {
	p := &Presence{UserID: userID}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, last_seen FROM presence WHERE user_id = ?`,
		userID,
	).Scan(&status, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	p.Status = Status(status)
	return p, nil
}

// CreateUser inserts a user. Account management proper lives in the HTTP API;
// this exists to bootstrap and test the realtime subsystem.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email string) (*User, error) {
	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)`,
		username, email, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &User{ID: id, Username: username, Email: email, CreatedAt: createdAt}, nil
}

// CreateChat inserts a chat together with its member set.
func (s *SQLiteStore) CreateChat(ctx context.Context, name string, isGroup bool, memberIDs []int64) (*Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin chat tx: %w", err)
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chats (name, is_group_chat, created_at) VALUES (?, ?, ?)`,
		name, isGroup, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("chat id: %w", err)
	}

	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_users (user_id, chat_id) VALUES (?, ?)`,
			userID, id,
		); err != nil {
			return nil, fmt.Errorf("insert chat member %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit chat tx: %w", err)
	}
	return &Chat{ID: id, Name: name, IsGroupChat: isGroup, CreatedAt: createdAt}, nil
}
