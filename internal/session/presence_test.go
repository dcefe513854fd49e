package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autkucakan/Chat-Block/internal/hub"
	"github.com/autkucakan/Chat-Block/internal/session"
	"github.com/autkucakan/Chat-Block/internal/store"
)

type fakePresenceStore struct {
	mu   sync.Mutex
	recs map[int64]store.Presence
	fail bool
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{recs: make(map[int64]store.Presence)}
}

func (s *fakePresenceStore) UpdatePresence(ctx context.Context, userID int64, status store.Status, at time.Time) (*store.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("storage unavailable")
	}
	rec := store.Presence{UserID: userID, Status: status, LastSeen: at}
	s.recs[userID] = rec
	return &rec, nil
}

type presenceFixture struct {
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	presence    *fakePresenceStore
}

func newPresenceFixture() *presenceFixture {
	logger := newTestLogger()
	registry := hub.NewRegistry(logger, nil)
	return &presenceFixture{
		registry:    registry,
		broadcaster: hub.NewBroadcaster(registry, logger, nil),
		presence:    newFakePresenceStore(),
	}
}

func (f *presenceFixture) newSession(userID int64, conn hub.Conn) *session.Presence {
	return session.NewPresence(userID, conn, f.registry, f.broadcaster, f.presence, nil, newTestLogger())
}

func decodePresence(t *testing.T, raw []byte) session.PresenceEvent {
	t.Helper()
	var ev session.PresenceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("bad presence payload %s: %v", raw, err)
	}
	return ev
}

// --- Presence Session Tests ---

func TestPresenceAttachEchoesOwnOnlineTransition(t *testing.T) {
	f := newPresenceFixture()
	conn := newFakeConn()
	sess := f.newSession(42, conn)

	sess.Attach(context.Background())

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected the attaching connection to see its own transition, got %d messages", len(msgs))
	}
	ev := decodePresence(t, msgs[0])
	if ev.UserID != 42 || ev.Status != "online" {
		t.Errorf("unexpected attach event: %+v", ev)
	}
}

func TestPresenceStatusUpdateBroadcastToAll(t *testing.T) {
	f := newPresenceFixture()
	conn1, conn2 := newFakeConn(), newFakeConn()
	sess1 := f.newSession(1, conn1)
	sess2 := f.newSession(2, conn2)
	sess1.Attach(context.Background())
	sess2.Attach(context.Background())

	sess1.HandleMessage(context.Background(), conn1.ID(), []byte(`{"status":"away"}`))

	// conn2 saw: its own online, then user 1 going away.
	msgs := conn2.messages()
	last := decodePresence(t, msgs[len(msgs)-1])
	if last.UserID != 1 || last.Status != "away" {
		t.Errorf("expected away transition for user 1, got %+v", last)
	}
	// The sender sees its own update too.
	msgs = conn1.messages()
	last = decodePresence(t, msgs[len(msgs)-1])
	if last.UserID != 1 || last.Status != "away" {
		t.Errorf("sender did not observe its own transition: %+v", last)
	}
}

func TestPresenceInvalidStatusAnsweredInlineOnly(t *testing.T) {
	f := newPresenceFixture()
	conn1, conn2 := newFakeConn(), newFakeConn()
	sess1 := f.newSession(1, conn1)
	f.newSession(2, conn2).Attach(context.Background())
	sess1.Attach(context.Background())

	before2 := len(conn2.messages())
	sess1.HandleMessage(context.Background(), conn1.ID(), []byte(`{"status":"sleeping"}`))

	msgs := conn1.messages()
	var ev session.ErrorEvent
	if err := json.Unmarshal(msgs[len(msgs)-1], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Error != "invalid status" {
		t.Errorf("expected 'invalid status', got %q", ev.Error)
	}
	if len(conn2.messages()) != before2 {
		t.Error("protocol error leaked to other listeners")
	}
	// The offending connection stays attached.
	if f.registry.UserConnectionCount(1) != 1 {
		t.Error("connection should remain registered after a protocol error")
	}
}

func TestPresenceMalformedPayloadAnsweredInline(t *testing.T) {
	f := newPresenceFixture()
	conn := newFakeConn()
	sess := f.newSession(1, conn)
	sess.Attach(context.Background())

	sess.HandleMessage(context.Background(), conn.ID(), []byte(`{status:`))

	msgs := conn.messages()
	var ev session.ErrorEvent
	if err := json.Unmarshal(msgs[len(msgs)-1], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Error != "invalid format" {
		t.Errorf("expected 'invalid format', got %q", ev.Error)
	}

	// A later valid update still goes through.
	sess.HandleMessage(context.Background(), conn.ID(), []byte(`{"status":"away"}`))
	last := decodePresence(t, conn.messages()[len(conn.messages())-1])
	if last.Status != "away" {
		t.Error("session should keep processing after a malformed frame")
	}
}

func TestPresenceDetachBroadcastsOfflineToSurvivors(t *testing.T) {
	f := newPresenceFixture()
	departing, survivor := newFakeConn(), newFakeConn()
	departingSess := f.newSession(1, departing)
	f.newSession(2, survivor).Attach(context.Background())
	departingSess.Attach(context.Background())

	departingBefore := len(departing.messages())
	// Abrupt network failure on the departing connection.
	departingSess.HandleClose(departing.ID(), errors.New("connection reset"))

	msgs := survivor.messages()
	last := decodePresence(t, msgs[len(msgs)-1])
	if last.UserID != 1 || last.Status != "offline" {
		t.Errorf("survivor did not observe the offline transition: %+v", last)
	}
	if len(departing.messages()) != departingBefore {
		t.Error("departing connection should not receive the offline broadcast")
	}
	if f.registry.UserConnectionCount(1) != 0 {
		t.Error("departing connection still registered")
	}

	if rec := f.presence.recs[1]; rec.Status != store.StatusOffline {
		t.Errorf("offline transition not persisted, store has %q", rec.Status)
	}

	// Error-close followed by normal close must stay a no-op.
	departingSess.HandleClose(departing.ID(), nil)
}

func TestPresencePersistFailureSkipsBroadcast(t *testing.T) {
	f := newPresenceFixture()
	conn1, conn2 := newFakeConn(), newFakeConn()
	sess1 := f.newSession(1, conn1)
	f.newSession(2, conn2).Attach(context.Background())
	sess1.Attach(context.Background())

	f.presence.fail = true
	before := len(conn2.messages())
	sess1.HandleMessage(context.Background(), conn1.ID(), []byte(`{"status":"away"}`))

	if len(conn2.messages()) != before {
		t.Error("no broadcast should follow a failed presence persist")
	}
	if f.registry.UserConnectionCount(1) != 1 {
		t.Error("session must survive a persistence failure")
	}
}
