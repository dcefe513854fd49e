package hub_test

import (
	"fmt"
	"testing"

	"github.com/autkucakan/Chat-Block/internal/hub"
)

func newTestBroadcaster(r *hub.Registry) *hub.Broadcaster {
	return hub.NewBroadcaster(r, newTestLogger(), nil)
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	r := newTestRegistry()
	b := newTestBroadcaster(r)

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for i, c := range conns {
		r.Register("chat:1", c, int64(i))
	}
	outsider := newFakeConn()
	r.Register("chat:2", outsider, 99)

	payload := []byte(`{"id":1}`)
	b.Broadcast("chat:1", payload)

	for i, c := range conns {
		msgs := c.messages()
		if len(msgs) != 1 {
			t.Fatalf("conn %d: expected 1 message, got %d", i, len(msgs))
		}
		if string(msgs[0]) != string(payload) {
			t.Errorf("conn %d: payload mismatch: %s", i, msgs[0])
		}
	}
	if len(outsider.messages()) != 0 {
		t.Error("broadcast leaked into another channel key")
	}
}

func TestBroadcastToEmptyChannelIsANoOp(t *testing.T) {
	r := newTestRegistry()
	b := newTestBroadcaster(r)
	b.Broadcast("chat:404", []byte("hello"))
}

func TestBroadcastSurvivesFailedRecipients(t *testing.T) {
	r := newTestRegistry()
	b := newTestBroadcaster(r)

	healthy1, dead, healthy2 := newFakeConn(), newFakeConn(), newFakeConn()
	dead.fail = true
	r.Register("chat:1", healthy1, 1)
	r.Register("chat:1", dead, 2)
	r.Register("chat:1", healthy2, 3)

	b.Broadcast("chat:1", []byte("m1"))

	if len(healthy1.messages()) != 1 || len(healthy2.messages()) != 1 {
		t.Error("failed recipient aborted delivery to the others")
	}
	if len(dead.messages()) != 0 {
		t.Error("dead recipient should not have received anything")
	}
}

func TestBroadcastOrderPreservedPerConnection(t *testing.T) {
	r := newTestRegistry()
	b := newTestBroadcaster(r)

	listener := newFakeConn()
	r.Register("chat:1", listener, 1)

	const n = 20
	for i := 0; i < n; i++ {
		b.Broadcast("chat:1", []byte(fmt.Sprintf("m%d", i)))
	}

	msgs := listener.messages()
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if string(m) != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d out of order: %s", i, m)
		}
	}
}
