package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceChannel is the single global key for presence broadcasts.
const PresenceChannel = "presence"

// Conn is the slice of a transport connection the hub needs: identity and a
// non-blocking send. *transport.Connection satisfies it.
type Conn interface {
	ID() uuid.UUID
	Send(message []byte) error
	Close(err error)
}

type owner struct {
	userID int64
	conn   Conn
	since  time.Time
}

// Registry maps channel keys (one per chat, plus the presence key) to the set
// of currently attached connections. The session handler owns each connection;
// the registry only indexes it for fan-out and cleanup lookups.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[uuid.UUID]Conn
	owners   map[uuid.UUID]owner

	metrics *Metrics
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		channels: make(map[string]map[uuid.UUID]Conn),
		owners:   make(map[uuid.UUID]owner),
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "hub_registry")),
	}
}

// Register adds the connection to the set for channelKey, creating the set if
// absent. Re-registering the same connection under the same key is a caller
// error but is absorbed rather than duplicated.
func (r *Registry) Register(channelKey string, c Conn, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[channelKey]
	if !ok {
		set = make(map[uuid.UUID]Conn)
		r.channels[channelKey] = set
	}
	set[c.ID()] = c
	r.owners[c.ID()] = owner{userID: userID, conn: c, since: time.Now()}

	r.metrics.SetActiveConnections(len(r.owners))
	r.metrics.SetActiveChannels(len(r.channels))
	r.logger.Debug("connection registered",
		slog.String("channel", channelKey),
		slog.String("connID", c.ID().String()),
		slog.Int64("userID", userID),
	)
}

// Deregister removes the connection from the set for channelKey, deleting the
// key once the set is empty. It is a no-op when the connection or key is
// already gone, so it is safe to run from both the normal-close and the
// error-close paths.
func (r *Registry) Deregister(channelKey string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[channelKey]
	if !ok {
		return
	}
	if _, ok := set[c.ID()]; !ok {
		return
	}
	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.channels, channelKey)
	}
	delete(r.owners, c.ID())

	r.metrics.SetActiveConnections(len(r.owners))
	r.metrics.SetActiveChannels(len(r.channels))
	r.logger.Debug("connection deregistered",
		slog.String("channel", channelKey),
		slog.String("connID", c.ID().String()),
	)
}

// Snapshot returns the current membership of channelKey. The returned slice is
// a copy; iterating it never holds the registry lock, so slow recipients can
// not stall registration.
func (r *Registry) Snapshot(channelKey string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.channels[channelKey]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Owner returns the user id a registered connection belongs to.
func (r *Registry) Owner(connID uuid.UUID) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.owners[connID]
	return o.userID, ok
}

// UserConnectionCount counts a user's registered connections across all
// channel keys.
func (r *Registry) UserConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, o := range r.owners {
		if o.userID == userID {
			n++
		}
	}
	return n
}

// OldestUserConnection returns the user's longest-registered connection, used
// by the connection limiter's cycle mode.
func (r *Registry) OldestUserConnection(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest owner
	found := false
	for _, o := range r.owners {
		if o.userID != userID {
			continue
		}
		if !found || o.since.Before(oldest.since) {
			oldest = o
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return oldest.conn, true
}

// AllConnections returns every registered connection, across all channel
// keys. Used by the graceful shutdown path.
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.owners))
	for _, o := range r.owners {
		conns = append(conns, o.conn)
	}
	return conns
}

// ConnectionCount returns the total number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// ChannelCount returns the number of channel keys with at least one member.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
