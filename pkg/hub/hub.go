// Package hub is the fanout engine: it owns the map from room id to the
// roster of live connections and routes every event to the connected
// members of its room. Rosters are explicit indexes, so disconnect has
// to scrub a connection from every roster it joined; nothing here leans
// on garbage collection to drop references.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

// sendQueueDepth bounds the per-connection outbound queue. A connection
// that stays this far behind a broadcast gets disconnected instead of
// stalling delivery to the rest of the room; it recovers missed
// messages through history backfill on reconnect.
const sendQueueDepth = 256

// Conn is one live connection: an authenticated user plus a bounded
// outbound queue. The transport pumps live in the server; the hub only
// ever performs non-blocking sends into the queue.
type Conn struct {
	userID     string
	send       chan []byte
	done       chan struct{}
	subscribed atomic.Bool
	closeOnce  sync.Once
}

func (c *Conn) UserID() string { return c.userID }

// Outbound is the queue the transport writer drains. It is never
// closed; the writer also watches Done to learn about disconnects, so a
// broadcast that raced with one can never send on a closed channel.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed when the hub disconnects the connection.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Subscribed reports whether the connection completed the "join rooms"
// handshake; the server drops connections that never do.
func (c *Conn) Subscribed() bool { return c.subscribed.Load() }

type Hub struct {
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]map[*Conn]bool // room id -> roster
	conns map[*Conn]map[string]bool // reverse index: conn -> room ids
	users map[string]map[*Conn]bool // user id -> their live connections

	bridge *Bridge
}

// Option alters hub construction.
type Option func(*Hub)

// WithBridge routes published events through a Kafka topic so every
// node of a sharded deployment delivers them to its local connections.
// Without it, publish delivers locally and the hub is single-node.
func WithBridge(b *Bridge) Option {
	return func(h *Hub) { h.bridge = b }
}

func New(logger *zap.SugaredLogger, opts ...Option) *Hub {
	h := &Hub{
		logger: logger,
		rooms:  make(map[string]map[*Conn]bool),
		conns:  make(map[*Conn]map[string]bool),
		users:  make(map[string]map[*Conn]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run consumes the bridge, if any, delivering each envelope locally.
// It blocks until ctx is cancelled. Without a bridge it returns at once.
func (h *Hub) Run(ctx context.Context) error {
	if h.bridge == nil {
		return nil
	}
	return h.bridge.Consume(ctx, func(env envelope) {
		h.deliverLocal(env.Event, env.ExcludeUserID)
	})
}

// NewConn registers a connection in Authenticated state. It belongs to
// no roster until Subscribe.
func (h *Hub) NewConn(userID string) *Conn {
	c := &Conn{
		userID: userID,
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c] = make(map[string]bool)
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Conn]bool)
	}
	h.users[userID][c] = true
	h.mu.Unlock()

	return c
}

// Subscribe adds the connection to each room's roster. Membership has
// been validated by the caller against the membership store.
func (h *Hub) Subscribe(c *Conn, roomIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.conns[c]
	if !ok {
		// already disconnected
		return
	}

	for _, roomID := range roomIDs {
		if h.rooms[roomID] == nil {
			h.rooms[roomID] = make(map[*Conn]bool)
		}
		h.rooms[roomID][c] = true
		joined[roomID] = true
	}
	c.subscribed.Store(true)

	h.logger.Debugf("conn for user %s subscribed to %d rooms", c.userID, len(roomIDs))
}

// Unsubscribe removes the connection from one roster, e.g. after the
// user left the group.
func (h *Hub) Unsubscribe(c *Conn, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomLocked(c, roomID)
	if joined, ok := h.conns[c]; ok {
		delete(joined, roomID)
	}
}

// DropMember removes every connection of one user from one room's
// roster, after the user left the group. Their connections stay alive
// for their remaining rooms.
func (h *Hub) DropMember(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.users[userID] {
		h.removeFromRoomLocked(c, roomID)
		if joined, ok := h.conns[c]; ok {
			delete(joined, roomID)
		}
	}
}

// Rooms returns the room ids the connection is currently subscribed to.
func (h *Hub) Rooms(c *Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for roomID := range h.conns[c] {
		out = append(out, roomID)
	}
	return out
}

// Disconnect removes the connection from every roster it was part of
// and closes its outbound queue. Safe to call more than once.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	joined, ok := h.conns[c]
	if ok {
		for roomID := range joined {
			h.removeFromRoomLocked(c, roomID)
		}
		delete(h.conns, c)
		delete(h.users[c.userID], c)
		if len(h.users[c.userID]) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debugf("conn for user %s disconnected", c.userID)
	}

	c.closeOnce.Do(func() { close(c.done) })
}

func (h *Hub) removeFromRoomLocked(c *Conn, roomID string) {
	roster, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(roster, c)
	if len(roster) == 0 {
		delete(h.rooms, roomID)
	}
}

// DropRoom evicts a whole roster, after group deletion. Connections
// stay alive for their remaining rooms.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[roomID] {
		delete(h.conns[c], roomID)
	}
	delete(h.rooms, roomID)
}

// Publish fans the event out to every live connection in its room.
func (h *Hub) Publish(ctx context.Context, ev model.Event) {
	h.publish(ctx, ev, "")
}

// PublishExcept is Publish minus one recipient, used for typing events
// so a sender never sees its own indicator.
func (h *Hub) PublishExcept(ctx context.Context, ev model.Event, exceptUserID string) {
	h.publish(ctx, ev, exceptUserID)
}

func (h *Hub) publish(ctx context.Context, ev model.Event, exceptUserID string) {
	if h.bridge != nil {
		if err := h.bridge.Publish(ctx, envelope{Event: ev, ExcludeUserID: exceptUserID}); err != nil {
			// Local delivery still happens on this node via Consume for
			// successfully published events; on failure we fall back to
			// local-only so connected members of this node are not lost.
			h.logger.Errorf("bridge publish for room %s: %v", ev.RoomID, err)
			h.deliverLocal(ev, exceptUserID)
		}
		return
	}
	h.deliverLocal(ev, exceptUserID)
}

// deliverLocal sends to each roster member independently. The roster is
// snapshotted under the read lock and iterated without it, so a
// concurrent join or leave never corrupts the pass, and storage I/O
// upstream never runs while any roster lock is held. Sends are
// non-blocking; a connection with a full queue is cut loose.
func (h *Hub) deliverLocal(ev model.Event, exceptUserID string) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Errorf("marshal %s event: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	roster := make([]*Conn, 0, len(h.rooms[ev.RoomID]))
	for c := range h.rooms[ev.RoomID] {
		if exceptUserID != "" && c.userID == exceptUserID {
			continue
		}
		roster = append(roster, c)
	}
	h.mu.RUnlock()

	var dropped []*Conn
	for _, c := range roster {
		select {
		case <-c.done:
			// raced with a disconnect, nothing to deliver
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}

	for _, c := range dropped {
		h.logger.Warnf("dropping slow conn for user %s in room %s", c.userID, ev.RoomID)
		h.Disconnect(c)
	}
}
