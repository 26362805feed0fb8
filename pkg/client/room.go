package client

import (
	"sort"
	"sync"

	"github.com/mahaj/community-chat/pkg/model"
)

// Room reconciles the two sources for one room: live events that can
// start arriving the moment the channel is subscribed, and the history
// backfill that resolves later. Events seen before the backfill lands
// are buffered and merged, never dropped.
type Room struct {
	ID string

	mu       sync.Mutex
	timeline *Timeline
	buffer   []model.Event
	ready    bool
	deleted  bool
	typers   map[string]bool
}

func NewRoom(roomID string) *Room {
	return &Room{
		ID:       roomID,
		timeline: NewTimeline(),
		typers:   make(map[string]bool),
	}
}

// Apply feeds one live event into the room state.
func (r *Room) Apply(ev model.Event) {
	if ev.RoomID != r.ID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready && ev.Type == model.EventMessageCreated {
		r.buffer = append(r.buffer, ev)
		return
	}

	r.applyLocked(ev)
}

func (r *Room) applyLocked(ev model.Event) {
	switch ev.Type {
	case model.EventMessageCreated:
		if ev.Message != nil {
			r.timeline.AddServer(*ev.Message)
		}
	case model.EventTypingChanged:
		if ev.IsTyping {
			r.typers[ev.UserID] = true
		} else {
			delete(r.typers, ev.UserID)
		}
	case model.EventGroupDeleted:
		r.deleted = true
	}
}

// LoadHistory merges the backfill page and drains everything that was
// buffered while it was in flight. Dedup by store id makes the overlap
// between the two sources harmless.
func (r *Room) LoadHistory(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.timeline.AddServer(m)
	}

	r.ready = true
	for _, ev := range r.buffer {
		r.applyLocked(ev)
	}
	r.buffer = nil
}

// SendLocal renders the provisional entry for an outgoing message.
func (r *Room) SendLocal(senderID, text string) Entry {
	return r.timeline.AddLocal(senderID, text)
}

func (r *Room) ConfirmSend(token string, m model.Message) { r.timeline.ConfirmLocal(token, m) }
func (r *Room) FailSend(token string)                     { r.timeline.FailLocal(token) }

// Messages returns the merged ordered view.
func (r *Room) Messages() []Entry {
	return r.timeline.View()
}

// Typers lists users currently showing a typing indicator.
func (r *Room) Typers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for userID := range r.typers {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Deleted reports a group.deleted push; the UI evicts the room.
func (r *Room) Deleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}
