// Package client is the client side of the messaging subsystem: the
// REST caller, the live channel, and the reconciliation layer that
// merges both into one ordered, deduplicated message list per room.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/mahaj/community-chat/pkg/model"
)

// reconcileWindow bounds the sender+text fallback match between an
// optimistic entry and a server message when no token matched.
const reconcileWindow = 10 * time.Second

// Entry is one renderable row of a room timeline: either a confirmed
// server message or an optimistic local send awaiting its echo.
type Entry struct {
	Message model.Message
	Pending bool
	Failed  bool
	Token   string
}

// Merge is the pure reducer behind the timeline: given server-confirmed
// messages and optimistic local entries, produce a single ordered,
// deduplicated view. Confirmed messages sort by store id; optimistic
// entries that match a server message (by idempotency token, or by
// sender+text within the reconcile window) are dropped in its favor,
// the rest trail the confirmed section in local send order.
func Merge(server []model.Message, optimistic []Entry) []Entry {
	ordered := append([]model.Message(nil), server...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	confirmed := make([]model.Message, 0, len(ordered))
	seen := make(map[int64]bool, len(ordered))
	seenTokens := make(map[string]bool, len(ordered))
	for _, m := range ordered {
		if seen[m.ID] {
			continue
		}
		// a retried send can persist twice under the same token; only
		// the earliest copy renders
		if m.ClientToken != "" && seenTokens[m.ClientToken] {
			continue
		}
		seen[m.ID] = true
		if m.ClientToken != "" {
			seenTokens[m.ClientToken] = true
		}
		confirmed = append(confirmed, m)
	}

	out := make([]Entry, 0, len(confirmed)+len(optimistic))
	for _, m := range confirmed {
		out = append(out, Entry{Message: m})
	}

	for _, e := range optimistic {
		if matchesAny(confirmed, e) {
			continue
		}
		out = append(out, e)
	}

	return out
}

func matchesAny(confirmed []model.Message, e Entry) bool {
	for _, m := range confirmed {
		if matches(m, e) {
			return true
		}
	}
	return false
}

func matches(m model.Message, e Entry) bool {
	if e.Token != "" && m.ClientToken == e.Token {
		return true
	}
	if m.SenderID != e.Message.SenderID || m.Text != e.Message.Text {
		return false
	}
	delta := m.CreatedAt.Sub(e.Message.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= reconcileWindow
}

// Timeline is the stateful wrapper around Merge for one room. The
// backfill response and the live channel both feed AddServer, so a
// message replayed through both renders exactly once.
type Timeline struct {
	mu         sync.Mutex
	server     []model.Message
	seen       map[int64]bool
	seenTokens map[string]bool
	optimistic []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{
		seen:       make(map[int64]bool),
		seenTokens: make(map[string]bool),
	}
}

// AddServer records a store-confirmed message from either source.
// Returns false for duplicates: a replayed store id, or a second
// persisted copy of a retried send carrying an already-seen token.
func (t *Timeline) AddServer(m model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[m.ID] {
		return false
	}
	if m.ClientToken != "" && t.seenTokens[m.ClientToken] {
		t.seen[m.ID] = true
		return false
	}
	t.seen[m.ID] = true
	if m.ClientToken != "" {
		t.seenTokens[m.ClientToken] = true
	}
	t.server = append(t.server, m)

	// the echo of an optimistic send reconciles it away
	for i, e := range t.optimistic {
		if matches(m, e) {
			t.optimistic = append(t.optimistic[:i], t.optimistic[i+1:]...)
			break
		}
	}

	return true
}

// AddLocal renders a provisional entry for an outgoing send and returns
// its idempotency token; the caller carries the token on the durable
// append and on any retry of it.
func (t *Timeline) AddLocal(senderID, text string) Entry {
	e := Entry{
		Message: model.Message{
			SenderID:  senderID,
			Text:      text,
			CreatedAt: time.Now(),
		},
		Pending: true,
		Token:   xid.New().String(),
	}

	t.mu.Lock()
	t.optimistic = append(t.optimistic, e)
	t.mu.Unlock()

	return e
}

// ConfirmLocal replaces the provisional entry with the persisted
// message once the append response arrives. The live-channel echo may
// have reconciled it already; that is not an error.
func (t *Timeline) ConfirmLocal(token string, m model.Message) {
	t.mu.Lock()
	for i, e := range t.optimistic {
		if e.Token == token {
			t.optimistic = append(t.optimistic[:i], t.optimistic[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.AddServer(m)
}

// FailLocal flags the provisional entry so the UI can offer a retry.
func (t *Timeline) FailLocal(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.optimistic {
		if t.optimistic[i].Token == token {
			t.optimistic[i].Pending = false
			t.optimistic[i].Failed = true
			return
		}
	}
}

// DropLocal removes a failed entry the user abandoned.
func (t *Timeline) DropLocal(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.optimistic {
		if t.optimistic[i].Token == token {
			t.optimistic = append(t.optimistic[:i], t.optimistic[i+1:]...)
			return
		}
	}
}

// View returns the merged, ordered, deduplicated timeline.
func (t *Timeline) View() []Entry {
	t.mu.Lock()
	server := append([]model.Message(nil), t.server...)
	optimistic := append([]Entry(nil), t.optimistic...)
	t.mu.Unlock()

	return Merge(server, optimistic)
}
