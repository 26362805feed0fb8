// Package typing tracks ephemeral per-(room, user) typing signals.
// Nothing here is persisted: a signal lives in the tracker's map until
// it is cleared or its deadline passes, and a periodic sweep broadcasts
// the clear for clients that vanished mid-burst. Clients already
// debounce at 2-3 seconds; the sweep is the server-side safety net that
// keeps an indicator from sticking forever.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

// Broadcaster is the slice of the fanout engine the tracker needs.
type Broadcaster interface {
	PublishExcept(ctx context.Context, ev model.Event, exceptUserID string)
}

type key struct {
	roomID, userID string
}

type Tracker struct {
	logger *zap.SugaredLogger
	hub    Broadcaster
	ttl    time.Duration
	sweep  time.Duration

	mu      sync.Mutex
	expires map[key]time.Time
}

// Option alters tracker construction; tests shrink the windows.
type Option func(*Tracker)

func WithTTL(d time.Duration) Option {
	return func(t *Tracker) { t.ttl = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sweep = d }
}

func New(logger *zap.SugaredLogger, hub Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{
		logger:  logger,
		hub:     hub,
		ttl:     3 * time.Second,
		sweep:   500 * time.Millisecond,
		expires: make(map[key]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Set records or clears the signal and immediately fans the new state
// out to the room, excluding the sender. Last write wins per
// (room, user).
func (t *Tracker) Set(ctx context.Context, roomID, userID string, isTyping bool) {
	k := key{roomID: roomID, userID: userID}

	t.mu.Lock()
	if isTyping {
		t.expires[k] = time.Now().Add(t.ttl)
	} else {
		delete(t.expires, k)
	}
	t.mu.Unlock()

	t.hub.PublishExcept(ctx, model.NewTypingChanged(roomID, userID, isTyping), userID)
}

// ForgetRoom drops all signals for a deleted room without broadcasting;
// the group.deleted event already evicts the room client-side.
func (t *Tracker) ForgetRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k := range t.expires {
		if k.roomID == roomID {
			delete(t.expires, k)
		}
	}
}

// Run sweeps expired signals until ctx is cancelled, broadcasting a
// clear for each one so no indicator outlives its sender.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, k := range t.expired(now) {
				t.logger.Debugf("typing signal for user %s in room %s expired", k.userID, k.roomID)
				t.hub.PublishExcept(ctx, model.NewTypingChanged(k.roomID, k.userID, false), k.userID)
			}
		}
	}
}

func (t *Tracker) expired(now time.Time) []key {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []key
	for k, deadline := range t.expires {
		if now.After(deadline) {
			delete(t.expires, k)
			out = append(out, k)
		}
	}
	return out
}
