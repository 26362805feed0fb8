package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

type published struct {
	ev     model.Event
	except string
}

type fakeHub struct {
	mu     sync.Mutex
	events []published
}

func (f *fakeHub) PublishExcept(_ context.Context, ev model.Event, exceptUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{ev: ev, except: exceptUserID})
}

func (f *fakeHub) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.events...)
}

func newTestTracker(t *testing.T, hub Broadcaster, opts ...Option) *Tracker {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New(logger.Sugar(), hub, opts...)
}

func TestSetBroadcastsExcludingSender(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	tr := newTestTracker(t, hub)

	tr.Set(context.Background(), "r1", "u1", true)

	events := hub.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, model.EventTypingChanged, events[0].ev.Type)
	require.Equal(t, "r1", events[0].ev.RoomID)
	require.Equal(t, "u1", events[0].ev.UserID)
	require.True(t, events[0].ev.IsTyping)
	require.Equal(t, "u1", events[0].except)
}

func TestExplicitClearBroadcasts(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	tr := newTestTracker(t, hub)

	tr.Set(context.Background(), "r1", "u1", true)
	tr.Set(context.Background(), "r1", "u1", false)

	events := hub.snapshot()
	require.Len(t, events, 2)
	require.False(t, events[1].ev.IsTyping)
}

func TestSignalExpiresAndBroadcastsClear(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	tr := newTestTracker(t, hub, WithTTL(60*time.Millisecond), WithSweepInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Set(ctx, "r1", "u1", true)

	require.Eventually(t, func() bool {
		events := hub.snapshot()
		last := events[len(events)-1]
		return len(events) == 2 && last.ev.Type == model.EventTypingChanged && !last.ev.IsTyping
	}, time.Second, 10*time.Millisecond)
}

func TestRefreshExtendsDeadline(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	tr := newTestTracker(t, hub, WithTTL(80*time.Millisecond), WithSweepInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Set(ctx, "r1", "u1", true)
	// keep refreshing well past the original deadline
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Set(ctx, "r1", "u1", true)
	}

	// no clear event yet: every published event is still is_typing=true
	for _, p := range hub.snapshot() {
		require.True(t, p.ev.IsTyping)
	}

	// stop refreshing; expiry clear must arrive
	require.Eventually(t, func() bool {
		events := hub.snapshot()
		return !events[len(events)-1].ev.IsTyping
	}, time.Second, 10*time.Millisecond)
}

func TestForgetRoomSilencesExpiry(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	tr := newTestTracker(t, hub, WithTTL(30*time.Millisecond), WithSweepInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Set(ctx, "r1", "u1", true)
	tr.ForgetRoom("r1")

	time.Sleep(100 * time.Millisecond)

	events := hub.snapshot()
	require.Len(t, events, 1)
	require.True(t, events[0].ev.IsTyping)
}
