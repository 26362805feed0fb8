package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New(logger.Sugar())
}

func recvEvent(t *testing.T, c *Conn) model.Event {
	t.Helper()

	select {
	case data := <-c.Outbound():
		var ev model.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func requireNoEvent(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case data := <-c.Outbound():
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func msgEvent(roomID string, id int64) model.Event {
	return model.NewMessageCreated(model.Message{ID: id, RoomID: roomID, SenderID: "u1", Text: "hi"})
}

func TestPublishReachesRoomMembers(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	a := h.NewConn("u1")
	b := h.NewConn("u2")
	outside := h.NewConn("u3")
	h.Subscribe(a, "r1")
	h.Subscribe(b, "r1")
	h.Subscribe(outside, "r2")

	h.Publish(context.Background(), msgEvent("r1", 1))

	for _, c := range []*Conn{a, b} {
		ev := recvEvent(t, c)
		require.Equal(t, model.EventMessageCreated, ev.Type)
		require.Equal(t, "r1", ev.RoomID)
		require.Equal(t, int64(1), ev.Message.ID)
	}
	requireNoEvent(t, outside)
}

func TestPublishPreservesPerRoomOrder(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	c := h.NewConn("u1")
	h.Subscribe(c, "r1")

	for i := int64(1); i <= 100; i++ {
		h.Publish(context.Background(), msgEvent("r1", i))
	}

	for i := int64(1); i <= 100; i++ {
		ev := recvEvent(t, c)
		require.Equal(t, i, ev.Message.ID)
	}
}

func TestPublishExceptSkipsSender(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	sender := h.NewConn("u1")
	other := h.NewConn("u2")
	h.Subscribe(sender, "r1")
	h.Subscribe(other, "r1")

	h.PublishExcept(context.Background(), model.NewTypingChanged("r1", "u1", true), "u1")

	ev := recvEvent(t, other)
	require.Equal(t, model.EventTypingChanged, ev.Type)
	require.Equal(t, "u1", ev.UserID)
	require.True(t, ev.IsTyping)

	requireNoEvent(t, sender)
}

func TestSlowConnIsDroppedNotBlocking(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	slow := h.NewConn("u1")
	fast := h.NewConn("u2")
	h.Subscribe(slow, "r1")
	h.Subscribe(fast, "r1")

	// fast is drained after every publish, slow never is; once slow's
	// queue overflows it gets cut loose while fast keeps receiving
	total := sendQueueDepth + 1
	for i := 1; i <= total; i++ {
		h.Publish(context.Background(), msgEvent("r1", int64(i)))
		ev := recvEvent(t, fast)
		require.Equal(t, int64(i), ev.Message.ID)
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow connection was not disconnected")
	}

	select {
	case <-fast.Done():
		t.Fatal("fast connection must stay connected")
	default:
	}

	// delivery continues for the survivor
	h.Publish(context.Background(), msgEvent("r1", int64(total+1)))
	ev := recvEvent(t, fast)
	require.Equal(t, int64(total+1), ev.Message.ID)
}

func TestDisconnectRemovesFromAllRosters(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	c := h.NewConn("u1")
	h.Subscribe(c, "r1", "r2")
	require.ElementsMatch(t, []string{"r1", "r2"}, h.Rooms(c))

	h.Disconnect(c)
	require.Empty(t, h.Rooms(c))

	// publishing afterwards must not panic or deliver
	h.Publish(context.Background(), msgEvent("r1", 1))
	h.Publish(context.Background(), msgEvent("r2", 2))

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}

	// double disconnect is a no-op
	h.Disconnect(c)
}

func TestUnsubscribeSingleRoom(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	c := h.NewConn("u1")
	h.Subscribe(c, "r1", "r2")

	h.Unsubscribe(c, "r1")
	require.Equal(t, []string{"r2"}, h.Rooms(c))

	h.Publish(context.Background(), msgEvent("r1", 1))
	requireNoEvent(t, c)

	h.Publish(context.Background(), msgEvent("r2", 2))
	ev := recvEvent(t, c)
	require.Equal(t, "r2", ev.RoomID)
}

func TestDropMemberEvictsAllUserConns(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	laptop := h.NewConn("u1")
	phone := h.NewConn("u1")
	other := h.NewConn("u2")
	h.Subscribe(laptop, "r1", "r2")
	h.Subscribe(phone, "r1")
	h.Subscribe(other, "r1")

	h.DropMember("r1", "u1")

	h.Publish(context.Background(), msgEvent("r1", 1))
	requireNoEvent(t, laptop)
	requireNoEvent(t, phone)
	ev := recvEvent(t, other)
	require.Equal(t, "r1", ev.RoomID)

	// connections survive for the rooms they still belong to
	require.Equal(t, []string{"r2"}, h.Rooms(laptop))
	h.Publish(context.Background(), msgEvent("r2", 2))
	ev = recvEvent(t, laptop)
	require.Equal(t, "r2", ev.RoomID)
}

func TestDropRoomEvictsRoster(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	c := h.NewConn("u1")
	h.Subscribe(c, "r1", "r2")

	h.DropRoom("r1")
	require.Equal(t, []string{"r2"}, h.Rooms(c))

	h.Publish(context.Background(), msgEvent("r1", 1))
	requireNoEvent(t, c)
}

func TestConcurrentSubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); ; i++ {
			select {
			case <-stop:
				return
			default:
				h.Publish(context.Background(), msgEvent("r1", i))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		c := h.NewConn("u")
		h.Subscribe(c, "r1")
		h.Disconnect(c)
	}

	close(stop)
	wg.Wait()
}

func TestSubscribeAfterDisconnectIsIgnored(t *testing.T) {
	t.Parallel()

	h := newTestHub(t)
	c := h.NewConn("u1")
	h.Disconnect(c)

	h.Subscribe(c, "r1")
	require.Empty(t, h.Rooms(c))

	h.Publish(context.Background(), msgEvent("r1", 1))
	requireNoEvent(t, c)
}
