package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
	"github.com/mahaj/community-chat/pkg/snowflake"
	"github.com/mahaj/community-chat/pkg/store"
)

type recordingPublisher struct {
	mu             sync.Mutex
	events         []model.Event
	dropped        []string
	droppedMembers []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) DropRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, roomID)
}

func (p *recordingPublisher) DropMember(roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.droppedMembers = append(p.droppedMembers, roomID+"/"+userID)
}

func (p *recordingPublisher) snapshot() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

type failingMessages struct {
	store.MessageStore
}

func (f *failingMessages) Append(context.Context, model.Message) error {
	return model.Transient(errors.New("disk on fire"))
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	svc := NewService(logger.Sugar(), store.NewMemoryMembership(), store.NewMemoryMessages(), pub, ids)
	return svc, pub
}

func TestCreateGroupAddsOwner(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	g, err := svc.CreateGroup(context.Background(), "u1", "team", "", []string{"u2", "u3"})
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)
	require.Equal(t, "u1", g.OwnerID)
	require.ElementsMatch(t, []string{"u1", "u2", "u3"}, g.MemberIDs)
}

func TestCreateGroupEmptyName(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.CreateGroup(context.Background(), "u1", "   ", "", nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestAppendAndBackfill(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", []string{"u2"})
	require.NoError(t, err)

	hello, err := svc.AppendMessage(ctx, g.ID, "u1", "hello", "")
	require.NoError(t, err)
	require.Greater(t, hello.ID, int64(0))

	msg2, err := svc.AppendMessage(ctx, g.ID, "u2", "msg2", "")
	require.NoError(t, err)
	require.Greater(t, msg2.ID, hello.ID)

	events := pub.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, model.EventMessageCreated, events[0].Type)
	require.Equal(t, "hello", events[0].Message.Text)
	require.Equal(t, "msg2", events[1].Message.Text)

	history, err := svc.FetchHistory(ctx, g.ID, "u2", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "msg2", history[0].Text)
	require.Equal(t, "hello", history[1].Text)
}

func TestAppendEmptyText(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", nil)
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, g.ID, "u1", "   \n ", "")
	require.ErrorIs(t, err, model.ErrValidation)
	require.Empty(t, pub.snapshot())
}

func TestNonMemberDenied(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", []string{"u2"})
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, g.ID, "w", "intruder", "")
	require.ErrorIs(t, err, model.ErrPermissionDenied)

	_, err = svc.FetchHistory(ctx, g.ID, "w", 0, 0)
	require.ErrorIs(t, err, model.ErrPermissionDenied)

	// state unchanged
	require.Empty(t, pub.snapshot())
	history, err := svc.FetchHistory(ctx, g.ID, "u1", 0, 0)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAppendUnknownRoom(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.AppendMessage(context.Background(), "missing", "u1", "hi", "")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestPersistFailureMeansNoFanout(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	groups := store.NewMemoryMembership()
	svc := NewService(logger.Sugar(), groups, &failingMessages{}, pub, ids)

	ctx := context.Background()
	g, err := svc.CreateGroup(ctx, "u1", "team", "", nil)
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, g.ID, "u1", "hello", "")
	require.ErrorIs(t, err, model.ErrUnavailable)
	require.Empty(t, pub.snapshot())
}

func TestDeleteGroupCascadesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", []string{"u2"})
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, g.ID, "u1", "hello", "")
	require.NoError(t, err)

	// non-owner cannot delete
	require.ErrorIs(t, svc.DeleteGroup(ctx, g.ID, "u2"), model.ErrPermissionDenied)

	require.NoError(t, svc.DeleteGroup(ctx, g.ID, "u1"))

	events := pub.snapshot()
	last := events[len(events)-1]
	require.Equal(t, model.EventGroupDeleted, last.Type)
	require.Equal(t, g.ID, last.RoomID)
	require.Equal(t, []string{g.ID}, pub.dropped)

	// second delete is NotFound, not a crash
	require.ErrorIs(t, svc.DeleteGroup(ctx, g.ID, "u1"), model.ErrNotFound)

	// history is gone with the room
	_, err = svc.FetchHistory(ctx, g.ID, "u1", 0, 0)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestLeaveGroup(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", []string{"u2"})
	require.NoError(t, err)

	require.NoError(t, svc.LeaveGroup(ctx, g.ID, "u2"))
	require.ErrorIs(t, svc.LeaveGroup(ctx, g.ID, "u2"), model.ErrPermissionDenied)

	// the leaver's live connections get cut from the room
	require.Equal(t, []string{g.ID + "/u2"}, pub.droppedMembers)

	groups, err := svc.ListGroupsForUser(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestLastMemberLeavingDeletesGroup(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.LeaveGroup(ctx, g.ID, "u1"))

	events := pub.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, model.EventGroupDeleted, events[0].Type)

	require.ErrorIs(t, svc.LeaveGroup(ctx, g.ID, "u1"), model.ErrNotFound)
}

func TestOwnerLeavingTransfersOwnership(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", []string{"u2", "u3"})
	require.NoError(t, err)

	require.NoError(t, svc.LeaveGroup(ctx, g.ID, "u1"))

	groups, err := svc.ListGroupsForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Contains(t, groups[0].MemberIDs, groups[0].OwnerID)
	require.NotEqual(t, "u1", groups[0].OwnerID)
}

func TestHistoryPagination(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "u1", "team", "", nil)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 7; i++ {
		m, err := svc.AppendMessage(ctx, g.ID, "u1", "m", "")
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page1, err := svc.FetchHistory(ctx, g.ID, "u1", 0, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.Equal(t, ids[6], page1[0].ID)

	page2, err := svc.FetchHistory(ctx, g.ID, "u1", page1[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page2, 3)
	require.Equal(t, ids[3], page2[0].ID)

	page3, err := svc.FetchHistory(ctx, g.ID, "u1", page2[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, ids[0], page3[0].ID)
}
