// Package chat implements the message and group operations on top of
// the durable stores and the fanout engine: membership checks, the
// persist-then-fanout contract, and the group lifecycle cascades.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
	"github.com/mahaj/community-chat/pkg/snowflake"
	"github.com/mahaj/community-chat/pkg/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Publisher is the slice of the fanout engine the service drives.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
	DropRoom(roomID string)
	DropMember(roomID, userID string)
}

type Service struct {
	logger   *zap.SugaredLogger
	groups   store.MembershipStore
	messages store.MessageStore
	hub      Publisher
	ids      *snowflake.Node

	// roomLocks serializes persist+fanout per room so delivery order
	// always matches store order. These are not the hub's roster locks;
	// storage I/O never runs under those.
	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func NewService(logger *zap.SugaredLogger, groups store.MembershipStore, messages store.MessageStore, hub Publisher, ids *snowflake.Node) *Service {
	return &Service{
		logger:    logger,
		groups:    groups,
		messages:  messages,
		hub:       hub,
		ids:       ids,
		roomLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.roomLocks[roomID] = lock
	}
	return lock
}

func (s *Service) dropRoomLock(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roomLocks, roomID)
}

// CreateGroup creates a group owned by ownerID. The owner is always a
// member and is added to memberIDs if absent.
func (s *Service) CreateGroup(ctx context.Context, ownerID, name, description string, memberIDs []string) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, model.Validation("group name is empty")
	}

	members := make([]string, 0, len(memberIDs)+1)
	seen := make(map[string]bool, len(memberIDs)+1)
	for _, userID := range append([]string{ownerID}, memberIDs...) {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		members = append(members, userID)
	}

	g := model.Group{
		ID:          xid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		MemberIDs:   members,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.groups.CreateGroup(ctx, g); err != nil {
		return model.Group{}, err
	}

	s.logger.Infof("group %s created by %s with %d members", g.ID, ownerID, len(members))
	return g, nil
}

// DeleteGroup deletes a group and everything that hangs off it:
// messages are cascaded, connected members get a group.deleted push so
// their UI can evict the room, and the live roster is dropped. Only the
// owner may delete; a second delete yields NotFound.
func (s *Service) DeleteGroup(ctx context.Context, groupID, requesterID string) error {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID != requesterID {
		return model.ErrPermissionDenied
	}

	return s.deleteCascade(ctx, groupID)
}

// LeaveGroup removes the membership. The last member leaving deletes
// the group with the full cascade; an owner leaving a non-empty group
// hands ownership to the first remaining member so the owner-is-member
// invariant holds.
func (s *Service) LeaveGroup(ctx context.Context, groupID, userID string) error {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return err
	}

	// the leaver's live connections stop receiving the room immediately
	s.hub.DropMember(groupID, userID)

	remaining, err := s.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}

	if len(remaining) == 0 {
		s.logger.Infof("last member %s left group %s, deleting", userID, groupID)
		return s.deleteCascade(ctx, groupID)
	}

	if g.OwnerID == userID {
		if err := s.groups.UpdateOwner(ctx, groupID, remaining[0]); err != nil {
			return err
		}
		s.logger.Infof("ownership of group %s passed from %s to %s", groupID, userID, remaining[0])
	}

	return nil
}

func (s *Service) deleteCascade(ctx context.Context, groupID string) error {
	if err := s.messages.DeleteRoom(ctx, groupID); err != nil {
		return err
	}
	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		return err
	}

	s.hub.Publish(ctx, model.NewGroupDeleted(groupID))
	s.hub.DropRoom(groupID)
	s.dropRoomLock(groupID)

	return nil
}

// ListGroupsForUser returns the caller's groups; a fresh live
// connection subscribes to exactly these room ids.
func (s *Service) ListGroupsForUser(ctx context.Context, userID string) ([]model.Group, error) {
	return s.groups.GroupsForUser(ctx, userID)
}

// IsMember reports room membership for the live-channel subscribe path.
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return s.groups.IsMember(ctx, roomID, userID)
}

// AppendMessage durably appends and then fans out. The two steps are
// serialized per room, so any one recipient observes messages in store
// order. If persistence fails no fanout happens and the caller gets the
// error; delivery failures to individual recipients stay local to them.
func (s *Service) AppendMessage(ctx context.Context, roomID, senderID, text, clientToken string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, model.Validation("message text is empty")
	}

	if _, err := s.groups.GetGroup(ctx, roomID); err != nil {
		return model.Message{}, err
	}
	ok, err := s.groups.IsMember(ctx, roomID, senderID)
	if err != nil {
		return model.Message{}, err
	}
	if !ok {
		return model.Message{}, model.ErrPermissionDenied
	}

	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	msg := model.Message{
		ID:          s.ids.Generate(),
		RoomID:      roomID,
		SenderID:    senderID,
		Text:        text,
		ClientToken: clientToken,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return model.Message{}, err
	}

	s.hub.Publish(ctx, model.NewMessageCreated(msg))

	return msg, nil
}

// FetchHistory is the backfill path: newest-first, paged backward with
// the before cursor. Requires membership.
func (s *Service) FetchHistory(ctx context.Context, roomID, requesterID string, before int64, limit int) ([]model.Message, error) {
	if _, err := s.groups.GetGroup(ctx, roomID); err != nil {
		return nil, err
	}
	ok, err := s.groups.IsMember(ctx, roomID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrPermissionDenied
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	return s.messages.History(ctx, roomID, before, limit)
}
