package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mahaj/community-chat/pkg/model"
)

// MemoryMessages is the in-process MessageStore used by tests and by
// single-binary dev runs without a Scylla cluster. Messages per room are
// held in append order.
type MemoryMessages struct {
	mu    sync.RWMutex
	rooms map[string][]model.Message
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{rooms: make(map[string][]model.Message)}
}

func (s *MemoryMessages) Append(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], msg)
	return nil
}

func (s *MemoryMessages) History(_ context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]

	// newest-first, paged backward by id cursor
	var out []model.Message
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && log[i].ID >= before {
			continue
		}
		out = append(out, log[i])
	}
	return out, nil
}

func (s *MemoryMessages) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// MemoryMembership is the in-process MembershipStore counterpart.
type MemoryMembership struct {
	mu      sync.RWMutex
	groups  map[string]model.Group
	members map[string]map[string]bool // group id -> set of user ids
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{
		groups:  make(map[string]model.Group),
		members: make(map[string]map[string]bool),
	}
}

func (s *MemoryMembership) CreateGroup(_ context.Context, g model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return model.Validation("group already exists")
	}

	set := make(map[string]bool, len(g.MemberIDs))
	for _, userID := range g.MemberIDs {
		set[userID] = true
	}
	s.members[g.ID] = set

	g.MemberIDs = nil
	s.groups[g.ID] = g
	return nil
}

func (s *MemoryMembership) GetGroup(_ context.Context, groupID string) (model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return model.Group{}, model.ErrNotFound
	}
	g.MemberIDs = s.memberIDsLocked(groupID)
	return g, nil
}

func (s *MemoryMembership) DeleteGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return model.ErrNotFound
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	return nil
}

func (s *MemoryMembership) RemoveMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.members[groupID]
	if set == nil || !set[userID] {
		return model.ErrNotAMember
	}
	delete(set, userID)
	return nil
}

func (s *MemoryMembership) UpdateOwner(_ context.Context, groupID, newOwnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return model.ErrNotFound
	}
	g.OwnerID = newOwnerID
	s.groups[groupID] = g
	return nil
}

func (s *MemoryMembership) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[groupID][userID], nil
}

func (s *MemoryMembership) MemberIDs(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberIDsLocked(groupID), nil
}

func (s *MemoryMembership) memberIDsLocked(groupID string) []string {
	var out []string
	for userID := range s.members[groupID] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryMembership) GroupsForUser(_ context.Context, userID string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Group
	for groupID, set := range s.members {
		if set[userID] {
			g := s.groups[groupID]
			g.MemberIDs = s.memberIDsLocked(groupID)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
