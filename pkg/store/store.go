// Package store holds the durable sides of the messaging subsystem: the
// per-room append-only message log and the group membership relation.
// Both are defined as interfaces so the chat service and its tests can
// run against the in-memory implementations while deployments use
// Scylla for messages and Postgres for membership.
package store

import (
	"context"

	"github.com/mahaj/community-chat/pkg/model"
)

// MessageStore is the append-only per-room message log. History reads
// newest-first and pages backward: before==0 starts at the newest
// message, otherwise only messages with id < before are returned.
type MessageStore interface {
	Append(ctx context.Context, msg model.Message) error
	History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// MembershipStore is the durable group/membership relation.
type MembershipStore interface {
	CreateGroup(ctx context.Context, g model.Group) error
	GetGroup(ctx context.Context, groupID string) (model.Group, error)
	// DeleteGroup removes the group and its membership rows. Returns
	// model.ErrNotFound if the group does not exist.
	DeleteGroup(ctx context.Context, groupID string) error
	// RemoveMember returns model.ErrNotAMember if the pair is absent.
	RemoveMember(ctx context.Context, groupID, userID string) error
	UpdateOwner(ctx context.Context, groupID, newOwnerID string) error
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
	GroupsForUser(ctx context.Context, userID string) ([]model.Group, error)
}
