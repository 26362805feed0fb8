package model

import "time"

// Group is a named chat room with a fixed membership set. The owner is
// always a member; a group whose last member leaves is deleted.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is one immutable entry in a room's append-only log. IDs are
// snowflakes, so within a room they sort in append order.
type Message struct {
	ID          int64     `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	ClientToken string    `json:"client_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
