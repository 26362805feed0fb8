package model

// EventType tags the closed set of events the live channel can push.
// Consumers switch over these and ignore unknown tags.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventTypingChanged  EventType = "typing.changed"
	EventGroupDeleted   EventType = "group.deleted"
)

// Event is the wire envelope for all live-channel pushes. Exactly the
// fields for its Type are set; the rest stay at their zero value.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`

	// message.created
	Message *Message `json:"message,omitempty"`

	// typing.changed
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

func NewMessageCreated(msg Message) Event {
	return Event{Type: EventMessageCreated, RoomID: msg.RoomID, Message: &msg}
}

func NewTypingChanged(roomID, userID string, isTyping bool) Event {
	return Event{Type: EventTypingChanged, RoomID: roomID, UserID: userID, IsTyping: isTyping}
}

func NewGroupDeleted(roomID string) Event {
	return Event{Type: EventGroupDeleted, RoomID: roomID}
}
