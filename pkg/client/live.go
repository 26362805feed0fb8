package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/community-chat/pkg/model"
)

// Live is the push side: one websocket session carrying the tagged
// event stream plus the subscribe/typing control messages.
type Live struct {
	conn   *websocket.Conn
	events chan model.Event
	errc   chan error
}

// control is the client-to-server message shape on the live channel.
type control struct {
	Type     string   `json:"type"`
	RoomIDs  []string `json:"room_ids,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
	IsTyping bool     `json:"is_typing,omitempty"`
}

// DialLive opens the live channel with the bearer token and starts the
// read loop. Call Subscribe before expecting any events.
func DialLive(wsURL, bearerToken string) (*Live, error) {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+bearerToken)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, model.Transient(err)
	}

	l := &Live{
		conn:   conn,
		events: make(chan model.Event, 64),
		errc:   make(chan error, 1),
	}
	go l.readLoop()

	return l, nil
}

func (l *Live) readLoop() {
	defer close(l.events)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.errc <- err
			return
		}

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		l.events <- ev
	}
}

// Subscribe issues the join-rooms handshake for the given room set,
// normally the ids returned by Groups.
func (l *Live) Subscribe(roomIDs []string) error {
	return l.writeControl(control{Type: "subscribe", RoomIDs: roomIDs})
}

// Typing signals composition state; the server handles debounce expiry.
func (l *Live) Typing(roomID string, isTyping bool) error {
	return l.writeControl(control{Type: "typing", RoomID: roomID, IsTyping: isTyping})
}

func (l *Live) writeControl(c control) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Events streams pushed events. The channel closes when the connection
// drops; Err then reports why.
func (l *Live) Events() <-chan model.Event {
	return l.events
}

func (l *Live) Err() error {
	select {
	case err := <-l.errc:
		return err
	default:
		return nil
	}
}

func (l *Live) Close() error {
	l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return l.conn.Close()
}
