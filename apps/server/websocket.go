package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/community-chat/pkg/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum control message size allowed from peer.
	maxMessageSize = 4096

	// A connection that never completes the subscribe handshake is
	// dropped after this window.
	defaultHandshakeWait = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // deployments front this with a gateway that checks origins
	},
}

// wsControl is what clients send on the live channel. Durable message
// sends go through the REST endpoint; the channel only carries the
// subscribe handshake and typing signals.
type wsControl struct {
	Type     string   `json:"type"`
	RoomIDs  []string `json:"room_ids,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
	IsTyping bool     `json:"is_typing,omitempty"`
}

// serveWs authenticates, upgrades and starts the connection pumps.
func (h *handler) serveWs(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}

	uid, err := h.resolver.Resolve(token)
	if err != nil {
		h.logger.Infof("ws auth rejected: %v", err)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("ws upgrade: %v", err)
		return
	}

	conn := h.hub.NewConn(uid)

	wait := h.handshakeWait
	if wait <= 0 {
		wait = defaultHandshakeWait
	}

	// drop connections that never issue the join-rooms request
	handshake := time.AfterFunc(wait, func() {
		if !conn.Subscribed() {
			h.logger.Infof("ws handshake timeout for user %s", uid)
			h.hub.Disconnect(conn)
		}
	})

	go h.writePump(ws, conn)
	go h.readPump(ws, conn, handshake)
}

// readPump consumes control messages until the transport closes, then
// scrubs the connection from every roster.
func (h *handler) readPump(ws *websocket.Conn, conn *hub.Conn, handshake *time.Timer) {
	defer func() {
		handshake.Stop()
		h.teardown(conn)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infof("ws read for user %s: %v", conn.UserID(), err)
			}
			return
		}

		var ctrl wsControl
		if err := json.Unmarshal(data, &ctrl); err != nil {
			h.logger.Debugf("ws control from user %s ignored: %v", conn.UserID(), err)
			continue
		}

		switch ctrl.Type {
		case "subscribe":
			h.subscribe(conn, ctrl.RoomIDs)
		case "typing":
			h.typingSignal(conn, ctrl.RoomID, ctrl.IsTyping)
		}
	}
}

// subscribe validates the requested room set against the membership
// store and joins the valid part. Rooms the user does not belong to are
// silently skipped; the client asked from a stale group list.
func (h *handler) subscribe(conn *hub.Conn, roomIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var valid []string
	for _, roomID := range roomIDs {
		ok, err := h.svc.IsMember(ctx, roomID, conn.UserID())
		if err != nil {
			h.logger.Errorf("membership check for %s in %s: %v", conn.UserID(), roomID, err)
			continue
		}
		if ok {
			valid = append(valid, roomID)
		}
	}

	h.hub.Subscribe(conn, valid...)

	if h.presence != nil {
		for _, roomID := range valid {
			h.presence.Join(ctx, roomID, conn.UserID())
		}
	}
}

func (h *handler) typingSignal(conn *hub.Conn, roomID string, isTyping bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := h.svc.IsMember(ctx, roomID, conn.UserID())
	if err != nil || !ok {
		return
	}
	h.typing.Set(ctx, roomID, conn.UserID(), isTyping)
}

func (h *handler) teardown(conn *hub.Conn) {
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, roomID := range h.hub.Rooms(conn) {
			h.presence.Leave(ctx, roomID, conn.UserID())
		}
	}
	h.hub.Disconnect(conn)
}

// writePump pushes fanout events to the peer and keeps the connection
// alive with pings. It exits when the hub disconnects the conn or a
// write fails.
func (h *handler) writePump(ws *websocket.Conn, conn *hub.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data := <-conn.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-conn.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
