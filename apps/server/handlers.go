package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/auth"
	"github.com/mahaj/community-chat/pkg/chat"
	"github.com/mahaj/community-chat/pkg/hub"
	"github.com/mahaj/community-chat/pkg/model"
	"github.com/mahaj/community-chat/pkg/presence"
	"github.com/mahaj/community-chat/pkg/typing"
)

type handler struct {
	logger   *zap.SugaredLogger
	svc      *chat.Service
	hub      *hub.Hub
	typing   *typing.Tracker
	presence *presence.Store // nil when Redis is not configured
	resolver auth.Resolver
	tokens   *auth.JWT // dev login only

	// handshakeWait bounds how long a live connection may stay
	// unsubscribed before it is dropped; zero means the default.
	handshakeWait time.Duration
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /login", requireJSON(http.HandlerFunc(h.login)))

	mux.Handle("GET /groups", h.authed(h.listGroups))
	mux.Handle("POST /groups", requireJSON(h.authed(h.createGroup)))
	mux.Handle("DELETE /groups/{id}", h.authed(h.deleteGroup))
	mux.Handle("POST /groups/{id}/leave", h.authed(h.leaveGroup))
	mux.Handle("GET /groups/{id}/messages", h.authed(h.history))
	mux.Handle("POST /groups/{id}/messages", requireJSON(h.authed(h.postMessage)))
	mux.Handle("GET /groups/{id}/presence", h.authed(h.roomPresence))

	mux.HandleFunc("GET /ws", h.serveWs)

	return mux
}

// authed resolves the bearer credential and stashes the user id in the
// request context.
func (h *handler) authed(next http.HandlerFunc) http.Handler {
	return authMiddleware(h.resolver, http.HandlerFunc(next))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	token, err := h.tokens.GenerateToken(req.UserID)
	if err != nil {
		h.logger.Errorf("generate token: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListGroupsForUser(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	h.writeJSON(w, http.StatusOK, groups)
}

func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	g, err := h.svc.CreateGroup(r.Context(), userID(r), req.Name, req.Description, req.MemberIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, g)
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteGroup(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) leaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LeaveGroup(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "before must be a message id", http.StatusBadRequest)
			return
		}
		before = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.svc.FetchHistory(r.Context(), r.PathValue("id"), userID(r), before, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	h.writeJSON(w, http.StatusOK, messages)
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text        string `json:"text"`
		ClientToken string `json:"client_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.AppendMessage(r.Context(), r.PathValue("id"), userID(r), req.Text, req.ClientToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) roomPresence(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	ok, err := h.svc.IsMember(r.Context(), roomID, userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, model.ErrPermissionDenied)
		return
	}

	online := []string{}
	if h.presence != nil {
		online, err = h.presence.Online(r.Context(), roomID)
		if err != nil {
			h.writeError(w, model.Transient(err))
			return
		}
	}
	h.writeJSON(w, http.StatusOK, online)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("writing response: %v", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, model.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Errorf("internal error: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
