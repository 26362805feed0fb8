package main

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/auth"
)

// bearerToken pulls the credential from the Authorization header, or
// from the token query param for websocket clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	token = strings.TrimPrefix(token, "Bearer ")
	return token
}

func authMiddleware(resolver auth.Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}

		uid, err := resolver.Resolve(token)
		if err != nil {
			http.Error(w, "invalid credential", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(auth.UserKey).(string)
	return uid
}

// requireJSON guards body-carrying endpoints: JSON content type and a
// body that parses, before the handler touches it.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType := r.Header.Get("Content-Type")
		if contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				http.Error(w, "malformed Content-Type header", http.StatusBadRequest)
				return
			}
			if mt != "application/json" {
				http.Error(w, "Content-Type header must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		} else {
			r.Header.Set("Content-Type", "application/json")
		}

		var bodyBuf bytes.Buffer
		body, err := io.ReadAll(io.TeeReader(r.Body, &bodyBuf))
		if err != nil {
			http.Error(w, "can not read request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "no body provided", http.StatusBadRequest)
			return
		}
		if err := fastjson.ValidateBytes(body); err != nil {
			http.Error(w, "malformed JSON", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(&bodyBuf)
		next.ServeHTTP(w, r)
	})
}

// logRequests tags each request with an id and logs it.
func logRequests(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Infow("incoming http request",
			"id", xid.New().String(),
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"ip", r.RemoteAddr,
		)
		next.ServeHTTP(w, r)
	})
}
