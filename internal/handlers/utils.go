package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Discord-InterChat/InterChat-sub001/internal/auth"
	"github.com/Discord-InterChat/InterChat-sub001/internal/chatlobby"
	"github.com/sirupsen/logrus"
)

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken prefers an "Authorization: Bearer" header and falls back to the auth_token cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return extractCookieToken(r.Header.Get("Cookie"), "auth_token")
}

// requireOperator rejects requests without a valid operator token.
func requireOperator(logger *logrus.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			http.Error(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		operator, err := auth.AuthenticateOperator(token)
		if err != nil {
			logger.WithField("path", r.URL.Path).WithError(err).Debug("rejected operator token")
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		logger.WithFields(logrus.Fields{"operator": operator, "path": r.URL.Path}).Debug("operator request")
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps engine errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, chatlobby.ErrAlreadyConnected), errors.Is(err, chatlobby.ErrAlreadyQueued):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, chatlobby.ErrNotConnected), errors.Is(err, chatlobby.ErrLobbyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.WithError(err).Error("lobby request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
