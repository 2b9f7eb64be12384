// internal/handlers/lobby.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Discord-InterChat/InterChat-sub001/internal/chatlobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/sirupsen/logrus"
)

// LobbyService is the part of the matchmaking engine exposed over HTTP.
type LobbyService interface {
	ConnectChannel(ctx context.Context, serverID, channelID string, prefs models.ChannelPreferences) (chatlobby.ConnectResult, error)
	DisconnectChannel(ctx context.Context, channelID string) error
	UpdateActivity(ctx context.Context, lobbyID, channelID string) error
	GetChannelLobby(ctx context.Context, channelID string) (*models.ChatLobby, error)
	GetPoolInfo(ctx context.Context, channelID string) (*chatlobby.PoolInfo, error)
	GetStats(ctx context.Context) (chatlobby.Stats, error)
}

type connectRequest struct {
	ServerID    string                    `json:"serverId"`
	ChannelID   string                    `json:"channelId"`
	Preferences models.ChannelPreferences `json:"preferences"`
}

type channelRequest struct {
	LobbyID   string `json:"lobbyId"`
	ChannelID string `json:"channelId"`
}

// ConnectHandler asks the engine to place a channel into a lobby or the pool.
func ConnectHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad connect request payload", http.StatusBadRequest)
			return
		}
		if req.ServerID == "" || req.ChannelID == "" {
			http.Error(w, "serverId and channelId are required", http.StatusBadRequest)
			return
		}

		res, err := svc.ConnectChannel(r.Context(), req.ServerID, req.ChannelID, req.Preferences)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DisconnectHandler removes a channel from its lobby or the pool.
func DisconnectHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req channelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
			http.Error(w, "channelId is required", http.StatusBadRequest)
			return
		}
		if err := svc.DisconnectChannel(r.Context(), req.ChannelID); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ActivityHandler records a message relayed through a lobby.
func ActivityHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req channelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LobbyID == "" || req.ChannelID == "" {
			http.Error(w, "lobbyId and channelId are required", http.StatusBadRequest)
			return
		}
		if err := svc.UpdateActivity(r.Context(), req.LobbyID, req.ChannelID); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ChannelLobbyHandler returns the lobby a channel belongs to.
func ChannelLobbyHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := svc.GetChannelLobby(r.Context(), r.PathValue("channelId"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if l == nil {
			http.Error(w, "channel is not in a lobby", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// PoolInfoHandler returns a queued channel's position and wait estimate.
func PoolInfoHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.GetPoolInfo(r.Context(), r.PathValue("channelId"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if info == nil {
			http.Error(w, "channel is not queued", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func StatsHandler(logger *logrus.Logger, svc LobbyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.GetStats(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
