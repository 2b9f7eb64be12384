// internal/handlers/api_server.go
package handlers

import (
	"net/http"

	"github.com/Discord-InterChat/InterChat-sub001/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the operator API and the event feed. Every route requires an operator token
// and is request-logged.
func NewRouter(logger *logrus.Logger, svc LobbyService, hub *EventHub) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.LogMiddleware(logger)(requireOperator(logger, h)))
	}

	handle("POST /lobby/connect", ConnectHandler(logger, svc))
	handle("POST /lobby/disconnect", DisconnectHandler(logger, svc))
	handle("POST /lobby/activity", ActivityHandler(logger, svc))
	handle("GET /lobby/channel/{channelId}", ChannelLobbyHandler(logger, svc))
	handle("GET /pool/channel/{channelId}", PoolInfoHandler(logger, svc))
	handle("GET /stats", StatsHandler(logger, svc))
	handle("GET /events/ws", EventsWSHandler(logger, hub))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
