// internal/handlers/events_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/middleware"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	eventsSubprotocol = "lobby-events"
	clientBufferSize  = 64
	pingInterval      = 30 * time.Second
)

type eventClient struct {
	out  chan models.LobbyEvent
	slow chan struct{}
	once sync.Once
}

func (c *eventClient) markSlow() {
	c.once.Do(func() { close(c.slow) })
}

// EventHub fans lobby notifications out to every connected event-feed client. A client whose
// buffer is full is disconnected rather than slowing the engine down.
type EventHub struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
	now     func() time.Time
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		now:     time.Now,
	}
}

func (h *EventHub) subscribe() *eventClient {
	c := &eventClient{
		out:  make(chan models.LobbyEvent, clientBufferSize),
		slow: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *EventHub) unsubscribe(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of connected feed clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) broadcast(ev models.LobbyEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- ev:
		default:
			c.markSlow()
		}
	}
}

func (h *EventHub) NotifyChannelConnect(channelID string, l models.ChatLobby) {
	h.broadcast(models.NewLobbyEvent(models.EventChannelConnect, &l, channelID, h.now()))
}

func (h *EventHub) NotifyLobbyCreate(channelID string, l models.ChatLobby) {
	h.broadcast(models.NewLobbyEvent(models.EventLobbyCreate, &l, channelID, h.now()))
}

func (h *EventHub) NotifyChannelDisconnect(l models.ChatLobby, channelID string) {
	h.broadcast(models.NewLobbyEvent(models.EventChannelDisconnect, &l, channelID, h.now()))
}

func (h *EventHub) NotifyLobbyDelete(channelID string) {
	h.broadcast(models.NewLobbyEvent(models.EventLobbyDelete, nil, channelID, h.now()))
}

// EventsWSHandler streams lobby events as JSON text messages. The feed is one-way; anything the
// client sends is ignored.
func EventsWSHandler(logger *logrus.Logger, hub *EventHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{eventsSubprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != eventsSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the lobby-events subprotocol")
			return
		}

		client := hub.subscribe()
		defer hub.unsubscribe(client)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		// CloseRead discards client frames and cancels ctx once the peer goes away.
		ctx := c.CloseRead(r.Context())
		err = writeEvents(ctx, c, client, logger)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
	}
}

func writeEvents(ctx context.Context, c *websocket.Conn, client *eventClient, logger *logrus.Logger) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.slow:
			c.Close(SlowConsumerError, "event feed client fell behind")
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case ev := <-client.out:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("failed to marshal lobby event: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
