// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the event feed.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	SlowConsumerError   = 3004 // Client fell too far behind the event stream and was dropped.
)
