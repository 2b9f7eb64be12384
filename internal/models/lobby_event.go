package models

import "time"

// LobbyEventType enumerates the lifecycle events recorded by the historian.
type LobbyEventType string

const (
	EventLobbyCreate       LobbyEventType = "lobby_create"
	EventChannelConnect    LobbyEventType = "channel_connect"
	EventChannelDisconnect LobbyEventType = "channel_disconnect"
	EventLobbyDelete       LobbyEventType = "lobby_delete"
)

// LobbyEvent is the queued record describing a single lobby notification.
type LobbyEvent struct {
	Type            LobbyEventType `json:"type"`
	LobbyID         string         `json:"lobby_id,omitempty"`
	ChannelID       string         `json:"channel_id"`
	ConnectionCount int            `json:"connection_count"`
	Timestamp       int64          `json:"timestamp"` // epoch millis
}

// NewLobbyEvent builds the event for a notification about channelID. lobby may be nil when the
// notification carries no lobby, as with a dissolved lobby's survivor.
func NewLobbyEvent(typ LobbyEventType, lobby *ChatLobby, channelID string, at time.Time) LobbyEvent {
	ev := LobbyEvent{
		Type:      typ,
		ChannelID: channelID,
		Timestamp: at.UnixMilli(),
	}
	if lobby != nil {
		ev.LobbyID = lobby.ID
		ev.ConnectionCount = len(lobby.Connections)
	}
	return ev
}

// Time returns the event timestamp.
func (e LobbyEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
