// internal/models/lobby.go
package models

import "time"

// ChatLobby is an ephemeral group of channels from different servers whose messages are relayed
// to one another. It is persisted as part of the shared lobby list.
type ChatLobby struct {
	ID            string            `json:"id"`
	Connections   []LobbyConnection `json:"connections"`
	LastActivity  time.Time         `json:"lastActivity"`
	ActivityLevel int               `json:"activityLevel"` // 0..MaxActivityLevel
}

// LobbyConnection is a single channel's membership in a lobby.
type LobbyConnection struct {
	ServerID     string    `json:"serverId"`
	ChannelID    string    `json:"channelId"`
	LastActivity time.Time `json:"lastActivity"`
}

// HasChannel reports whether the lobby holds a connection for channelID.
func (l *ChatLobby) HasChannel(channelID string) bool {
	return l.ConnectionIndex(channelID) >= 0
}

// HasServer reports whether any connection in the lobby belongs to serverID.
func (l *ChatLobby) HasServer(serverID string) bool {
	for _, c := range l.Connections {
		if c.ServerID == serverID {
			return true
		}
	}
	return false
}

// ConnectionIndex returns the position of channelID in Connections, or -1.
func (l *ChatLobby) ConnectionIndex(channelID string) int {
	for i, c := range l.Connections {
		if c.ChannelID == channelID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can hand lobbies to notifiers without sharing the slice.
func (l ChatLobby) Clone() ChatLobby {
	conns := make([]LobbyConnection, len(l.Connections))
	copy(conns, l.Connections)
	l.Connections = conns
	return l
}
