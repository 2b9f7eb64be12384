package notify

import (
	"github.com/Discord-InterChat/InterChat-sub001/internal/chatlobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
)

// Multi forwards each notification to every notifier in order.
type Multi []chatlobby.LobbyNotifier

// NewMulti drops nil entries.
func NewMulti(notifiers ...chatlobby.LobbyNotifier) Multi {
	m := make(Multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m Multi) NotifyChannelConnect(channelID string, l models.ChatLobby) {
	for _, n := range m {
		n.NotifyChannelConnect(channelID, l.Clone())
	}
}

func (m Multi) NotifyLobbyCreate(channelID string, l models.ChatLobby) {
	for _, n := range m {
		n.NotifyLobbyCreate(channelID, l.Clone())
	}
}

func (m Multi) NotifyChannelDisconnect(l models.ChatLobby, channelID string) {
	for _, n := range m {
		n.NotifyChannelDisconnect(l.Clone(), channelID)
	}
}

func (m Multi) NotifyLobbyDelete(channelID string) {
	for _, n := range m {
		n.NotifyLobbyDelete(channelID)
	}
}

var (
	_ chatlobby.LobbyNotifier = Multi(nil)
	_ chatlobby.LobbyNotifier = (*QueueNotifier)(nil)
	_ chatlobby.LobbyNotifier = (*DiscordNotifier)(nil)
)
