package chatlobby

import "github.com/Discord-InterChat/InterChat-sub001/internal/models"

// LobbyNotifier receives lobby lifecycle notifications. Calls are fire-and-forget: the service
// neither waits on delivery nor retries, so implementations must return promptly.
type LobbyNotifier interface {
	// NotifyChannelConnect fires when channelID joins an existing lobby.
	NotifyChannelConnect(channelID string, lobby models.ChatLobby)
	// NotifyLobbyCreate fires once per member when a new lobby is formed from the pool.
	NotifyLobbyCreate(channelID string, lobby models.ChatLobby)
	// NotifyChannelDisconnect fires when channelID leaves lobby, which still has other members.
	NotifyChannelDisconnect(lobby models.ChatLobby, channelID string)
	// NotifyLobbyDelete fires for the last remaining member of a dissolved lobby.
	NotifyLobbyDelete(channelID string)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyChannelConnect(string, models.ChatLobby)    {}
func (NopNotifier) NotifyLobbyCreate(string, models.ChatLobby)       {}
func (NopNotifier) NotifyChannelDisconnect(models.ChatLobby, string) {}
func (NopNotifier) NotifyLobbyDelete(string)                         {}
