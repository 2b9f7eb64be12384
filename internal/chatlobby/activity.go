package chatlobby

import (
	"context"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/sirupsen/logrus"
)

// UpdateActivity records activity from channelID in lobbyID. Unknown lobbies are logged and
// ignored.
func (s *Service) UpdateActivity(ctx context.Context, lobbyID, channelID string) error {
	now := s.now()
	found := false

	err := s.lobbies.UpdateChatLobbies(ctx, func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		found = false
		for i := range lobbies {
			l := &lobbies[i]
			if l.ID != lobbyID {
				continue
			}
			found = true
			l.LastActivity = now
			if j := l.ConnectionIndex(channelID); j >= 0 {
				l.Connections[j].LastActivity = now
			}
			if l.ActivityLevel < s.cfg.MaxActivityLevel {
				l.ActivityLevel++
			}
			return lobbies, true, nil
		}
		return lobbies, false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		s.logger.WithFields(logrus.Fields{
			"lobby_id":   lobbyID,
			"channel_id": channelID,
		}).Warn("activity update for unknown lobby")
	}
	return nil
}

type prunedConnection struct {
	channelID string
	lobby     models.ChatLobby
}

// CheckIdleLobbies removes connections idle for longer than IdleTimeout, decays every lobby's
// activity level by one and drops lobbies left empty. The lobby list is written only when a
// connection was pruned or a lobby dropped.
func (s *Service) CheckIdleLobbies(ctx context.Context) error {
	now := s.now()
	var pruned []prunedConnection
	dropped := 0

	err := s.lobbies.UpdateChatLobbies(ctx, func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		pruned = nil
		kept := make([]models.ChatLobby, 0, len(lobbies))
		for _, l := range lobbies {
			active := make([]models.LobbyConnection, 0, len(l.Connections))
			var inactive []models.LobbyConnection
			for _, c := range l.Connections {
				if now.Sub(c.LastActivity) < s.cfg.IdleTimeout {
					active = append(active, c)
				} else {
					inactive = append(inactive, c)
				}
			}
			l.Connections = active
			if l.ActivityLevel > 0 {
				l.ActivityLevel--
			}
			for _, c := range inactive {
				pruned = append(pruned, prunedConnection{channelID: c.ChannelID, lobby: l.Clone()})
			}
			if len(l.Connections) > 0 {
				kept = append(kept, l)
			}
		}
		dropped = len(lobbies) - len(kept)
		return kept, len(pruned) > 0 || dropped > 0, nil
	})
	if err != nil {
		return err
	}

	for _, p := range pruned {
		if err := s.lobbies.RemoveChannelFromLobby(ctx, p.channelID); err != nil {
			s.logger.WithField("channel_id", p.channelID).WithError(err).Error("failed to unmap idle channel")
		}
		s.notifier.NotifyChannelDisconnect(p.lobby, p.channelID)
	}
	if len(pruned) > 0 || dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"pruned_connections": len(pruned),
			"dropped_lobbies":    dropped,
		}).Info("idle lobbies reaped")
	}
	return nil
}
