package chatlobby

import (
	"context"
	"fmt"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/sirupsen/logrus"
)

// DisconnectChannel takes channelID out of the pool, or out of its lobby. A lobby reduced to a
// single member is dissolved and that member released.
func (s *Service) DisconnectChannel(ctx context.Context, channelID string) error {
	removed, err := s.RemoveFromPoolByChannelID(ctx, channelID)
	if err != nil {
		return err
	}
	if removed {
		s.logger.WithField("channel_id", channelID).Debug("channel left the matching pool")
		return nil
	}

	lobbyID, err := s.lobbies.GetChannelLobbyID(ctx, channelID)
	if err != nil {
		return err
	}
	if lobbyID == "" {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotConnected)
	}

	var (
		found     bool
		dissolved bool
		survivor  string
		remaining models.ChatLobby
	)
	err = s.lobbies.UpdateChatLobbies(ctx, func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		found, dissolved, survivor = false, false, ""
		for i := range lobbies {
			if lobbies[i].ID != lobbyID {
				continue
			}
			found = true
			l := lobbies[i].Clone()
			if j := l.ConnectionIndex(channelID); j >= 0 {
				l.Connections = append(l.Connections[:j], l.Connections[j+1:]...)
			}

			next := make([]models.ChatLobby, 0, len(lobbies))
			next = append(next, lobbies[:i]...)
			switch len(l.Connections) {
			case 0:
				dissolved = true
			case 1:
				dissolved = true
				survivor = l.Connections[0].ChannelID
			default:
				next = append(next, l)
				remaining = l
			}
			next = append(next, lobbies[i+1:]...)
			return next, true, nil
		}
		return lobbies, false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		// stale index entry pointing at a lobby that no longer exists
		if err := s.lobbies.RemoveChannelFromLobby(ctx, channelID); err != nil {
			return err
		}
		return fmt.Errorf("lobby %s for channel %s: %w", lobbyID, channelID, ErrLobbyNotFound)
	}

	if err := s.lobbies.RemoveChannelFromLobby(ctx, channelID); err != nil {
		return err
	}

	fields := logrus.Fields{"channel_id": channelID, "lobby_id": lobbyID}
	if dissolved {
		if survivor != "" {
			if err := s.lobbies.RemoveChannelFromLobby(ctx, survivor); err != nil {
				return err
			}
			s.notifier.NotifyLobbyDelete(survivor)
		}
		s.logger.WithFields(fields).Info("lobby dissolved")
		return nil
	}

	s.notifier.NotifyChannelDisconnect(remaining.Clone(), channelID)
	s.logger.WithFields(fields).Info("channel left lobby")
	return nil
}

// RemoveFromPoolByChannelID removes channelID from whichever tier holds it and reports whether
// it was queued.
func (s *Service) RemoveFromPoolByChannelID(ctx context.Context, channelID string) (bool, error) {
	for _, tier := range models.Tiers {
		removed, err := s.pool.Remove(ctx, tier, channelID)
		if err != nil {
			return false, err
		}
		if removed {
			return true, nil
		}
	}
	return false, nil
}
