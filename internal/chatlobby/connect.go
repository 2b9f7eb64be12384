package chatlobby

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/lobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/sirupsen/logrus"
)

// channelLockTTL bounds how long a crashed holder can keep a channel locked.
const channelLockTTL = 10 * time.Second

// ConnectResult reports how a connect request was handled.
type ConnectResult struct {
	Queued bool              `json:"queued"`
	Lobby  *models.ChatLobby `json:"lobby,omitempty"`
}

// ConnectChannel tries to place channelID straight into an active lobby and otherwise enqueues
// it in the priority pool picked from its preferences. The channel stays locked for the whole
// call, so a concurrent connect for the same channel is rejected with ErrAlreadyQueued.
func (s *Service) ConnectChannel(ctx context.Context, serverID, channelID string, prefs models.ChannelPreferences) (ConnectResult, error) {
	unlock, err := s.lobbies.LockChannel(ctx, channelID, channelLockTTL)
	if errors.Is(err, lobby.ErrChannelBusy) {
		return ConnectResult{}, fmt.Errorf("channel %s is being connected or matched: %w", channelID, ErrAlreadyQueued)
	}
	if err != nil {
		return ConnectResult{}, err
	}
	defer s.unlockChannel(ctx, unlock, channelID)

	existing, err := s.lobbies.GetChannelLobbyID(ctx, channelID)
	if err != nil {
		return ConnectResult{}, err
	}
	if existing != "" {
		return ConnectResult{}, fmt.Errorf("channel %s in lobby %s: %w", channelID, existing, ErrAlreadyConnected)
	}
	tier, _, err := s.findQueued(ctx, channelID)
	if err != nil {
		return ConnectResult{}, err
	}
	if tier != "" {
		return ConnectResult{}, fmt.Errorf("channel %s in %s pool: %w", channelID, tier, ErrAlreadyQueued)
	}

	if err := s.lobbies.SetChannelPreferences(ctx, channelID, prefs); err != nil {
		return ConnectResult{}, err
	}

	matched, err := s.tryImmediateMatch(ctx, serverID, channelID, prefs)
	if err != nil {
		return ConnectResult{}, err
	}
	if matched != nil {
		return ConnectResult{Queued: false, Lobby: matched}, nil
	}

	priority := s.calculatePriority(prefs)
	tier = s.tierFor(priority)
	qc := models.QueuedChannel{
		ServerID:    serverID,
		ChannelID:   channelID,
		Preferences: prefs,
		Timestamp:   s.now(),
		Priority:    priority,
	}
	if err := s.pool.Add(ctx, tier, qc); err != nil {
		return ConnectResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"channel_id": channelID,
		"server_id":  serverID,
		"tier":       tier,
		"priority":   priority,
	}).Debug("channel queued for matching")
	return ConnectResult{Queued: true}, nil
}

// tryImmediateMatch appends the channel to the best-scoring active lobby, if any clears the
// match threshold. It returns nil when no lobby qualified.
func (s *Service) tryImmediateMatch(ctx context.Context, serverID, channelID string, prefs models.ChannelPreferences) (*models.ChatLobby, error) {
	now := s.now()
	var matched *models.ChatLobby

	err := s.lobbies.UpdateChatLobbies(ctx, func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		matched = nil
		for _, l := range lobbies {
			if l.HasChannel(channelID) {
				return nil, false, fmt.Errorf("channel %s already in lobby %s: %w", channelID, l.ID, ErrAlreadyConnected)
			}
		}
		idx := s.bestLobbyFor(lobbies, serverID, prefs, now)
		if idx < 0 {
			return lobbies, false, nil
		}
		l := &lobbies[idx]
		l.Connections = append(l.Connections, models.LobbyConnection{
			ServerID:     serverID,
			ChannelID:    channelID,
			LastActivity: now,
		})
		l.LastActivity = now
		joined := l.Clone()
		matched = &joined
		return lobbies, true, nil
	})
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, nil
	}

	if err := s.lobbies.SetChannelLobby(ctx, channelID, matched.ID); err != nil {
		if rbErr := s.lobbies.UpdateChatLobbies(context.WithoutCancel(ctx), withoutConnection(matched.ID, channelID)); rbErr != nil {
			s.logger.WithFields(logrus.Fields{
				"channel_id": channelID,
				"lobby_id":   matched.ID,
			}).WithError(rbErr).Error("failed to roll back unindexed lobby join")
		}
		return nil, err
	}
	s.notifier.NotifyChannelConnect(channelID, matched.Clone())

	s.logger.WithFields(logrus.Fields{
		"channel_id":  channelID,
		"lobby_id":    matched.ID,
		"connections": len(matched.Connections),
	}).Info("channel joined existing lobby")
	return matched, nil
}

func withoutConnection(lobbyID, channelID string) func([]models.ChatLobby) ([]models.ChatLobby, bool, error) {
	return func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		for i := range lobbies {
			if lobbies[i].ID != lobbyID {
				continue
			}
			idx := lobbies[i].ConnectionIndex(channelID)
			if idx < 0 {
				return lobbies, false, nil
			}
			conns := lobbies[i].Connections
			lobbies[i].Connections = append(conns[:idx:idx], conns[idx+1:]...)
			return lobbies, true, nil
		}
		return lobbies, false, nil
	}
}

func (s *Service) unlockChannel(ctx context.Context, unlock lobby.UnlockFunc, channelID string) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		s.logger.WithField("channel_id", channelID).WithError(err).Warn("failed to release channel lock")
	}
}

// bestLobbyFor returns the index of the lobby a new channel should join, or -1.
func (s *Service) bestLobbyFor(lobbies []models.ChatLobby, serverID string, prefs models.ChannelPreferences, now time.Time) int {
	capacity := s.cfg.MaxLobbySize
	if prefs.MaxServers > 0 {
		capacity = prefs.MaxServers
	}

	type candidate struct {
		idx   int
		score float64
	}
	var candidates []candidate
	for i := range lobbies {
		l := &lobbies[i]
		if now.Sub(l.LastActivity) >= s.cfg.IdleTimeout {
			continue
		}
		if len(l.Connections) >= capacity {
			continue
		}
		if l.ActivityLevel < prefs.MinActivityLevel {
			continue
		}
		if l.HasServer(serverID) {
			continue
		}
		candidates = append(candidates, candidate{idx: i, score: s.calculateLobbyMatchScore(*l, prefs, now)})
	}
	if len(candidates) == 0 {
		return -1
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if candidates[0].score <= s.cfg.MatchThreshold {
		return -1
	}
	return candidates[0].idx
}

// calculateLobbyMatchScore weighs how well a lobby suits a joining channel: size fit (0.4),
// activity requirement (0.3) and recency (0.3).
func (s *Service) calculateLobbyMatchScore(l models.ChatLobby, prefs models.ChannelPreferences, now time.Time) float64 {
	ideal := prefs.IdealLobbySize
	if ideal <= 0 {
		ideal = s.cfg.MaxLobbySize
	}
	maxSize := float64(s.cfg.MaxLobbySize)

	sizeDiff := math.Abs(float64(len(l.Connections)+1 - ideal))
	score := 0.4 * (1 - sizeDiff/maxSize)

	if l.ActivityLevel >= prefs.MinActivityLevel {
		score += 0.3
	}

	idle := now.Sub(l.LastActivity)
	score += 0.3 * (1 - float64(idle)/float64(s.cfg.IdleTimeout))
	return score
}

// calculatePriority scores a channel's preferences; the score only selects the tier.
func (s *Service) calculatePriority(prefs models.ChannelPreferences) int {
	priority := 5
	if prefs.Premium {
		priority += 3
	}
	if prefs.MinActivityLevel > 5 {
		priority += 2
	}
	if prefs.MaxWaitTimeMs > 0 && prefs.MaxWait() < time.Minute {
		priority += 2
	}
	return priority
}

func (s *Service) tierFor(priority int) models.PoolTier {
	switch {
	case priority >= s.cfg.HighCutoff:
		return models.TierHigh
	case priority >= s.cfg.MediumCutoff:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// findQueued returns the tier and 0-based rank of channelID, or an empty tier when it is not
// queued anywhere.
func (s *Service) findQueued(ctx context.Context, channelID string) (models.PoolTier, int, error) {
	for _, tier := range models.Tiers {
		rank, err := s.pool.Rank(ctx, tier, channelID)
		if err != nil {
			return "", -1, err
		}
		if rank >= 0 {
			return tier, rank, nil
		}
	}
	return "", -1, nil
}
