package chatlobby

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/lobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProcessMatchingPool runs one matching pass. Tiers are strictly ordered: medium is only
// processed once high is empty, and low once both are empty. Overlapping calls within the same
// process return immediately.
func (s *Service) ProcessMatchingPool(ctx context.Context) error {
	if !s.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.processing.Store(false)

	for _, tier := range models.Tiers {
		if err := s.processPoolTier(ctx, tier); err != nil {
			return err
		}
		size, err := s.pool.Size(ctx, tier)
		if err != nil {
			return err
		}
		if size > 0 {
			return nil
		}
	}
	return nil
}

// processPoolTier repeatedly pairs the oldest queued channel with its best partner. A head with
// no acceptable partner is skipped for this pass but stays queued.
func (s *Service) processPoolTier(ctx context.Context, tier models.PoolTier) error {
	members, err := s.pool.Members(ctx, tier)
	if err != nil {
		return err
	}

	for len(members) >= 2 {
		if err := ctx.Err(); err != nil {
			return err
		}
		head := members[0]
		now := s.now()

		// The first candidate must beat the threshold; after that a candidate must beat the
		// current best.
		var best *models.QueuedChannel
		bestScore := 0.0
		for i := 1; i < len(members); i++ {
			score := s.calculateChannelMatchScore(head, members[i], now)
			floor := s.cfg.MatchThreshold
			if best != nil {
				floor = bestScore
			}
			if score > floor {
				best = &members[i]
				bestScore = score
			}
		}
		if best == nil {
			members = members[1:]
			continue
		}
		partner := *best

		claimed, err := s.matchPair(ctx, tier, head, partner, now)
		if err != nil {
			return err
		}
		if !claimed {
			// locked by a connect, or taken by another process
			members = members[1:]
			continue
		}

		members, err = s.pool.Members(ctx, tier)
		if err != nil {
			return err
		}
	}
	return nil
}

// matchPair locks both channels, claims them from tier and forms their lobby. Once the claim
// succeeded the rest runs detached from ctx: cancelling mid-pass must not leave the pair outside
// both the pool and a lobby.
func (s *Service) matchPair(ctx context.Context, tier models.PoolTier, a, b models.QueuedChannel, now time.Time) (bool, error) {
	for _, qc := range []models.QueuedChannel{a, b} {
		unlock, err := s.lobbies.LockChannel(ctx, qc.ChannelID, channelLockTTL)
		if errors.Is(err, lobby.ErrChannelBusy) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		defer s.unlockChannel(ctx, unlock, qc.ChannelID)
	}

	claimed, err := s.pool.Claim(ctx, tier, a.ChannelID, b.ChannelID)
	if err != nil || !claimed {
		return false, err
	}

	ctx = context.WithoutCancel(ctx)
	s.recordWaitTime(ctx, tier, now.Sub(a.Timestamp))
	s.recordWaitTime(ctx, tier, now.Sub(b.Timestamp))

	if created, err := s.createLobbyFromMatch(ctx, a, b); err != nil {
		if created.ID == "" {
			s.requeue(ctx, tier, a, b)
		}
		return true, err
	}
	return true, nil
}

// calculateChannelMatchScore scores a potential pair. Channels from the same server never
// pair. Aligned preferences add 0.3 and up to 0.2 more accrues as the longer waiter
// approaches its wait tolerance.
func (s *Service) calculateChannelMatchScore(a, b models.QueuedChannel, now time.Time) float64 {
	if a.ServerID == b.ServerID {
		return 0
	}
	score := 0.5
	if preferencesAlign(a.Preferences, b.Preferences) {
		score += 0.3
	}

	longest := now.Sub(a.Timestamp)
	if w := now.Sub(b.Timestamp); w > longest {
		longest = w
	}
	tolerance := s.maxWaitOrDefault(a.Preferences)
	if t := s.maxWaitOrDefault(b.Preferences); t > tolerance {
		tolerance = t
	}
	ratio := math.Min(float64(longest)/float64(tolerance), 1)
	if ratio > 0 {
		score += 0.2 * ratio
	}
	return score
}

func (s *Service) maxWaitOrDefault(prefs models.ChannelPreferences) time.Duration {
	if prefs.MaxWaitTimeMs > 0 {
		return prefs.MaxWait()
	}
	return s.cfg.DefaultMaxWait
}

// preferencesAlign reports whether two channels want compatible lobbies: both accept group
// lobbies (maxServers unset or >= 2) and their activity floors are within 2 of each other.
func preferencesAlign(a, b models.ChannelPreferences) bool {
	groupOK := func(p models.ChannelPreferences) bool {
		return p.MaxServers == 0 || p.MaxServers >= 2
	}
	if !groupOK(a) || !groupOK(b) {
		return false
	}
	diff := a.MinActivityLevel - b.MinActivityLevel
	if diff < 0 {
		diff = -diff
	}
	return diff <= 2
}

// createLobbyFromMatch forms a new lobby from two pooled channels, persists it and maps both
// channels to it. When the index write fails the lobby is removed again and a zero lobby is
// returned; a non-zero lobby alongside an error means the rollback failed too.
func (s *Service) createLobbyFromMatch(ctx context.Context, a, b models.QueuedChannel) (models.ChatLobby, error) {
	now := s.now()
	created := models.ChatLobby{
		ID: uuid.NewString(),
		Connections: []models.LobbyConnection{
			{ServerID: a.ServerID, ChannelID: a.ChannelID, LastActivity: now},
			{ServerID: b.ServerID, ChannelID: b.ChannelID, LastActivity: now},
		},
		LastActivity:  now,
		ActivityLevel: 0,
	}

	err := s.lobbies.UpdateChatLobbies(ctx, func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		return append(lobbies, created.Clone()), true, nil
	})
	if err != nil {
		return models.ChatLobby{}, err
	}
	if err := s.lobbies.SetChannelLobbies(ctx, created.ID, a.ChannelID, b.ChannelID); err != nil {
		if rbErr := s.lobbies.UpdateChatLobbies(ctx, withoutLobby(created.ID)); rbErr != nil {
			s.logger.WithField("lobby_id", created.ID).WithError(rbErr).Error("failed to roll back unindexed lobby")
			return created, err
		}
		return models.ChatLobby{}, err
	}

	s.notifier.NotifyLobbyCreate(a.ChannelID, created.Clone())
	s.notifier.NotifyLobbyCreate(b.ChannelID, created.Clone())

	s.logger.WithFields(logrus.Fields{
		"lobby_id": created.ID,
		"channels": []string{a.ChannelID, b.ChannelID},
	}).Info("lobby created from pool match")
	return created, nil
}

func withoutLobby(lobbyID string) func([]models.ChatLobby) ([]models.ChatLobby, bool, error) {
	return func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error) {
		for i := range lobbies {
			if lobbies[i].ID == lobbyID {
				return append(lobbies[:i:i], lobbies[i+1:]...), true, nil
			}
		}
		return lobbies, false, nil
	}
}

// requeue puts a claimed pair back with their original timestamps when the lobby holding them
// could not be persisted.
func (s *Service) requeue(ctx context.Context, tier models.PoolTier, channels ...models.QueuedChannel) {
	for _, qc := range channels {
		if err := s.pool.Add(ctx, tier, qc); err != nil {
			s.logger.WithFields(logrus.Fields{
				"channel_id": qc.ChannelID,
				"tier":       tier,
			}).WithError(err).Error("failed to requeue channel after lobby creation error")
		}
	}
}

func (s *Service) recordWaitTime(ctx context.Context, tier models.PoolTier, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	if err := s.pool.RecordWaitTime(ctx, tier, wait); err != nil {
		s.logger.WithField("tier", tier).WithError(err).Warn("failed to record wait time")
	}
}
