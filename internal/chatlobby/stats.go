package chatlobby

import (
	"context"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
)

const (
	// pairingStep is the added wait per pair of channels ahead in the queue.
	pairingStep = 5 * time.Second
	// congestionStep is the added wait per queued channel beyond the first pair.
	congestionStep = 2 * time.Second
	historyWeight  = 0.2
)

// PoolInfo describes a queued channel's place in the pool.
type PoolInfo struct {
	Position        int             `json:"position"` // 1-based
	Tier            models.PoolTier `json:"tier"`
	EstimatedWaitMs int64           `json:"estimatedWaitMs"`
}

// EstimatedWait returns the wait estimate as a duration.
func (p PoolInfo) EstimatedWait() time.Duration {
	return time.Duration(p.EstimatedWaitMs) * time.Millisecond
}

// Stats is a read-only snapshot for dashboards.
type Stats struct {
	ActiveLobbies    int                     `json:"activeLobbies"`
	QueuedChannels   int                     `json:"queuedChannels"`
	AverageWaitMs    int64                   `json:"averageWaitMs"`
	TierDistribution map[models.PoolTier]int `json:"tierDistribution"`
}

// GetChannelLobby returns the lobby channelID belongs to, or nil.
func (s *Service) GetChannelLobby(ctx context.Context, channelID string) (*models.ChatLobby, error) {
	lobbyID, err := s.lobbies.GetChannelLobbyID(ctx, channelID)
	if err != nil || lobbyID == "" {
		return nil, err
	}
	lobbies, err := s.lobbies.GetChatLobbies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lobbies {
		if lobbies[i].ID == lobbyID {
			return &lobbies[i], nil
		}
	}
	return nil, nil
}

// GetPoolInfo returns channelID's queue position, tier and estimated wait, or nil when it is
// not queued.
func (s *Service) GetPoolInfo(ctx context.Context, channelID string) (*PoolInfo, error) {
	tier, rank, err := s.findQueued(ctx, channelID)
	if err != nil || tier == "" {
		return nil, err
	}
	position := rank + 1
	size, err := s.pool.Size(ctx, tier)
	if err != nil {
		size = position
	}
	wait := s.calculateEstimatedWaitTime(ctx, tier, position, size)
	return &PoolInfo{
		Position:        position,
		Tier:            tier,
		EstimatedWaitMs: wait.Milliseconds(),
	}, nil
}

// calculateEstimatedWaitTime estimates the wait for the channel at the 1-based position in a
// tier of poolSize channels. If the wait history cannot be read it falls back to base plus a
// flat per-position step.
func (s *Service) calculateEstimatedWaitTime(ctx context.Context, tier models.PoolTier, position, poolSize int) time.Duration {
	base := s.baseWaitTime(tier)

	history, err := s.pool.WaitTimes(ctx, tier)
	if err != nil {
		s.logger.WithField("tier", tier).WithError(err).Debug("wait history unavailable, using simple estimate")
		return base + time.Duration(position)*pairingStep
	}

	estimate := base + time.Duration((position+1)/2)*pairingStep
	if extra := poolSize - 2; extra > 0 {
		estimate += time.Duration(extra) * congestionStep
	}
	if avg, ok := averageWait(history); ok {
		estimate += time.Duration(historyWeight * float64(avg))
	}
	return estimate
}

func (s *Service) baseWaitTime(tier models.PoolTier) time.Duration {
	switch tier {
	case models.TierHigh:
		return s.cfg.BaseWaitHigh
	case models.TierMedium:
		return s.cfg.BaseWaitMedium
	default:
		return s.cfg.BaseWaitLow
	}
}

func averageWait(waits []time.Duration) (time.Duration, bool) {
	if len(waits) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, w := range waits {
		total += w
	}
	return total / time.Duration(len(waits)), true
}

// GetStats aggregates lobby and pool counts with the average observed wait across all tiers.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	lobbies, err := s.lobbies.GetChatLobbies(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ActiveLobbies:    len(lobbies),
		TierDistribution: make(map[models.PoolTier]int, len(models.Tiers)),
	}
	var allWaits []time.Duration
	for _, tier := range models.Tiers {
		size, err := s.pool.Size(ctx, tier)
		if err != nil {
			return Stats{}, err
		}
		stats.TierDistribution[tier] = size
		stats.QueuedChannels += size

		waits, err := s.pool.WaitTimes(ctx, tier)
		if err != nil {
			return Stats{}, err
		}
		allWaits = append(allWaits, waits...)
	}
	if avg, ok := averageWait(allWaits); ok {
		stats.AverageWaitMs = avg.Milliseconds()
	}
	return stats, nil
}
