package chatlobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/redis/go-redis/v9"
)

// PriorityPool holds the channels waiting for a match. Each tier is a Redis sorted set of
// channel IDs scored by enqueue time (millis), so ranges come back oldest first. The full
// QueuedChannel records live in a single hash keyed by channel ID.
type PriorityPool struct {
	rdb         *redis.Client
	prefix      string
	historySize int
}

// NewPriorityPool returns a pool whose keys live under prefix. historySize caps the number of
// recorded wait times kept per tier.
func NewPriorityPool(rdb *redis.Client, prefix string, historySize int) *PriorityPool {
	if historySize < 1 {
		historySize = 1
	}
	return &PriorityPool{rdb: rdb, prefix: prefix, historySize: historySize}
}

func (p *PriorityPool) tierKey(tier models.PoolTier) string {
	return p.prefix + ":pool:" + string(tier)
}

func (p *PriorityPool) entriesKey() string {
	return p.prefix + ":pool:entries"
}

func (p *PriorityPool) historyKey(tier models.PoolTier) string {
	return p.prefix + ":waittimes:" + string(tier)
}

// Add enqueues qc into tier, keyed by its timestamp. The entries hash field is reserved with
// HSETNX first, so a channel already waiting in any tier is rejected with ErrAlreadyQueued.
func (p *PriorityPool) Add(ctx context.Context, tier models.PoolTier, qc models.QueuedChannel) error {
	data, err := json.Marshal(qc)
	if err != nil {
		return fmt.Errorf("failed to encode queued channel: %w", err)
	}
	reserved, err := p.rdb.HSetNX(ctx, p.entriesKey(), qc.ChannelID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve pool entry for channel %s: %w", qc.ChannelID, err)
	}
	if !reserved {
		return fmt.Errorf("channel %s: %w", qc.ChannelID, ErrAlreadyQueued)
	}
	err = p.rdb.ZAdd(ctx, p.tierKey(tier), redis.Z{
		Score:  float64(qc.Timestamp.UnixMilli()),
		Member: qc.ChannelID,
	}).Err()
	if err != nil {
		p.rdb.HDel(context.WithoutCancel(ctx), p.entriesKey(), qc.ChannelID)
		return fmt.Errorf("failed to enqueue channel %s into %s pool: %w", qc.ChannelID, tier, err)
	}
	return nil
}

// Remove takes channelID out of tier. It reports whether the channel was queued there.
func (p *PriorityPool) Remove(ctx context.Context, tier models.PoolTier, channelID string) (bool, error) {
	n, err := p.rdb.ZRem(ctx, p.tierKey(tier), channelID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove channel %s from %s pool: %w", channelID, tier, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := p.rdb.HDel(ctx, p.entriesKey(), channelID).Err(); err != nil {
		return true, fmt.Errorf("failed to drop pool entry for channel %s: %w", channelID, err)
	}
	return true, nil
}

// Members returns the channels queued in tier, oldest first.
func (p *PriorityPool) Members(ctx context.Context, tier models.PoolTier) ([]models.QueuedChannel, error) {
	ids, err := p.rdb.ZRangeByScore(ctx, p.tierKey(tier), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s pool: %w", tier, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := p.rdb.HMGet(ctx, p.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s pool entries: %w", tier, err)
	}

	members := make([]models.QueuedChannel, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// removed between the two reads
			continue
		}
		var qc models.QueuedChannel
		if err := json.Unmarshal([]byte(s), &qc); err != nil {
			return nil, fmt.Errorf("failed to decode pool entry %s: %w", ids[i], err)
		}
		members = append(members, qc)
	}
	return members, nil
}

// Size returns the number of channels queued in tier.
func (p *PriorityPool) Size(ctx context.Context, tier models.PoolTier) (int, error) {
	n, err := p.rdb.ZCard(ctx, p.tierKey(tier)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to size %s pool: %w", tier, err)
	}
	return int(n), nil
}

// Rank returns the 0-based position of channelID in tier, or -1 when it is not queued there.
func (p *PriorityPool) Rank(ctx context.Context, tier models.PoolTier, channelID string) (int, error) {
	r, err := p.rdb.ZRank(ctx, p.tierKey(tier), channelID).Result()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to rank channel %s in %s pool: %w", channelID, tier, err)
	}
	return int(r), nil
}

// Claim removes both channels from tier in one transaction, but only if both are still queued
// and no other writer touched the tier meanwhile. It reports whether the pair was claimed.
func (p *PriorityPool) Claim(ctx context.Context, tier models.PoolTier, a, b string) (bool, error) {
	key := p.tierKey(tier)
	claimed := false
	err := p.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for _, id := range []string{a, b} {
			_, err := tx.ZScore(ctx, key, id).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, key, a, b)
			pipe.HDel(ctx, p.entriesKey(), a, b)
			return nil
		})
		if err == nil {
			claimed = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim %s and %s from %s pool: %w", a, b, tier, err)
	}
	return claimed, nil
}

// RecordWaitTime pushes an observed wait onto tier's capped history.
func (p *PriorityPool) RecordWaitTime(ctx context.Context, tier models.PoolTier, wait time.Duration) error {
	key := p.historyKey(tier)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, wait.Milliseconds())
		pipe.LTrim(ctx, key, 0, int64(p.historySize-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s wait time: %w", tier, err)
	}
	return nil
}

// WaitTimes returns tier's recorded wait times, newest first.
func (p *PriorityPool) WaitTimes(ctx context.Context, tier models.PoolTier) ([]time.Duration, error) {
	vals, err := p.rdb.LRange(ctx, p.historyKey(tier), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s wait times: %w", tier, err)
	}
	waits := make([]time.Duration, 0, len(vals))
	for _, v := range vals {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		waits = append(waits, time.Duration(ms)*time.Millisecond)
	}
	return waits, nil
}
