package models

import "time"

// PoolTier names one of the three priority queues.
type PoolTier string

const (
	TierHigh   PoolTier = "high"
	TierMedium PoolTier = "medium"
	TierLow    PoolTier = "low"
)

// Tiers lists the pool tiers in processing order.
var Tiers = []PoolTier{TierHigh, TierMedium, TierLow}

// QueuedChannel is a channel waiting in a priority pool for a partner.
type QueuedChannel struct {
	ServerID    string             `json:"serverId"`
	ChannelID   string             `json:"channelId"`
	Preferences ChannelPreferences `json:"preferences"`
	Timestamp   time.Time          `json:"timestamp"`
	Priority    int                `json:"priority"` // used only to pick the tier
}
