package models

import "time"

// ChannelPreferences are the optional matching hints a channel supplies when it connects.
// The zero value of every field means "unset".
type ChannelPreferences struct {
	Premium          bool  `json:"premium,omitempty"`
	MinActivityLevel int   `json:"minActivityLevel,omitempty"`
	MaxWaitTimeMs    int64 `json:"maxWaitTime,omitempty"`
	MaxServers       int   `json:"maxServers,omitempty"`
	IdealLobbySize   int   `json:"idealLobbySize,omitempty"`
}

// MaxWait returns MaxWaitTimeMs as a duration, or 0 when unset.
func (p ChannelPreferences) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitTimeMs) * time.Millisecond
}
