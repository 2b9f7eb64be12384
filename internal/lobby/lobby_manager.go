// internal/lobby/lobby_manager.go

package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUpdateConflict is returned by UpdateChatLobbies when every optimistic attempt lost a race
// against another writer.
var ErrUpdateConflict = errors.New("lobby list changed concurrently, retries exhausted")

// ErrChannelBusy is returned by LockChannel while another holder owns the channel.
var ErrChannelBusy = errors.New("channel is locked by another request")

// UpdateFunc receives the current lobby list and returns the replacement plus whether anything
// changed. It may run more than once per UpdateChatLobbies call and must not have side effects
// beyond the values it returns.
type UpdateFunc func(lobbies []models.ChatLobby) ([]models.ChatLobby, bool, error)

// LobbyManager is the persistence wrapper for chat lobbies. It stores the full lobby list, the
// channel -> lobby reverse index and per-channel preferences in Redis. It holds no policy.
type LobbyManager struct {
	rdb     *redis.Client
	prefix  string
	retries int
}

// NewLobbyManager returns a LobbyManager whose keys live under prefix.
func NewLobbyManager(rdb *redis.Client, prefix string, retries int) *LobbyManager {
	if retries < 1 {
		retries = 1
	}
	return &LobbyManager{rdb: rdb, prefix: prefix, retries: retries}
}

func (lm *LobbyManager) lobbiesKey() string {
	return lm.prefix + ":lobbies"
}

func (lm *LobbyManager) channelKey(channelID string) string {
	return lm.prefix + ":channel:" + channelID
}

func (lm *LobbyManager) prefsKey(channelID string) string {
	return lm.prefix + ":prefs:" + channelID
}

func (lm *LobbyManager) lockKey(channelID string) string {
	return lm.prefix + ":lock:" + channelID
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readLobbies(ctx context.Context, g stringGetter, key string) ([]models.ChatLobby, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.ChatLobby{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lobby list: %w", err)
	}
	var lobbies []models.ChatLobby
	if err := json.Unmarshal(raw, &lobbies); err != nil {
		return nil, fmt.Errorf("failed to decode lobby list: %w", err)
	}
	if lobbies == nil {
		lobbies = []models.ChatLobby{}
	}
	return lobbies, nil
}

// GetChatLobbies returns the full current lobby list.
func (lm *LobbyManager) GetChatLobbies(ctx context.Context) ([]models.ChatLobby, error) {
	return readLobbies(ctx, lm.rdb, lm.lobbiesKey())
}

// SetChatLobbies replaces the full lobby list in a single write. Concurrent writers are
// last-writer-wins; use UpdateChatLobbies for read-modify-write cycles.
func (lm *LobbyManager) SetChatLobbies(ctx context.Context, lobbies []models.ChatLobby) error {
	data, err := encodeLobbies(lobbies)
	if err != nil {
		return err
	}
	if err := lm.rdb.Set(ctx, lm.lobbiesKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write lobby list: %w", err)
	}
	return nil
}

// UpdateChatLobbies runs fn against the current lobby list and writes the result back only if
// the list key was not modified in between (WATCH/MULTI). Lost races are retried up to the
// configured number of attempts. Nothing is written when fn reports no change.
func (lm *LobbyManager) UpdateChatLobbies(ctx context.Context, fn UpdateFunc) error {
	key := lm.lobbiesKey()
	for attempt := 0; attempt < lm.retries; attempt++ {
		err := lm.rdb.Watch(ctx, func(tx *redis.Tx) error {
			lobbies, err := readLobbies(ctx, tx, key)
			if err != nil {
				return err
			}
			next, changed, err := fn(lobbies)
			if err != nil || !changed {
				return err
			}
			data, err := encodeLobbies(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrUpdateConflict
}

func encodeLobbies(lobbies []models.ChatLobby) ([]byte, error) {
	if lobbies == nil {
		lobbies = []models.ChatLobby{}
	}
	data, err := json.Marshal(lobbies)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lobby list: %w", err)
	}
	return data, nil
}

// GetChannelLobbyID returns the lobby the channel is mapped to, or "" if it has none.
func (lm *LobbyManager) GetChannelLobbyID(ctx context.Context, channelID string) (string, error) {
	id, err := lm.rdb.Get(ctx, lm.channelKey(channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lobby for channel %s: %w", channelID, err)
	}
	return id, nil
}

// SetChannelLobby maps channelID to lobbyID in the reverse index.
func (lm *LobbyManager) SetChannelLobby(ctx context.Context, channelID, lobbyID string) error {
	if err := lm.rdb.Set(ctx, lm.channelKey(channelID), lobbyID, 0).Err(); err != nil {
		return fmt.Errorf("failed to map channel %s to lobby %s: %w", channelID, lobbyID, err)
	}
	return nil
}

// SetChannelLobbies maps every channel in channelIDs to lobbyID in a single MULTI, so either all
// index entries are written or none are.
func (lm *LobbyManager) SetChannelLobbies(ctx context.Context, lobbyID string, channelIDs ...string) error {
	_, err := lm.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range channelIDs {
			pipe.Set(ctx, lm.channelKey(id), lobbyID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to map channels %v to lobby %s: %w", channelIDs, lobbyID, err)
	}
	return nil
}

// UnlockFunc releases a channel lock. It is a no-op once the lock expired and was taken by
// someone else.
type UnlockFunc func(ctx context.Context) error

// LockChannel takes an exclusive, expiring hold on channelID. Connects and pool matches hold it
// while they move the channel between the pool and a lobby. It returns ErrChannelBusy when the
// lock is already held.
func (lm *LobbyManager) LockChannel(ctx context.Context, channelID string, ttl time.Duration) (UnlockFunc, error) {
	key := lm.lockKey(channelID)
	token := uuid.NewString()
	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lock channel %s: %w", channelID, err)
	}
	if !ok {
		return nil, ErrChannelBusy
	}
	return func(ctx context.Context) error {
		return lm.unlock(ctx, key, token)
	}, nil
}

func (lm *LobbyManager) unlock(ctx context.Context, key, token string) error {
	err := lm.rdb.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if held != token {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// expired and re-acquired meanwhile
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", key, err)
	}
	return nil
}

// RemoveChannelFromLobby clears channelID's reverse-index entry.
func (lm *LobbyManager) RemoveChannelFromLobby(ctx context.Context, channelID string) error {
	if err := lm.rdb.Del(ctx, lm.channelKey(channelID)).Err(); err != nil {
		return fmt.Errorf("failed to unmap channel %s: %w", channelID, err)
	}
	return nil
}

// SetChannelPreferences stores the preferences a channel connected with.
func (lm *LobbyManager) SetChannelPreferences(ctx context.Context, channelID string, prefs models.ChannelPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := lm.rdb.Set(ctx, lm.prefsKey(channelID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store preferences for channel %s: %w", channelID, err)
	}
	return nil
}

// GetChannelPreferences returns the stored preferences for channelID. The second return value
// is false when none were stored.
func (lm *LobbyManager) GetChannelPreferences(ctx context.Context, channelID string) (models.ChannelPreferences, bool, error) {
	var prefs models.ChannelPreferences
	raw, err := lm.rdb.Get(ctx, lm.prefsKey(channelID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return prefs, false, nil
	}
	if err != nil {
		return prefs, false, fmt.Errorf("failed to read preferences for channel %s: %w", channelID, err)
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return prefs, false, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return prefs, true, nil
}
