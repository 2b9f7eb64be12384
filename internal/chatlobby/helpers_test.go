package chatlobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/lobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type connectCall struct {
	channelID string
	lobby     models.ChatLobby
}

// recordingNotifier collects notifications instead of delivering them.
type recordingNotifier struct {
	mu          sync.Mutex
	connects    []connectCall
	creates     []connectCall
	disconnects []connectCall
	deletes     []string
}

func (n *recordingNotifier) NotifyChannelConnect(channelID string, l models.ChatLobby) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connects = append(n.connects, connectCall{channelID, l})
}

func (n *recordingNotifier) NotifyLobbyCreate(channelID string, l models.ChatLobby) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.creates = append(n.creates, connectCall{channelID, l})
}

func (n *recordingNotifier) NotifyChannelDisconnect(l models.ChatLobby, channelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnects = append(n.disconnects, connectCall{channelID, l})
}

func (n *recordingNotifier) NotifyLobbyDelete(channelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes = append(n.deletes, channelID)
}

func (n *recordingNotifier) createCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.creates)
}

type testEnv struct {
	svc      *Service
	lobbies  *lobby.LobbyManager
	pool     *PriorityPool
	notifier *recordingNotifier
	clock    *fakeClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	cfg      config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, config.Default())
}

func newTestEnvWithConfig(t *testing.T, cfg config.Config) *testEnv {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	lm := lobby.NewLobbyManager(rdb, "test", cfg.UpdateRetries)
	pool := NewPriorityPool(rdb, "test", cfg.WaitHistorySize)
	notifier := &recordingNotifier{}
	clock := newFakeClock()
	svc := New(cfg, lm, pool, notifier, logger, WithClock(clock.Now))

	return &testEnv{svc: svc, lobbies: lm, pool: pool, notifier: notifier, clock: clock, mr: mr, rdb: rdb, cfg: cfg}
}

// seedLobby persists a lobby and its reverse-index entries directly.
func (e *testEnv) seedLobby(t *testing.T, l models.ChatLobby) {
	ctx := context.Background()
	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	require.NoError(t, e.lobbies.SetChatLobbies(ctx, append(lobbies, l)))
	for _, c := range l.Connections {
		require.NoError(t, e.lobbies.SetChannelLobby(ctx, c.ChannelID, l.ID))
	}
}

func (e *testEnv) lobbyWith(id string, activity int, channels ...string) models.ChatLobby {
	now := e.clock.Now()
	l := models.ChatLobby{ID: id, LastActivity: now, ActivityLevel: activity}
	for _, ch := range channels {
		l.Connections = append(l.Connections, models.LobbyConnection{
			ServerID:     "srv-" + ch,
			ChannelID:    ch,
			LastActivity: now,
		})
	}
	return l
}

// assertInvariants checks the cross-structure invariants of the engine.
func (e *testEnv) assertInvariants(t *testing.T, channels ...string) {
	t.Helper()
	ctx := context.Background()
	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)

	for _, l := range lobbies {
		require.NotEmpty(t, l.Connections, "persisted lobby %s has no connections", l.ID)
		servers := map[string]bool{}
		for _, c := range l.Connections {
			require.False(t, servers[c.ServerID], "lobby %s holds server %s twice", l.ID, c.ServerID)
			servers[c.ServerID] = true
		}
	}
	for _, ch := range channels {
		lobbyID, err := e.lobbies.GetChannelLobbyID(ctx, ch)
		require.NoError(t, err)
		tier, _, err := e.svc.findQueued(ctx, ch)
		require.NoError(t, err)
		require.False(t, lobbyID != "" && tier != "", "channel %s is both queued and in lobby %s", ch, lobbyID)
	}
}

// queuedTiers lists every tier channelID is queued in.
func (e *testEnv) queuedTiers(t *testing.T, channelID string) []models.PoolTier {
	t.Helper()
	var tiers []models.PoolTier
	for _, tier := range models.Tiers {
		rank, err := e.pool.Rank(context.Background(), tier, channelID)
		require.NoError(t, err)
		if rank >= 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}
