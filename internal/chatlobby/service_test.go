package chatlobby

import (
	"context"
	"testing"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectQueuesIntoMediumTier: with no lobbies and no preferences the channel waits in the
// medium pool at position 1.
func TestConnectQueuesIntoMediumTier(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Nil(t, res.Lobby)

	info, err := e.svc.GetPoolInfo(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, models.TierMedium, info.Tier)
	assert.Equal(t, 1, info.Position)

	prefs, ok, err := e.lobbies.GetChannelPreferences(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.ChannelPreferences{}, prefs)
}

// TestHighTierStarvesLowerTiers: a lone premium channel stays queued and, while the high pool is
// non-empty, compatible medium channels are not paired either.
func TestHighTierStarvesLowerTiers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	res, err := e.svc.ConnectChannel(ctx, "S2", "B", models.ChannelPreferences{Premium: true})
	require.NoError(t, err)
	require.True(t, res.Queued)
	_, err = e.svc.ConnectChannel(ctx, "S3", "C", models.ChannelPreferences{})
	require.NoError(t, err)

	info, err := e.svc.GetPoolInfo(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, models.TierHigh, info.Tier)

	e.clock.Advance(time.Second)
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	assert.Empty(t, lobbies)
	for _, ch := range []string{"A", "B", "C"} {
		info, err := e.svc.GetPoolInfo(ctx, ch)
		require.NoError(t, err)
		assert.NotNil(t, info, "channel %s should still be queued", ch)
	}
	assert.Zero(t, e.notifier.createCount())
}

func TestImmediateMatchJoinsActiveLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 6, "A", "B"))

	res, err := e.svc.ConnectChannel(ctx, "S3", "C", models.ChannelPreferences{MinActivityLevel: 3})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.NotNil(t, res.Lobby)
	assert.Equal(t, "L1", res.Lobby.ID)
	assert.Len(t, res.Lobby.Connections, 3)

	got, err := e.svc.GetChannelLobby(ctx, "C")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Connections, 3)
	assert.Equal(t, "C", got.Connections[2].ChannelID)

	require.Len(t, e.notifier.connects, 1)
	assert.Equal(t, "C", e.notifier.connects[0].channelID)
	e.assertInvariants(t, "A", "B", "C")
}

func TestImmediateMatchRejections(t *testing.T) {
	tests := []struct {
		name     string
		lobby    func(e *testEnv) models.ChatLobby
		serverID string
		prefs    models.ChannelPreferences
	}{
		{
			name:     "same server already present",
			lobby:    func(e *testEnv) models.ChatLobby { return e.lobbyWith("L1", 5, "A", "B") },
			serverID: "srv-A",
		},
		{
			name:     "lobby full",
			lobby:    func(e *testEnv) models.ChatLobby { return e.lobbyWith("L1", 5, "A", "B", "D") },
			serverID: "S9",
		},
		{
			name:     "below requested activity",
			lobby:    func(e *testEnv) models.ChatLobby { return e.lobbyWith("L1", 1, "A", "B") },
			serverID: "S9",
			prefs:    models.ChannelPreferences{MinActivityLevel: 4},
		},
		{
			name: "idle lobby",
			lobby: func(e *testEnv) models.ChatLobby {
				l := e.lobbyWith("L1", 5, "A", "B")
				l.LastActivity = e.clock.Now().Add(-6 * time.Minute)
				return l
			},
			serverID: "S9",
		},
		{
			name:     "score below threshold",
			lobby:    func(e *testEnv) models.ChatLobby { return e.lobbyWith("L1", 5, "A", "B") },
			serverID: "S9",
			// size term collapses to 0 when the ideal size is far off
			prefs: models.ChannelPreferences{IdealLobbySize: 6, MaxServers: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			ctx := context.Background()
			e.seedLobby(t, tt.lobby(e))

			res, err := e.svc.ConnectChannel(ctx, tt.serverID, "C", tt.prefs)
			require.NoError(t, err)
			assert.True(t, res.Queued)
			assert.Empty(t, e.notifier.connects)
		})
	}
}

func TestImmediateMatchPrefersBestLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	stale := e.lobbyWith("stale", 5, "A", "B")
	stale.LastActivity = e.clock.Now().Add(-4 * time.Minute)
	e.seedLobby(t, stale)
	e.seedLobby(t, e.lobbyWith("fresh", 5, "D", "E"))

	res, err := e.svc.ConnectChannel(ctx, "S9", "C", models.ChannelPreferences{})
	require.NoError(t, err)
	require.NotNil(t, res.Lobby)
	assert.Equal(t, "fresh", res.Lobby.ID)
}

func TestMaxServersPreferenceRaisesCapacity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 5, "A", "B", "D"))

	res, err := e.svc.ConnectChannel(ctx, "S9", "C", models.ChannelPreferences{MaxServers: 5, IdealLobbySize: 4})
	require.NoError(t, err)
	require.False(t, res.Queued)
	assert.Len(t, res.Lobby.Connections, 4)
}

func TestConnectPreconditions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 0, "A", "B"))

	_, err := e.svc.ConnectChannel(ctx, "srv-A", "A", models.ChannelPreferences{})
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	_, err = e.svc.ConnectChannel(ctx, "S1", "Q", models.ChannelPreferences{MaxServers: 1})
	require.NoError(t, err)
	_, err = e.svc.ConnectChannel(ctx, "S1", "Q", models.ChannelPreferences{})
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestPoolMatchingCreatesLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	e.clock.Advance(2 * time.Second)
	_, err = e.svc.ConnectChannel(ctx, "S2", "B", models.ChannelPreferences{})
	require.NoError(t, err)

	e.clock.Advance(10 * time.Second)
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	require.Len(t, lobbies, 1)
	l := lobbies[0]
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, 0, l.ActivityLevel)
	require.Len(t, l.Connections, 2)
	assert.Equal(t, "A", l.Connections[0].ChannelID)
	assert.Equal(t, "B", l.Connections[1].ChannelID)

	for _, ch := range []string{"A", "B"} {
		id, err := e.lobbies.GetChannelLobbyID(ctx, ch)
		require.NoError(t, err)
		assert.Equal(t, l.ID, id)
	}
	require.Len(t, e.notifier.creates, 2)
	assert.Equal(t, "A", e.notifier.creates[0].channelID)
	assert.Equal(t, "B", e.notifier.creates[1].channelID)

	size, err := e.pool.Size(ctx, models.TierMedium)
	require.NoError(t, err)
	assert.Zero(t, size)

	waits, err := e.pool.WaitTimes(ctx, models.TierMedium)
	require.NoError(t, err)
	assert.ElementsMatch(t, []time.Duration{12 * time.Second, 10 * time.Second}, waits)
	e.assertInvariants(t, "A", "B")
}

func TestPoolMatchingNeverPairsSameServer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	_, err = e.svc.ConnectChannel(ctx, "S1", "B", models.ChannelPreferences{})
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))

	size, err := e.pool.Size(ctx, models.TierMedium)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestPoolMatchingSkipsMisalignedHead(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// A caps lobbies at a single server, so it never aligns with anyone.
	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{MaxServers: 1})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.svc.ConnectChannel(ctx, "S2", "B", models.ChannelPreferences{})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.svc.ConnectChannel(ctx, "S3", "C", models.ChannelPreferences{})
	require.NoError(t, err)

	require.NoError(t, e.svc.ProcessMatchingPool(ctx))

	info, err := e.svc.GetPoolInfo(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Position)

	l, err := e.svc.GetChannelLobby(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.HasChannel("C"))
	e.assertInvariants(t, "A", "B", "C")
}

func TestPoolMatchingTiesGoToOlderCandidate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, ch := range []string{"A", "B", "C"} {
		_, err := e.svc.ConnectChannel(ctx, "S-"+ch, ch, models.ChannelPreferences{})
		require.NoError(t, err)
		e.clock.Advance(time.Second)
	}
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))

	l, err := e.svc.GetChannelLobby(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.HasChannel("B"))

	info, err := e.svc.GetPoolInfo(ctx, "C")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Position)
}

func TestProcessMatchingPoolGuard(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	_, err = e.svc.ConnectChannel(ctx, "S2", "B", models.ChannelPreferences{})
	require.NoError(t, err)

	e.svc.processing.Store(true)
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))
	assert.Zero(t, e.notifier.createCount())

	e.svc.processing.Store(false)
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))
	assert.Equal(t, 2, e.notifier.createCount())
	assert.False(t, e.svc.processing.Load())
}

func TestDisconnectQueuedChannel(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{Premium: true})
	require.NoError(t, err)
	require.NoError(t, e.svc.DisconnectChannel(ctx, "A"))

	info, err := e.svc.GetPoolInfo(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Empty(t, e.notifier.disconnects)
	assert.Empty(t, e.notifier.deletes)
}

func TestDisconnectUnknownChannel(t *testing.T) {
	e := newTestEnv(t)
	err := e.svc.DisconnectChannel(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectStaleIndex(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.lobbies.SetChannelLobby(ctx, "A", "gone"))

	err := e.svc.DisconnectChannel(ctx, "A")
	assert.ErrorIs(t, err, ErrLobbyNotFound)

	id, err := e.lobbies.GetChannelLobbyID(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, id)
}

// TestDisconnectDissolvesPair: when one of two members leaves, the survivor is released.
func TestDisconnectDissolvesPair(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 3, "A", "B"))

	require.NoError(t, e.svc.DisconnectChannel(ctx, "A"))

	assert.Equal(t, []string{"B"}, e.notifier.deletes)
	assert.Empty(t, e.notifier.disconnects)

	for _, ch := range []string{"A", "B"} {
		l, err := e.svc.GetChannelLobby(ctx, ch)
		require.NoError(t, err)
		assert.Nil(t, l)
	}
	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	assert.Empty(t, lobbies)
}

func TestDisconnectFromLargerLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("other", 1, "X", "Y"))
	e.seedLobby(t, e.lobbyWith("L1", 3, "A", "B", "C"))

	require.NoError(t, e.svc.DisconnectChannel(ctx, "B"))

	require.Len(t, e.notifier.disconnects, 1)
	d := e.notifier.disconnects[0]
	assert.Equal(t, "B", d.channelID)
	assert.Equal(t, "L1", d.lobby.ID)
	assert.Len(t, d.lobby.Connections, 2)

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	require.Len(t, lobbies, 2)
	assert.Equal(t, "other", lobbies[0].ID)
	assert.False(t, lobbies[1].HasChannel("B"))

	id, err := e.lobbies.GetChannelLobbyID(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, id)
	e.assertInvariants(t, "A", "B", "C", "X", "Y")
}

func TestUpdateActivity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.lobbyWith("L1", 9, "A", "B")
	e.seedLobby(t, l)

	e.clock.Advance(time.Minute)
	require.NoError(t, e.svc.UpdateActivity(ctx, "L1", "A"))
	require.NoError(t, e.svc.UpdateActivity(ctx, "L1", "A"))

	got, err := e.svc.GetChannelLobby(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.ActivityLevel, "activity level is capped")
	assert.True(t, got.LastActivity.Equal(e.clock.Now()))
	assert.True(t, got.Connections[0].LastActivity.Equal(e.clock.Now()))
	assert.True(t, got.Connections[1].LastActivity.Equal(l.LastActivity))
}

func TestUpdateActivityUnknownLobby(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.svc.UpdateActivity(context.Background(), "missing", "A"))
	assert.False(t, e.mr.Exists("test:lobbies"))
}

// TestIdleLobbyIsReaped: a lobby idle past the timeout loses every connection and is deleted.
func TestIdleLobbyIsReaped(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 4, "A", "B"))

	e.clock.Advance(6 * time.Minute)
	require.NoError(t, e.svc.CheckIdleLobbies(ctx))

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	assert.Empty(t, lobbies)

	require.Len(t, e.notifier.disconnects, 2)
	assert.Equal(t, "A", e.notifier.disconnects[0].channelID)
	assert.Equal(t, "B", e.notifier.disconnects[1].channelID)
	for _, ch := range []string{"A", "B"} {
		id, err := e.lobbies.GetChannelLobbyID(ctx, ch)
		require.NoError(t, err)
		assert.Empty(t, id)
	}
}

func TestIdleCheckPrunesOnlyInactiveConnections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 4, "A", "B", "C"))
	e.seedLobby(t, e.lobbyWith("L2", 2, "X", "Y"))

	e.clock.Advance(4 * time.Minute)
	require.NoError(t, e.svc.UpdateActivity(ctx, "L1", "A"))
	require.NoError(t, e.svc.UpdateActivity(ctx, "L2", "X"))
	require.NoError(t, e.svc.UpdateActivity(ctx, "L2", "Y"))
	e.clock.Advance(2 * time.Minute)

	require.NoError(t, e.svc.CheckIdleLobbies(ctx))

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	require.Len(t, lobbies, 2)
	assert.Len(t, lobbies[0].Connections, 1)
	assert.Equal(t, "A", lobbies[0].Connections[0].ChannelID)
	assert.Equal(t, 4, lobbies[0].ActivityLevel, "5 after activity, decayed to 4")
	assert.Len(t, lobbies[1].Connections, 2)
	assert.Equal(t, 3, lobbies[1].ActivityLevel)
	assert.Len(t, e.notifier.disconnects, 2)
}

func TestIdleCheckIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 5, "A", "B"))
	stale := e.lobbyWith("L2", 1, "X", "Y")
	stale.Connections[0].LastActivity = e.clock.Now().Add(-10 * time.Minute)
	e.seedLobby(t, stale)

	require.NoError(t, e.svc.CheckIdleLobbies(ctx))
	first, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	notified := len(e.notifier.disconnects)

	require.NoError(t, e.svc.CheckIdleLobbies(ctx))
	second, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, notified, len(e.notifier.disconnects))
}

func TestIdleCheckQuietTickSkipsWrite(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLobby(t, e.lobbyWith("L1", 5, "A", "B"))

	require.NoError(t, e.svc.CheckIdleLobbies(ctx))

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	require.Len(t, lobbies, 1)
	assert.Equal(t, 5, lobbies[0].ActivityLevel)
}

func TestInvariantsAcrossLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	channels := []string{"A", "B", "C", "D", "E"}

	for i, ch := range channels {
		_, err := e.svc.ConnectChannel(ctx, "S"+ch, ch, models.ChannelPreferences{})
		require.NoError(t, err)
		e.assertInvariants(t, channels...)
		e.clock.Advance(time.Second)
		if i%2 == 1 {
			require.NoError(t, e.svc.ProcessMatchingPool(ctx))
			e.assertInvariants(t, channels...)
		}
	}
	require.NoError(t, e.svc.ProcessMatchingPool(ctx))
	e.assertInvariants(t, channels...)

	// A+B paired from the pool, C joined them on connect, D+E paired last.
	l, err := e.svc.GetChannelLobby(ctx, "C")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Len(t, l.Connections, 3)

	require.NoError(t, e.svc.DisconnectChannel(ctx, "D"))
	e.assertInvariants(t, channels...)
	require.NoError(t, e.svc.DisconnectChannel(ctx, "A"))
	e.assertInvariants(t, channels...)

	lobbies, err := e.lobbies.GetChatLobbies(ctx)
	require.NoError(t, err)
	for _, l := range lobbies {
		assert.NotEqual(t, 1, len(l.Connections), "no singleton lobby after disconnects")
	}
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.QueueCheckInterval = 10 * time.Millisecond
	cfg.ActivityCheckInterval = 10 * time.Millisecond
	e := newTestEnvWithConfig(t, cfg)
	ctx := context.Background()

	_, err := e.svc.ConnectChannel(ctx, "S1", "A", models.ChannelPreferences{})
	require.NoError(t, err)
	_, err = e.svc.ConnectChannel(ctx, "S2", "B", models.ChannelPreferences{})
	require.NoError(t, err)

	require.NoError(t, e.svc.Start(ctx))
	assert.ErrorIs(t, e.svc.Start(ctx), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return e.notifier.createCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	e.svc.Stop()
	e.svc.Stop()

	require.NoError(t, e.svc.Start(ctx))
	e.svc.Stop()
}
