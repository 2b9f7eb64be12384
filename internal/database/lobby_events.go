package database

import (
	"context"
	"fmt"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the historian tables if they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS lobby_sessions (
	lobby_id         TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	opened_at        TIMESTAMPTZ NOT NULL,
	closed_at        TIMESTAMPTZ,
	last_event_at    TIMESTAMPTZ NOT NULL,
	peak_connections INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS lobby_events (
	id               BIGSERIAL PRIMARY KEY,
	event_type       TEXT NOT NULL,
	lobby_id         TEXT,
	channel_id       TEXT NOT NULL,
	connection_count INT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lobby_events_channel_idx ON lobby_events (channel_id, occurred_at DESC);
`

const (
	insertEventQ = `
		INSERT INTO lobby_events (event_type, lobby_id, channel_id, connection_count, occurred_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
	`
	upsertSessionQ = `
		INSERT INTO lobby_sessions (lobby_id, status, opened_at, last_event_at, peak_connections)
		VALUES ($1, 'open', $2, $2, $3)
		ON CONFLICT (lobby_id)
		DO UPDATE SET last_event_at = EXCLUDED.last_event_at,
		              peak_connections = GREATEST(lobby_sessions.peak_connections, EXCLUDED.peak_connections)
	`
	touchSessionQ = `
		UPDATE lobby_sessions SET last_event_at = $2
		WHERE lobby_id = $1 AND status = 'open'
	`
	closeSessionQ = `
		UPDATE lobby_sessions SET status = 'closed', closed_at = $2, last_event_at = $2
		WHERE lobby_id = $1 AND status = 'open'
	`
	// a dissolved lobby's survivor is reported without the lobby id
	closeSessionByChannelQ = `
		UPDATE lobby_sessions SET status = 'closed', closed_at = $2, last_event_at = $2
		WHERE status = 'open' AND lobby_id = (
			SELECT lobby_id FROM lobby_events
			WHERE channel_id = $1 AND lobby_id IS NOT NULL
			ORDER BY occurred_at DESC, id DESC
			LIMIT 1
		)
	`
	expireSessionQ = `
		UPDATE lobby_sessions SET status = 'expired', closed_at = NOW()
		WHERE lobby_id = $1 AND status = 'open'
	`
)

// execer is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// LobbyEventStore persists lobby events and the per-lobby sessions derived from them.
type LobbyEventStore struct {
	pool *pgxpool.Pool
}

func NewLobbyEventStore(pool *pgxpool.Pool) *LobbyEventStore {
	return &LobbyEventStore{pool: pool}
}

// EnsureSchema applies Schema.
func (s *LobbyEventStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply historian schema: %w", err)
	}
	return nil
}

// InsertEvents writes a batch of events in one transaction.
func (s *LobbyEventStore) InsertEvents(ctx context.Context, events []models.LobbyEvent) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range events {
			if err := applyLobbyEvent(ctx, tx, ev); err != nil {
				return fmt.Errorf("failed to apply %s event for channel %s: %w", ev.Type, ev.ChannelID, err)
			}
		}
		return nil
	})
}

// ExpireSession marks a still-open session as expired. It reports whether a row changed.
func (s *LobbyEventStore) ExpireSession(ctx context.Context, lobbyID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, expireSessionQ, lobbyID)
	if err != nil {
		return false, fmt.Errorf("failed to expire session %s: %w", lobbyID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// applyLobbyEvent records ev and moves its lobby session along.
func applyLobbyEvent(ctx context.Context, db execer, ev models.LobbyEvent) error {
	at := ev.Time()
	if _, err := db.Exec(ctx, insertEventQ, string(ev.Type), ev.LobbyID, ev.ChannelID, ev.ConnectionCount, at); err != nil {
		return err
	}

	var err error
	switch ev.Type {
	case models.EventLobbyCreate, models.EventChannelConnect:
		_, err = db.Exec(ctx, upsertSessionQ, ev.LobbyID, at, ev.ConnectionCount)
	case models.EventChannelDisconnect:
		if ev.ConnectionCount == 0 {
			_, err = db.Exec(ctx, closeSessionQ, ev.LobbyID, at)
		} else {
			_, err = db.Exec(ctx, touchSessionQ, ev.LobbyID, at)
		}
	case models.EventLobbyDelete:
		if ev.LobbyID != "" {
			_, err = db.Exec(ctx, closeSessionQ, ev.LobbyID, at)
		} else {
			_, err = db.Exec(ctx, closeSessionByChannelQ, ev.ChannelID, at)
		}
	default:
		return fmt.Errorf("unknown lobby event type %q", ev.Type)
	}
	return err
}
