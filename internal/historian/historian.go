// Package historian drains lobby events from the Redis queue into Postgres in batches and
// expires the sessions of lobbies that went quiet without being dissolved.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	flushTimeout = 5 * time.Second
	// maxBacklogBatches caps how many batches worth of failed events are kept for retry.
	maxBacklogBatches = 50
)

// Store persists lobby events. database.LobbyEventStore implements it.
type Store interface {
	InsertEvents(ctx context.Context, events []models.LobbyEvent) error
	ExpireSession(ctx context.Context, lobbyID string) (bool, error)
}

// Options tunes the historian. Zero values fall back to the defaults of NewService.
type Options struct {
	Queue         string
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration
	CheckInterval time.Duration
	PopTimeout    time.Duration
}

// Service consumes the lobby-events queue.
type Service struct {
	rdb    *redis.Client
	store  Store
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	// lastActivity maps lobby ID to the time its last event was seen.
	lastActivity sync.Map
	// channelLobby maps channel ID to the lobby it was last seen in, to attribute survivor
	// notifications that carry no lobby ID.
	channelLobby sync.Map

	batchMu sync.Mutex
	batch   []models.LobbyEvent
}

func NewService(rdb *redis.Client, store Store, opts Options, logger *logrus.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = time.Hour
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		rdb:    rdb,
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		batch:  make([]models.LobbyEvent, 0, opts.BatchSize),
	}
}

// Run consumes events until ctx is cancelled, then flushes whatever is still batched.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.inactivityLoop(ctx)
	}()

	s.logger.WithField("queue", s.opts.Queue).Info("lobby historian started")
	wg.Wait()

	s.flush(context.Background())
	s.logger.Info("lobby historian stopped")
	return nil
}

// readLoop pops events with a bounded BLPOP so cancellation is noticed.
func (s *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := s.rdb.BLPop(ctx, s.opts.PopTimeout, s.opts.Queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.logger.WithError(err).Error("BLPOP failed")
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var ev models.LobbyEvent
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			s.logger.WithError(err).Warn("invalid lobby event record")
			continue
		}
		s.track(&ev)
		s.appendToBatch(ctx, ev)
	}
}

// track updates the activity maps and fills in the lobby of a survivor's delete event.
func (s *Service) track(ev *models.LobbyEvent) {
	if ev.LobbyID == "" {
		if id, ok := s.channelLobby.Load(ev.ChannelID); ok {
			ev.LobbyID = id.(string)
		}
	}
	switch ev.Type {
	case models.EventLobbyCreate, models.EventChannelConnect:
		s.channelLobby.Store(ev.ChannelID, ev.LobbyID)
	default:
		s.channelLobby.Delete(ev.ChannelID)
	}

	if ev.LobbyID == "" {
		return
	}
	closed := ev.Type == models.EventLobbyDelete ||
		(ev.Type == models.EventChannelDisconnect && ev.ConnectionCount == 0)
	if closed {
		s.lastActivity.Delete(ev.LobbyID)
		return
	}
	s.lastActivity.Store(ev.LobbyID, s.now())
}

func (s *Service) appendToBatch(ctx context.Context, ev models.LobbyEvent) {
	s.batchMu.Lock()
	s.batch = append(s.batch, ev)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		s.flush(ctx)
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// flush writes the current batch in one transaction. It runs detached from ctx so a batch taken
// while the service shuts down still reaches the store. A failed batch is put back ahead of
// newer events for the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.LobbyEvent, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := s.store.InsertEvents(flushCtx, pending); err != nil {
		s.restore(pending, err)
		return
	}
	s.logger.WithField("events", len(pending)).Debug("flushed lobby events")
}

// restore returns a failed batch to the front of the buffer. Once the backlog is full the batch
// is dropped.
func (s *Service) restore(pending []models.LobbyEvent, err error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	log := s.logger.WithField("events", len(pending)).WithError(err)
	if len(pending)+len(s.batch) > s.opts.BatchSize*maxBacklogBatches {
		log.Error("failed to flush lobby events, backlog full, dropping batch")
		return
	}
	s.batch = append(pending, s.batch...)
	log.Warn("failed to flush lobby events, will retry")
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireInactive(ctx)
		}
	}
}

// expireInactive marks sessions with no events for longer than Inactivity as expired.
func (s *Service) expireInactive(ctx context.Context) {
	now := s.now()
	s.lastActivity.Range(func(key, val interface{}) bool {
		lobbyID, ok1 := key.(string)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.opts.Inactivity {
			return true
		}
		changed, err := s.store.ExpireSession(ctx, lobbyID)
		if err != nil {
			s.logger.WithField("lobby_id", lobbyID).WithError(err).Error("failed to expire lobby session")
			return true
		}
		s.lastActivity.Delete(lobbyID)
		if changed {
			s.logger.WithField("lobby_id", lobbyID).Info("marked lobby session expired due to inactivity")
		}
		return true
	})
}
