// Package chatlobby implements the anonymous chat-lobby matchmaking engine: channels ask to be
// connected, are matched straight into an active lobby when a good one exists, and otherwise
// wait in one of three priority pools until the background matcher pairs them. Lobby state is
// kept in Redis so several bot processes can share it.
package chatlobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/lobby"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyConnected = errors.New("channel is already connected to a lobby")
	ErrAlreadyQueued    = errors.New("channel is already waiting for a match")
	ErrNotConnected     = errors.New("channel is not connected to a lobby or queued")
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrAlreadyStarted   = errors.New("chat lobby service already started")
)

// Service is the matchmaking engine. It is safe for concurrent use within a process; across
// processes it relies on the optimistic writes of LobbyManager and PriorityPool.
type Service struct {
	cfg      config.Config
	lobbies  *lobby.LobbyManager
	pool     *PriorityPool
	notifier LobbyNotifier
	logger   *logrus.Logger
	now      func() time.Time

	// processing guards against overlapping pool passes inside this process only.
	processing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now as the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New wires a Service. A nil notifier discards notifications and a nil logger falls back to the
// logrus standard logger.
func New(cfg config.Config, lobbies *lobby.LobbyManager, pool *PriorityPool, notifier LobbyNotifier, logger *logrus.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		cfg:      cfg,
		lobbies:  lobbies,
		pool:     pool,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the recurring pool matcher and idle reaper. They run until ctx is cancelled
// or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runEvery(ctx, "pool_matching", s.cfg.QueueCheckInterval, s.ProcessMatchingPool)
	go s.runEvery(ctx, "idle_check", s.cfg.ActivityCheckInterval, s.CheckIdleLobbies)

	s.logger.WithFields(logrus.Fields{
		"queue_interval":    s.cfg.QueueCheckInterval,
		"activity_interval": s.cfg.ActivityCheckInterval,
	}).Info("chat lobby service started")
	return nil
}

// Stop cancels the background tasks and waits for any in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("chat lobby service stopped")
}

func (s *Service) runEvery(ctx context.Context, task string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx, task, fn)
		}
	}
}

// runTick runs one pass of a background task. A failing or panicking pass is logged and the
// next tick proceeds normally.
func (s *Service) runTick(ctx context.Context, task string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("task", task).Errorf("background task panicked: %v", r)
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.WithField("task", task).WithError(err).Error("background task failed")
	}
}
