// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/auth"
	"github.com/Discord-InterChat/InterChat-sub001/internal/cache"
	"github.com/Discord-InterChat/InterChat-sub001/internal/chatlobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/handlers"
	"github.com/Discord-InterChat/InterChat-sub001/internal/lobby"
	"github.com/Discord-InterChat/InterChat-sub001/internal/notify"
	"github.com/bwmarrin/discordgo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ephemeral, err := auth.InitFromEnv()
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	if ephemeral {
		// no shared key pair, so nothing outside this process can mint tokens
		operator := config.GetEnv("OPS_BOOTSTRAP_OPERATOR", "bootstrap")
		token, err := auth.CreateOperatorToken(operator)
		if err != nil {
			logger.Fatalf("auth: %v", err)
		}
		logger.WithFields(logrus.Fields{
			"operator": operator,
			"token":    token,
		}).Warn("AUTH_*_KEY_PATH not set, using a per-process key; set them (see cmd/token keygen) when running more than one server")
	}

	cfg := config.Load()
	rdb, err := cache.ConnectRedis(cfg)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	hub := handlers.NewEventHub()
	notifiers := []chatlobby.LobbyNotifier{
		hub,
		notify.NewQueueNotifier(rdb, cfg.EventsQueue, logger),
	}
	if cfg.DiscordToken != "" {
		session, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			logger.Fatalf("discord: %v", err)
		}
		discord := notify.NewDiscordNotifier(session, cfg.DiscordSendRate, logger)
		g.Go(func() error { return discord.Run(ctx) })
		notifiers = append(notifiers, discord)
	} else {
		logger.Warn("DISCORD_BOT_TOKEN not set, channel notifications disabled")
	}

	svc := chatlobby.New(cfg,
		lobby.NewLobbyManager(rdb, cfg.KeyPrefix, cfg.UpdateRetries),
		chatlobby.NewPriorityPool(rdb, cfg.KeyPrefix, cfg.WaitHistorySize),
		notify.NewMulti(notifiers...),
		logger,
	)
	if err := svc.Start(ctx); err != nil {
		logger.Fatalf("chat lobby service: %v", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(logger, svc, hub),
		// event-feed connections end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("server exited: %v", err)
	}
	logger.Info("Server shutdown complete.")
}
