package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emberside/firebot/internal/auth"
	"github.com/emberside/firebot/internal/commands"
	"github.com/emberside/firebot/internal/config"
	"github.com/emberside/firebot/internal/events"
	"github.com/emberside/firebot/internal/storage"
	"github.com/emberside/firebot/internal/supervisor"
	"github.com/emberside/firebot/internal/telemetry"
)

// runServe wires the bot together and blocks until shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg, debug)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	go func() {
		if err := telemetry.Serve(ctx, cfg.Telemetry.Addr, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	store, err := storage.Open(ctx, cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus(logger)
	authGateway := auth.NewGateway(cfg.Auth.BaseURL, cfg.Auth.Credential, logger)

	socketCfg := cfg.SocketSettings()
	rateCfg := cfg.RateLimitSettings()

	chat := supervisor.New(authGateway, nil, supervisor.Config{
		Kind:      supervisor.KindChat,
		BotUserID: cfg.Bot.UserID,
		Greeting:  cfg.Bot.Greeting,
		Socket:    socketCfg,
		RateLimit: rateCfg,
	}, bus, logger)
	chat.SetMetrics(supervisorMetrics(supervisor.KindChat))

	grid := supervisor.New(authGateway, nil, supervisor.Config{
		Kind:      supervisor.KindGrid,
		BotUserID: cfg.Bot.UserID,
		Socket:    socketCfg,
		RateLimit: rateCfg,
	}, bus, logger)
	grid.SetMetrics(supervisorMetrics(supervisor.KindGrid))

	bus.Subscribe(events.KindMessage, "metrics", func(events.Event) {
		telemetry.MessagesInbound.Inc()
	})

	registry := commands.NewRegistry(logger)
	dispatcher := commands.NewDispatcher(commands.DispatcherConfig{
		DefaultPrefix: cfg.Bot.Prefix,
		OwnerID:       cfg.Bot.OwnerID,
		Blocked:       cfg.Bot.Blocked,
	}, registry, chat, logger)
	dispatcher.SetMetrics(commands.DispatchMetrics{
		Invocations:  func(name string) { telemetry.CommandsInvoked.WithLabelValues(name).Inc() },
		Errors:       func(name string) { telemetry.CommandErrors.WithLabelValues(name).Inc() },
		CooldownHits: func(string) { telemetry.CooldownHits.Inc() },
	})

	prefixes, err := store.RoomPrefixes(ctx)
	if err != nil {
		return err
	}
	dispatcher.RestorePrefixes(prefixes)
	dispatcher.OnPrefixChange(func(roomID, prefix string) {
		if err := store.SetRoomPrefix(context.Background(), roomID, prefix); err != nil {
			logger.Warn("prefix persistence failed", "room_id", roomID, "error", err)
		}
	})

	builtins := &commands.Builtins{
		Dispatcher: dispatcher,
		Registry:   registry,
		Scores:     store,
		StartedAt:  time.Now(),
		Version:    version,
	}
	source := commands.MultiSource{builtins}
	if cfg.Commands.Dir != "" {
		source = append(source, &commands.Pack{Dir: cfg.Commands.Dir})
	}
	builtins.ReloadAll = func() error { return registry.ReloadAll(source) }
	builtins.ReloadOne = func(name string) error { return registry.ReloadOne(name, source) }

	if err := registry.ReloadAll(source); err != nil {
		return fmt.Errorf("load command set: %w", err)
	}
	dispatcher.Bind(bus)

	if cfg.Commands.Dir != "" && cfg.Commands.Watch {
		watcher := commands.NewWatcher(cfg.Commands.Dir, registry, source, logger)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch command pack: %w", err)
		}
		defer watcher.Close()
	}

	if len(cfg.Announcements) > 0 {
		scheduler := cron.New()
		for _, rule := range cfg.Announcements {
			rule := rule
			_, err := scheduler.AddFunc(rule.Schedule, func() {
				if err := chat.SendMessage(context.Background(), rule.Message, rule.RoomID); err != nil {
					logger.Warn("scheduled announcement failed", "room_id", rule.RoomID, "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("announcement schedule %q: %w", rule.Schedule, err)
			}
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("announcements scheduled", "count", len(cfg.Announcements))
	}

	if err := chat.Start(ctx); err != nil {
		return fmt.Errorf("start chat connection: %w", err)
	}
	defer chat.Stop()

	if err := grid.Start(ctx); err != nil {
		return fmt.Errorf("start grid connection: %w", err)
	}
	defer grid.Stop()

	go func() {
		select {
		case <-chat.Ready():
			logger.Info("chat side ready")
		case <-ctx.Done():
		}
	}()
	go func() {
		select {
		case <-grid.Ready():
			logger.Info("grid side ready")
		case <-ctx.Done():
		}
	}()

	logger.Info("firebot running", "version", version)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func buildLogger(cfg *config.Config, debug bool) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}

func supervisorMetrics(kind supervisor.Kind) supervisor.Metrics {
	label := string(kind)
	return supervisor.Metrics{
		MessageSent:      func() { telemetry.MessagesOutbound.Inc() },
		MessageThrottled: func() { telemetry.MessagesDropped.Inc() },
		RoomsActive:      func(n int) { telemetry.ActiveRooms.WithLabelValues(label).Set(float64(n)) },
		Reconnects:       func() { telemetry.Reconnects.WithLabelValues(label).Inc() },
		Connected:        func(up bool) { telemetry.SetConnected(label, up) },
	}
}
