// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The "serve" command: runs the API, the task workers and the
// event hub.
//
// Command: serve
// Short:   Run the rigchat server
//
// Examples:
//   rigchat serve                          Use ~/.rigchat/config.toml
//   rigchat serve --config ./rigchat.toml  Use an explicit config file
//
// Flags:
//   -c, --config PATH   Config file (must exist when given)

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/imagegen"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/telemetry"
)

const (
	// taskHistory is how many finished tasks stay queryable
	taskHistory = 500

	shutdownTimeout = 15 * time.Second

	// relayWaitNotice is when a slow Redis subscription gets logged
	relayWaitNotice = 5 * time.Second
)

// HandleServe loads the configuration and runs the server until SIGINT or
// SIGTERM.
func HandleServe(args Args) error {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	log.SetGlobal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer app.Close()

	configPath := args.ConfigPath
	if configPath == "" {
		configPath, _ = config.ConfigPath()
	}
	if err := app.WatchConfig(configPath); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("config_watch_disabled")
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Listen, err)
	}
	return app.Run(ctx, ln)
}

// =============================================================================
// APP
// =============================================================================

// App is a fully wired rigchat server.
type App struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *storage.Store
	hub     *notify.Hub
	redis   *redis.Client
	metrics *telemetry.Metrics
	pacing  *chat.PacingSource
	queue   *tasks.Queue
	runner  *tasks.Runner
	server  *server.Server
	watcher *config.Watcher
}

// NewApp opens the store and wires producers, orchestrators, workers and
// the HTTP server from cfg. Metrics are registered on reg.
func NewApp(cfg *config.Config, log *logging.Logger, reg *prometheus.Registry) (*App, error) {
	telemetry.RegisterRuntime(reg)
	metrics := telemetry.NewMetrics(reg)

	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BlobDir: cfg.Storage.BlobDir})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	app := &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: metrics,
		pacing:  chat.NewPacingSource(pacingFrom(cfg.Stream)),
	}

	app.hub = notify.NewHub(cfg.Notify.Buffer)
	app.hub.OnDrop = func(key notify.ChannelKey) {
		metrics.EventDropped(topicOf(key))
	}

	// With Redis, events go through pub/sub and come back to this
	// instance's hub through the relay like they do for every other one.
	var notifier notify.Notifier = app.hub
	if cfg.Notify.RedisURL != "" {
		client, err := notify.NewRedisClient(cfg.Notify.RedisURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		app.redis = client
		notifier = notify.NewRedisNotifier(client, "", log)
	}

	opts := []chat.Option{
		chat.WithLogger(log),
		chat.WithMetrics(metrics),
		chat.WithPacing(app.pacing),
		chat.WithImageSize(cfg.Image.Width, cfg.Image.Height),
		chat.WithDefaultModel(cfg.Text.DefaultModel),
	}

	textClient := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Text.URL,
		ConnectTimeout: cfg.Text.ConnectTimeout,
		StreamTimeout:  cfg.Text.StreamTimeout,
		DefaultModel:   cfg.Text.DefaultModel,
	})
	text := chat.NewStreamOrchestrator(store, textClient, notifier, opts...)

	checks := []server.HealthCheck{{Name: "text", Check: func(ctx context.Context) error {
		return textClient.CheckModel(ctx, cfg.Text.DefaultModel)
	}}}
	if app.redis != nil {
		checks = append(checks, server.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}})
	}

	deps := server.Deps{
		Store:    store,
		Text:     text,
		Hub:      app.hub,
		Metrics:  metrics,
		Gatherer: reg,
		Log:      log,
		Checks:   checks,

		DefaultTextModel: cfg.Text.DefaultModel,
	}
	if cfg.Image.URL != "" {
		imageClient := imagegen.NewClient(imagegen.Config{
			URL:         cfg.Image.URL,
			AuthToken:   cfg.Image.AuthToken,
			Width:       cfg.Image.Width,
			Height:      cfg.Image.Height,
			Timeout:     cfg.Image.Timeout,
			ReadTimeout: cfg.Image.ReadTimeout,
		})
		deps.Image = chat.NewImageOrchestrator(store, imageClient, notifier, opts...)
	} else {
		log.Warn().Msg("image_generation_disabled")
	}

	app.queue = tasks.NewQueueWithOptions(taskHistory, cfg.Workers.QueueSize)
	app.queue.SetLogger(log)
	app.queue.SetMetrics(metrics)
	app.runner = tasks.NewRunnerWithOptions(app.queue, cfg.Workers.Count, cfg.Workers.TaskTimeout)
	deps.Queue = app.queue

	app.server = server.NewServer(server.Config{
		Addr:      cfg.Server.Listen,
		APIToken:  cfg.Server.APIToken,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}, deps)
	return app, nil
}

// WatchConfig reloads stream pacing when the config file at path changes.
// A missing file is not watched.
func (a *App) WatchConfig(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	w, err := config.NewWatcher(path, a.cfg.Stream, func(sc config.StreamConfig) {
		a.pacing.Store(pacingFrom(sc))
	}, a.log)
	if err != nil {
		return err
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	return nil
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server {
	return a.server
}

// Run serves on ln until ctx is done, then drains the workers.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	// Orchestrators publish only to Redis, so nothing may run before the
	// relay back into the hub is subscribed.
	if a.redis != nil {
		relay := notify.NewRelay(a.redis, "", a.hub, a.log)
		if err := startRelay(ctx, relay, a.log); err != nil {
			ln.Close()
			return nil
		}
	}

	a.runner.Start()
	a.log.LogServerStart(ln.Addr().String(), a.cfg.Storage.Path)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if rerr := a.runner.Shutdown(shutdownCtx); rerr != nil {
		a.log.Warn().Err(rerr).Msg("workers_shutdown_incomplete")
	}
	return err
}

// Close releases the store, the Redis client and the config watcher.
func (a *App) Close() error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	return a.store.Close()
}

// startRelay runs relay in the background and waits for its first
// subscription. It returns ctx.Err() if ctx ends first.
func startRelay(ctx context.Context, relay *notify.Relay, log *logging.Logger) error {
	go relay.Run(ctx)

	select {
	case <-relay.Ready():
		return nil
	case <-time.After(relayWaitNotice):
		log.Warn().Msg("waiting_for_redis")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-relay.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pacingFrom(sc config.StreamConfig) chat.Pacing {
	return chat.Pacing{
		FlushThreshold: sc.FlushThreshold,
		FragmentDelay:  sc.FragmentDelay,
		FlushDelay:     sc.FlushDelay,
	}
}

// topicOf returns the channel family of key ("chat", "message", "user").
func topicOf(key notify.ChannelKey) string {
	topic, _, _ := strings.Cut(string(key), ":")
	return topic
}
