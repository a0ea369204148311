package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/config"
	"grok2api-go/internal/constants"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/events"
	"grok2api-go/internal/handlers/management"
	"grok2api-go/internal/imagine"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"
	tracing "grok2api-go/internal/monitoring/tracing"
	"grok2api-go/internal/rotation"
	"grok2api-go/internal/runtime"
	srv "grok2api-go/internal/server"
	"grok2api-go/internal/upstream"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (config.yaml)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cm, err := config.NewConfigManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	defer cm.Close()
	cfg := cm.Get()
	if *debug {
		cfg.Logging.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}
	log.WithField("version", constants.GetFullVersion()).Infof("Starting grok2api-go (config: %s)", cm.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventHub := events.NewHub()
	cm.SetEventPublisher(eventHub)
	if cfg.Logging.Debug {
		eventHub.Subscribe(events.TopicConfigUpdated, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debug("config event")
		})
		eventHub.Subscribe(events.TopicTokensChanged, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Tracef("token change: %v", evt.Payload)
		})
	}

	backend, err := openStorage(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("storage unavailable")
	}
	defer func() { _ = backend.Close() }()
	slowOps := monitoring.NewSlowQueryLogger(0, 0)
	backend = instrumentStorage(backend, slowOps)

	client := upstream.NewFromConfig(cfg)
	tokens := credential.NewManager(backend, client, credentialOptions(cfg))
	tokens.SetEventPublisher(eventHub)
	if err := tokens.Load(ctx); err != nil {
		log.WithError(err).Warn("load tokens failed; starting with empty pools")
	}

	rot := rotation.NewStore(backend)
	images := imagine.NewService(tokens, rot, client, imagineOptions(cfg))

	registry := batch.NewRegistry()
	registry.SetEventPublisher(eventHub)
	defer registry.Close()

	tasks := runtime.NewTaskManager(ctx)
	startBackgroundTasks(tasks, cm, tokens, registry, backend)

	cm.OnChange(func(next *config.Config) {
		if *debug {
			next.Logging.Debug = true
		}
		applyConfigChange(next, client, images)
	})

	engine := srv.BuildEngine(srv.Dependencies{
		Config:      cm,
		Storage:     backend,
		Tokens:      tokens,
		Rotation:    rot,
		Registry:    registry,
		Upstream:    client,
		Images:      images,
		Limiter:     management.NewBatchLimiter(management.BatchLimitConfigFrom(cfg)),
		Tasks:       tasks,
		SlowOps:     slowOps,
		BaseContext: ctx,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		log.Infof("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	cancel()
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("background tasks did not stop in time")
	}
	tokens.Save(context.Background())
	log.Info("Server stopped")
}
