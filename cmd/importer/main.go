package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/nursery-importer/internal/api"
	"github.com/maltedev/nursery-importer/internal/app"
	"github.com/maltedev/nursery-importer/internal/config"
	"github.com/maltedev/nursery-importer/internal/database"
	"github.com/maltedev/nursery-importer/internal/events"
	"github.com/maltedev/nursery-importer/internal/importer"
	"github.com/maltedev/nursery-importer/internal/ratelimit"
	"github.com/maltedev/nursery-importer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	outbox := database.NewOutboxRepository(db)
	publisher := events.NewPublisher(outbox, log)

	var stops importer.StopSignal = importer.NewMemoryStopSignal()
	var outboxStatus api.OutboxStatus
	if redisClient != nil {
		defer redisClient.Close()

		stops = importer.NewRedisStopSignal(redisClient, cfg.Importer.StopSignalTTL)
		outboxStatus = outbox

		relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
			PollInterval: cfg.Importer.RelayInterval,
			BatchSize:    cfg.Importer.RelayBatchSize,
			StreamMaxLen: cfg.Importer.RelayStreamMaxLen,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	} else {
		log.Warn("redis disabled, product events stay in the outbox")
	}

	gate := ratelimit.NewGate(cfg.Scraper.RequestInterval)

	imp := importer.New(app.ImporterConfig(cfg.Importer), importer.Deps{
		Catalog:    db,
		Jobs:       db,
		API:        app.APIClient(cfg.API, log),
		NewScraper: app.ScraperFactory(cfg, gate, log),
		Images:     app.Downloader(cfg.Media, gate, log),
		Publisher:  publisher,
		Stops:      stops,
	}, log)

	go imp.StartWorker(ctx)

	handlers := api.NewHandlers(imp, outboxStatus, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
