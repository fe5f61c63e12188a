package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/nursery-importer/internal/app"
	"github.com/maltedev/nursery-importer/internal/config"
	"github.com/maltedev/nursery-importer/internal/database"
	"github.com/maltedev/nursery-importer/internal/events"
	"github.com/maltedev/nursery-importer/internal/importer"
	"github.com/maltedev/nursery-importer/internal/media"
	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/maltedev/nursery-importer/internal/ratelimit"
	"github.com/maltedev/nursery-importer/internal/storage"
	"github.com/maltedev/nursery-importer/pkg/logger"
)

// store is what every mode of this tool needs from persistence.
type store interface {
	importer.CatalogStore
	importer.JobStore
	media.ImageStore
	NormalizeCategoryRoots(ctx context.Context) (int, error)
}

func main() {
	var (
		mode           = flag.String("mode", "import", "Mode: import, images, normalize-categories or stop")
		category       = flag.String("category", "", "Only import this wholesaler category")
		maxProducts    = flag.Int("max", 0, "Stop after this many products were created or updated (0 = no cap)")
		maxPages       = flag.Int("pages", 0, "Maximum listing pages (0 = configured default)")
		useAPI         = flag.Bool("use-api", false, "Try the wholesaler API before scraping")
		downloadImages = flag.Bool("download-images", false, "Download product images during import")
		storeKind      = flag.String("store", "postgres", "Store: postgres or file")
		storeFile      = flag.String("file", "catalog.json", "Catalog file for -store file")
		limit          = flag.Int("limit", 0, "Maximum products for -mode images (0 = all)")
		jobID          = flag.String("job", "", "Job to stop for -mode stop")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting nursery import", "mode", *mode, "store", *storeKind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	st, publisher, closeStore, err := openStore(ctx, cfg, *storeKind, *storeFile, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	gate := ratelimit.NewGate(cfg.Scraper.RequestInterval)

	switch *mode {
	case "import":
		opts := models.JobOptions{
			UseAPI:         *useAPI,
			CategoryFilter: *category,
			MaxProducts:    *maxProducts,
			MaxPages:       *maxPages,
			DownloadImages: *downloadImages,
		}
		err = runImport(ctx, cfg, st, publisher, gate, opts, log)

	case "images":
		err = runImages(ctx, cfg, st, gate, *limit, log)

	case "normalize-categories":
		var changed int
		changed, err = st.NormalizeCategoryRoots(ctx)
		if err == nil {
			log.Info("category roots normalized", "products_changed", changed)
		}

	case "stop":
		err = runStop(ctx, cfg, st, *jobID, log)

	default:
		fmt.Printf("Unknown mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error("command failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, kind, file string, log *slog.Logger) (store, importer.EventPublisher, func(), error) {
	switch kind {
	case "file":
		fs, err := storage.NewFileStore(file)
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, nil, func() {}, nil
	case "postgres":
		db, err := app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		publisher := events.NewPublisher(database.NewOutboxRepository(db), log)
		return db, publisher, db.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

func runImport(ctx context.Context, cfg *config.Config, st store, publisher importer.EventPublisher, gate *ratelimit.Gate, opts models.JobOptions, log *slog.Logger) error {
	deps := importer.Deps{
		Catalog:    st,
		Jobs:       st,
		API:        app.APIClient(cfg.API, log),
		NewScraper: app.ScraperFactory(cfg, gate, log),
		Images:     app.Downloader(cfg.Media, gate, log),
		Publisher:  publisher,
	}

	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		deps.Stops = importer.NewRedisStopSignal(redisClient, cfg.Importer.StopSignalTTL)
	}

	imp := importer.New(app.ImporterConfig(cfg.Importer), deps, log)

	jobID, err := imp.StartImportJob(ctx, opts)
	if err != nil {
		return err
	}
	result, err := imp.ExecuteImport(ctx, jobID, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s finished via %s: %d created, %d updated, %d errors",
		jobID, result.Source, result.Created, result.Updated, len(result.Errors))
	if result.Stopped {
		fmt.Print(" (stopped)")
	}
	fmt.Println()
	return nil
}

func runImages(ctx context.Context, cfg *config.Config, st store, gate *ratelimit.Gate, limit int, log *slog.Logger) error {
	uploader, err := app.Uploader(ctx, cfg.Media)
	if err != nil {
		return err
	}

	backfill := media.NewBackfill(st, app.Downloader(cfg.Media, gate, log), uploader, cfg.Media.MigratedPrefixes, log)
	stats, err := backfill.Run(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Images: %d products checked, %d updated, %d downloaded, %d failed\n",
		stats.Products, stats.Updated, stats.ImagesDownloaded, stats.ImagesFailed)
	return nil
}

// runStop signals a job running in another process. Redis must be enabled.
func runStop(ctx context.Context, cfg *config.Config, st store, jobID string, log *slog.Logger) error {
	if jobID == "" {
		return fmt.Errorf("-job is required for -mode stop")
	}
	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient == nil {
		return fmt.Errorf("stopping a job in another process needs REDIS_ENABLED=true")
	}
	defer redisClient.Close()

	imp := importer.New(app.ImporterConfig(cfg.Importer), importer.Deps{
		Catalog: st,
		Jobs:    st,
		Stops:   importer.NewRedisStopSignal(redisClient, cfg.Importer.StopSignalTTL),
	}, log)
	return imp.StopImport(ctx, jobID)
}
