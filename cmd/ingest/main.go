package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/atmogrid/raster-ingest/internal/adapter/http"
	kafkaadapter "github.com/atmogrid/raster-ingest/internal/adapter/kafka"
	"github.com/atmogrid/raster-ingest/internal/aggregate"
	"github.com/atmogrid/raster-ingest/internal/catalog"
	"github.com/atmogrid/raster-ingest/internal/config"
	"github.com/atmogrid/raster-ingest/internal/dataset"
	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/fetch"
	"github.com/atmogrid/raster-ingest/internal/observability"
	"github.com/atmogrid/raster-ingest/internal/pipeline"
	"github.com/atmogrid/raster-ingest/internal/reconcile"
	"github.com/atmogrid/raster-ingest/internal/reproject"
	"github.com/atmogrid/raster-ingest/internal/store"
)

func main() {
	sourceName := flag.String("source", "lightning", "observation source to ingest")
	startDay := flag.String("start", "", "first day of the range (YYYY-MM-DD)")
	endDay := flag.String("end", "", "last day of the range (YYYY-MM-DD)")
	resume := flag.Bool("resume", false, "skip days already checkpointed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	src, rng, err := parseRun(*sourceName, *startDay, *endDay)
	if err != nil {
		logger.Error("invalid run arguments", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	territory, err := reproject.LoadTerritory(cfg.Ingest.TerritoryPath)
	if err != nil {
		logger.Error("failed to load territory", "path", cfg.Ingest.TerritoryPath, "error", err)
		os.Exit(1)
	}
	reprojector, err := reproject.New(reproject.GridSpec{
		CellDeg: cfg.Ingest.GridCellDeg,
		MinLat:  cfg.Ingest.GridMinLat,
		MaxLat:  cfg.Ingest.GridMaxLat,
		MinLon:  cfg.Ingest.GridMinLon,
		MaxLon:  cfg.Ingest.GridMaxLon,
	}, territory, logger)
	if err != nil {
		logger.Error("failed to build reprojector", "error", err)
		os.Exit(1)
	}

	for _, dir := range []string{cfg.Store.RasterDir, cfg.Store.ArchiveDir, cfg.Store.CheckpointDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create store directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	catalogClient := catalog.NewClient(
		cfg.Catalog.BaseURL, cfg.Catalog.Provider, cfg.Catalog.PageSize, cfg.Catalog.Timeout,
	).WithLogger(logger)
	fetcher := fetch.New(cfg.Download.Username, cfg.Download.Password,
		cfg.Download.Concurrency, cfg.Download.Timeout, logger, metrics, clock)
	aggregator := aggregate.New(cfg.Ingest.BucketWidth, logger, metrics)

	rasterStore := store.NewRasterStore(cfg.Store.RasterDir, logger)
	archiveStore := store.NewArchiveStore(cfg.Store.ArchiveDir,
		cfg.Store.ArchiveRetries, cfg.Store.ArchiveBackoff, logger, metrics, clock)
	checkpointStore := store.NewCheckpointStore(cfg.Store.CheckpointDir, logger, metrics)
	reconciler := reconcile.New(rasterStore, archiveStore, logger)

	// Notifications are feature-flagged; the orchestrator treats nil as off.
	var notifier pipeline.Notifier
	if cfg.Kafka.Enabled {
		kn := kafkaadapter.NewNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := kn.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		notifier = kn
		logger.Info("kafka notifications enabled", "topic", cfg.Kafka.Topic)
	} else {
		logger.Info("kafka notifications disabled")
	}

	orch := pipeline.New(catalogClient, fetcher, aggregator, reprojector,
		rasterStore, archiveStore, reconciler, checkpointStore, notifier,
		pipeline.Options{
			StagingDir:      cfg.Download.StagingDir,
			BucketWidth:     cfg.Ingest.BucketWidth,
			CheckpointEvery: cfg.Ingest.CheckpointEvery,
			Retry: pipeline.Retry{
				MaxAttempts: cfg.Ingest.DateAttempts,
				Delay:       cfg.Ingest.DateRetryDelay,
				Clock:       clock,
			},
		}, logger, metrics, clock)

	registry := dataset.NewRegistry(archiveStore, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, orch, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	report, runErr := orch.Run(ctx, src, rng, *resume)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("run error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if report.Count(domain.StatusFailed) > 0 || len(report.FailedYears) > 0 || runErr != nil {
		os.Exit(1)
	}
}

func parseRun(sourceName, start, end string) (domain.Source, domain.DateRange, error) {
	src, err := domain.SourceByName(sourceName)
	if err != nil {
		return domain.Source{}, domain.DateRange{}, err
	}
	if start == "" || end == "" {
		return domain.Source{}, domain.DateRange{}, fmt.Errorf("-start and -end are required")
	}
	s, err := domain.ParseDay(start)
	if err != nil {
		return domain.Source{}, domain.DateRange{}, err
	}
	e, err := domain.ParseDay(end)
	if err != nil {
		return domain.Source{}, domain.DateRange{}, err
	}
	rng, err := domain.NewDateRange(s, e)
	if err != nil {
		return domain.Source{}, domain.DateRange{}, err
	}
	return src, rng, nil
}
