// Package pipeline drives a backfill run: reconcile the requested range
// against the stores, then fetch, aggregate, reproject, and commit each
// missing day, checkpointing as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/atmogrid/raster-ingest/internal/catalog"
	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/fetch"
	"github.com/atmogrid/raster-ingest/internal/observability"
)

// GranuleCatalog finds granules for a source tag within a time window.
type GranuleCatalog interface {
	Granules(ctx context.Context, tag string, start, end time.Time) ([]catalog.Granule, error)
}

// GranuleFetcher downloads granules into staging, returning the local
// paths it obtained.
type GranuleFetcher interface {
	FetchAll(ctx context.Context, files []fetch.File) ([]string, error)
}

// Aggregator reduces one day's granule files to a sensor-grid DayGrid.
type Aggregator interface {
	Aggregate(ctx context.Context, src domain.Source, day time.Time, sensor domain.SensorParams, paths []string) (*domain.DayGrid, error)
}

// Reprojector converts a DayGrid to a clipped geographic GeoGrid.
type Reprojector interface {
	Reproject(ctx context.Context, dg *domain.DayGrid) (*domain.GeoGrid, error)
}

// RasterCommitter persists daily rasters.
type RasterCommitter interface {
	Commit(gg *domain.GeoGrid) error
}

// ArchiveAppender merges daily grids into their yearly shard.
type ArchiveAppender interface {
	Append(ctx context.Context, grids []*domain.GeoGrid) error
}

// Reconciler lists the days of a range still missing from the stores.
type Reconciler interface {
	MissingDays(src domain.Source, rng domain.DateRange) ([]time.Time, error)
}

// Checkpointer persists the set of fully committed days.
type Checkpointer interface {
	Load(src domain.Source) (domain.DateSet, error)
	Save(src domain.Source, days domain.DateSet) error
}

// Notifier publishes per-day outcomes to an external channel. Pass nil to
// disable notifications.
type Notifier interface {
	Notify(ctx context.Context, res domain.DateResult) error
}

// errNoGranules marks a day the catalog has nothing for.
var errNoGranules = errors.New("no granules in catalog window")

// Orchestrator runs the per-day ingestion cycle over a reconciled range.
// Day outcomes are collected into a RunReport rather than aborting the
// run; only context cancellation stops a backfill early.
type Orchestrator struct {
	catalog     GranuleCatalog
	fetcher     GranuleFetcher
	aggregator  Aggregator
	reprojector Reprojector
	raster      RasterCommitter
	archive     ArchiveAppender
	reconciler  Reconciler
	checkpoint  Checkpointer
	notifier    Notifier

	stagingDir      string
	bucketWidth     time.Duration
	checkpointEvery int
	retry           Retry

	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
}

// Options carries the orchestrator's tunables.
type Options struct {
	StagingDir      string
	BucketWidth     time.Duration
	CheckpointEvery int
	Retry           Retry
}

func New(cat GranuleCatalog, f GranuleFetcher, agg Aggregator, rep Reprojector,
	raster RasterCommitter, archive ArchiveAppender, rec Reconciler, cp Checkpointer,
	notifier Notifier, opts Options,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		catalog:         cat,
		fetcher:         f,
		aggregator:      agg,
		reprojector:     rep,
		raster:          raster,
		archive:         archive,
		reconciler:      rec,
		checkpoint:      cp,
		notifier:        notifier,
		stagingDir:      opts.StagingDir,
		bucketWidth:     opts.BucketWidth,
		checkpointEvery: opts.CheckpointEvery,
		retry:           opts.Retry,
		logger:          logger,
		metrics:         metrics,
		clock:           clock,
	}
}

// CheckReadiness returns nil once the run has finished at least one day.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no day has completed yet")
	}
	return nil
}

// Run ingests every missing day of the range. With resume set, days already
// checkpointed are excluded on top of the store reconciliation. The report
// is returned even when the context is cancelled partway.
func (o *Orchestrator) Run(ctx context.Context, src domain.Source, rng domain.DateRange, resume bool) (*domain.RunReport, error) {
	o.metrics.RunActive.Set(1)
	defer o.metrics.RunActive.Set(0)

	report := &domain.RunReport{Source: src.Name, Range: rng, Started: o.clock.Now()}
	defer func() {
		report.Finished = o.clock.Now()
		o.logger.Info("run finished", report.Summary()...)
	}()

	missing, err := o.reconciler.MissingDays(src, rng)
	if err != nil {
		return report, err
	}
	committed, err := o.checkpoint.Load(src)
	if err != nil {
		return report, err
	}
	if resume {
		var remaining []time.Time
		for _, day := range missing {
			if !committed.Has(day) {
				remaining = append(remaining, day)
			}
		}
		o.logger.Info("resuming run",
			"source", src.Name,
			"checkpointed", len(committed),
			"remaining", len(remaining),
		)
		missing = remaining
	}
	o.logger.Info("run started", "source", src.Name, "range", rng.String(), "days", len(missing))

	var pending []*domain.GeoGrid
	sinceCheckpoint := 0
	var runErr error

	for _, day := range missing {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		gg, res := o.processDay(ctx, src, day)
		report.Add(res)
		o.metrics.DatesProcessed.WithLabelValues(string(res.Status)).Inc()
		o.notify(ctx, res)
		if res.Status != domain.StatusSucceeded {
			continue
		}
		o.ready.Store(true)

		// Crossing a year boundary flushes the buffer so an append only
		// ever touches one shard.
		if len(pending) > 0 && gg.Year() != pending[0].Year() {
			o.flush(ctx, src, &pending, committed, report)
			sinceCheckpoint = 0
		}
		pending = append(pending, gg)
		sinceCheckpoint++

		if sinceCheckpoint >= o.checkpointEvery {
			o.flush(ctx, src, &pending, committed, report)
			sinceCheckpoint = 0
		}
	}

	o.flush(ctx, src, &pending, committed, report)
	return report, runErr
}

// processDay runs the fetch-aggregate-reproject-commit cycle for one day
// under the retry policy, translating the outcome into a DateResult.
func (o *Orchestrator) processDay(ctx context.Context, src domain.Source, day time.Time) (*domain.GeoGrid, domain.DateResult) {
	start := o.clock.Now()
	defer func() {
		o.metrics.DateDuration.Observe(o.clock.Since(start).Seconds())
	}()

	var gg *domain.GeoGrid
	err := o.retry.Do(ctx, func() error {
		g, err := o.ingestDay(ctx, src, day)
		if err != nil {
			return err
		}
		gg = g
		return nil
	})

	res := domain.DateResult{Source: src.Name, Day: day}
	switch {
	case err == nil:
		res.Status = domain.StatusSucceeded
		o.logger.Info("day ingested", "source", src.Name, "day", domain.DayKey(day))
	case errors.Is(err, errNoGranules):
		res.Status = domain.StatusSkipped
		res.Reason = err.Error()
		o.logger.Info("day skipped", "source", src.Name, "day", domain.DayKey(day), "reason", err)
	default:
		res.Status = domain.StatusFailed
		res.Reason = err.Error()
		o.logger.Error("day failed", "source", src.Name, "day", domain.DayKey(day), "error", err)
	}
	return gg, res
}

// ingestDay performs one attempt at a single day.
func (o *Orchestrator) ingestDay(ctx context.Context, src domain.Source, day time.Time) (*domain.GeoGrid, error) {
	day = domain.Midnight(day)
	sensor := domain.SensorForDay(day)

	// The window reaches one bucket back before midnight so accumulations
	// straddling the day boundary land in the first bucket.
	winStart := day.Add(-o.bucketWidth)
	winEnd := day.Add(24 * time.Hour)
	granules, err := o.catalog.Granules(ctx, src.Tag, winStart, winEnd)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	if len(granules) == 0 {
		return nil, Permanent(errNoGranules)
	}

	staging := filepath.Join(o.stagingDir, src.Name, day.Format("20060102"))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	// Staging is scratch space; reclaim it whatever happens to the day.
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			o.logger.Warn("staging cleanup failed", "dir", staging, "error", err)
		}
	}()

	files := make([]fetch.File, len(granules))
	for i, g := range granules {
		files[i] = fetch.File{URL: g.DownloadURL, Dest: filepath.Join(staging, g.Name)}
	}
	paths, err := o.fetcher.FetchAll(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("fetch granules: %w", err)
	}
	if len(paths) == 0 {
		return nil, errors.New("every granule download failed")
	}

	dg, err := o.aggregator.Aggregate(ctx, src, day, sensor, paths)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	gg, err := o.reprojector.Reproject(ctx, dg)
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}
	if err := o.raster.Commit(gg); err != nil {
		return nil, err
	}
	return gg, nil
}

// flush appends the buffered grids to their yearly shard and, on success,
// checkpoints the days they cover. An append failure is recorded against
// the year and the days stay out of the checkpoint, so a later run picks
// them up again.
func (o *Orchestrator) flush(ctx context.Context, src domain.Source, pending *[]*domain.GeoGrid,
	committed domain.DateSet, report *domain.RunReport) {
	grids := *pending
	if len(grids) == 0 {
		return
	}
	*pending = nil

	year := grids[0].Year()
	if err := o.archive.Append(ctx, grids); err != nil {
		report.AddFailedYear(year)
		o.logger.Error("archive flush failed", "source", src.Name, "year", year, "days", len(grids), "error", err)
		return
	}
	for _, g := range grids {
		committed.Add(g.Day)
	}
	if err := o.checkpoint.Save(src, committed); err != nil {
		o.logger.Error("checkpoint save failed", "source", src.Name, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, res domain.DateResult) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, res); err != nil {
		o.logger.Warn("result notification failed",
			"source", res.Source, "day", domain.DayKey(res.Day), "error", err)
	}
}
