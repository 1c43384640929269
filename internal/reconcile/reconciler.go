// Package reconcile works out which days of a requested range still need
// ingesting, by comparing the range against what the raster and archive
// stores already hold.
package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

// DayLister reports the days a store holds for a source.
type DayLister interface {
	Days(src domain.Source) (domain.DateSet, error)
}

// Result is one run's gap analysis. A day present in both stores appears
// in neither set; a day that reached only one store is reprocessed, since
// the two sinks commit independently.
type Result struct {
	MissingFromRaster  domain.DateSet
	MissingFromArchive domain.DateSet
}

// MissingToDownload returns the union of the two gap sets in ascending
// order, the work list for the run.
func (r Result) MissingToDownload() []time.Time {
	return r.MissingFromRaster.Union(r.MissingFromArchive).Days()
}

// Reconciler computes the missing-day sets for a run. It is a read-only
// metadata scan; store listing errors propagate unretried.
type Reconciler struct {
	raster  DayLister
	archive DayLister
	logger  *slog.Logger
}

func New(raster, archive DayLister, logger *slog.Logger) *Reconciler {
	return &Reconciler{raster: raster, archive: archive, logger: logger}
}

// Reconcile compares the range against both stores.
func (r *Reconciler) Reconcile(src domain.Source, rng domain.DateRange) (Result, error) {
	rasterDays, err := r.raster.Days(src)
	if err != nil {
		return Result{}, fmt.Errorf("list raster days: %w", err)
	}
	archiveDays, err := r.archive.Days(src)
	if err != nil {
		return Result{}, fmt.Errorf("list archive days: %w", err)
	}

	res := Result{
		MissingFromRaster:  make(domain.DateSet),
		MissingFromArchive: make(domain.DateSet),
	}
	for _, day := range rng.Days() {
		if !rasterDays.Has(day) {
			res.MissingFromRaster.Add(day)
		}
		if !archiveDays.Has(day) {
			res.MissingFromArchive.Add(day)
		}
	}
	r.logger.Info("range reconciled",
		"source", src.Name,
		"range", rng.String(),
		"wanted", len(rng.Days()),
		"missing_raster", len(res.MissingFromRaster),
		"missing_archive", len(res.MissingFromArchive),
	)
	return res, nil
}

// MissingDays returns the days of the range absent from either store, in
// ascending order.
func (r *Reconciler) MissingDays(src domain.Source, rng domain.DateRange) ([]time.Time, error) {
	res, err := r.Reconcile(src, rng)
	if err != nil {
		return nil, err
	}
	return res.MissingToDownload(), nil
}
