package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/observability"
)

// ArchiveStore maintains one NetCDF shard per source and calendar year.
// Appending is a read-modify-write of the whole shard: days arriving for an
// already-archived date replace the stored layer, and layers always come
// out sorted by day regardless of ingestion order.
type ArchiveStore struct {
	dir     string
	retries int
	backoff time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
}

func NewArchiveStore(dir string, retries int, backoff time.Duration,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *ArchiveStore {
	return &ArchiveStore{
		dir:     dir,
		retries: retries,
		backoff: backoff,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

// Append merges the given daily grids into their year's shard. All grids
// must belong to the same year. Transient failures are retried with a fixed
// delay; after the attempt budget the year is reported failed and the shard
// keeps its previous content.
func (s *ArchiveStore) Append(ctx context.Context, grids []*domain.GeoGrid) error {
	if len(grids) == 0 {
		return nil
	}
	year := grids[0].Year()
	for _, g := range grids[1:] {
		if g.Year() != year {
			return fmt.Errorf("append spans years %d and %d", year, g.Year())
		}
	}

	start := s.clock.Now()
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		lastErr = s.appendOnce(grids, year)
		if lastErr == nil {
			s.metrics.ArchiveAppends.WithLabelValues("committed").Inc()
			s.metrics.ArchiveDuration.Observe(s.clock.Since(start).Seconds())
			return nil
		}
		s.logger.Warn("archive append failed",
			"source", grids[0].Source.Name,
			"year", year,
			"attempt", attempt,
			"max_attempts", s.retries,
			"error", lastErr,
		)
		if attempt < s.retries {
			s.metrics.ArchiveAppends.WithLabelValues("retried").Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.backoff):
			}
		}
	}
	s.metrics.ArchiveAppends.WithLabelValues("failed").Inc()
	return fmt.Errorf("append to %d shard after %d attempts: %w", year, s.retries, lastErr)
}

func (s *ArchiveStore) appendOnce(grids []*domain.GeoGrid, year int) error {
	src := grids[0].Source
	path := filepath.Join(s.dir, domain.ShardName(src, year))

	byDay := make(map[string]*domain.GeoGrid)
	var days []time.Time

	existing, err := readStack(path, src)
	switch {
	case err == nil:
		for i, d := range existing.Days {
			byDay[domain.DayKey(d)] = existing.Layer(i)
			days = append(days, d)
		}
	case errors.Is(err, os.ErrNotExist):
		// First append of the year starts a fresh shard.
	default:
		return err
	}

	for _, g := range grids {
		if existing != nil && !(sameAxes(g.Lats, existing.Lats) && sameAxes(g.Lons, existing.Lons)) {
			return fmt.Errorf("grid axes do not match %s", path)
		}
		key := domain.DayKey(g.Day)
		if _, dup := byDay[key]; !dup {
			days = append(days, domain.Midnight(g.Day))
		}
		byDay[key] = g
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	layers := make([]*domain.GeoGrid, len(days))
	for i, d := range days {
		layers[i] = byDay[domain.DayKey(d)]
	}
	return writeStack(path, stackOf(layers...))
}

// Load reads a whole yearly shard.
func (s *ArchiveStore) Load(src domain.Source, year int) (*Stack, error) {
	return readStack(filepath.Join(s.dir, domain.ShardName(src, year)), src)
}

// Years lists the years that have a shard on disk.
func (s *ArchiveStore) Years(src domain.Source) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan archive dir %s: %w", s.dir, err)
	}
	var years []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if year, ok := domain.ParseShardYear(src, e.Name()); ok {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years, nil
}

// Days lists every archived day across all of a source's shards. A shard
// that cannot be read is logged and skipped, so one corrupt year does not
// block reconciliation of the rest.
func (s *ArchiveStore) Days(src domain.Source) (domain.DateSet, error) {
	years, err := s.Years(src)
	if err != nil {
		return nil, err
	}
	days := make(domain.DateSet)
	for _, year := range years {
		path := filepath.Join(s.dir, domain.ShardName(src, year))
		shardDays, err := readDays(path, src)
		if err != nil {
			s.logger.Warn("skipping unreadable shard", "path", path, "error", err)
			continue
		}
		for _, d := range shardDays {
			days.Add(d)
		}
	}
	return days, nil
}
