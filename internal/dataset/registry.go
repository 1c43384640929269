// Package dataset serves read access to the archived time series. A
// registry hands out process-scoped handles, one per source, so query
// paths never re-open shard files per request.
package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/store"
)

// ArchiveReader loads yearly shards for a source.
type ArchiveReader interface {
	Years(src domain.Source) ([]int, error)
	Load(src domain.Source, year int) (*store.Stack, error)
}

// Observation is one day's value at a query location.
type Observation struct {
	Day   time.Time `json:"day"`
	Value float64   `json:"value"`
}

// Registry caches one open Handle per source. Handles are snapshots;
// Reload picks up shards appended since the handle was opened.
type Registry struct {
	archive ArchiveReader
	logger  *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry(archive ArchiveReader, logger *slog.Logger) *Registry {
	return &Registry{
		archive: archive,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Handle returns the cached handle for a source, opening it on first use.
func (r *Registry) Handle(src domain.Source) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[src.Name]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}
	return r.Reload(src)
}

// Reload re-reads every shard of the source and replaces the cached handle.
func (r *Registry) Reload(src domain.Source) (*Handle, error) {
	years, err := r.archive.Years(src)
	if err != nil {
		return nil, fmt.Errorf("list archive years: %w", err)
	}
	var stacks []*store.Stack
	for _, year := range years {
		s, err := r.archive.Load(src, year)
		if err != nil {
			return nil, fmt.Errorf("open %d shard: %w", year, err)
		}
		stacks = append(stacks, s)
	}
	h := &Handle{src: src, stacks: stacks}
	r.mu.Lock()
	r.handles[src.Name] = h
	r.mu.Unlock()
	r.logger.Info("dataset handle opened", "source", src.Name, "years", len(stacks), "days", h.dayCount())
	return h, nil
}

// Handle is an immutable in-memory view of one source's full archive.
type Handle struct {
	src    domain.Source
	stacks []*store.Stack // ascending by year
}

func (h *Handle) dayCount() int {
	n := 0
	for _, s := range h.stacks {
		n += len(s.Days)
	}
	return n
}

// PointSeries returns the full daily series at the grid cell containing
// the given coordinate. Archived no-data cells come back as NaN values.
func (h *Handle) PointSeries(lat, lon float64) ([]Observation, error) {
	var series []Observation
	for _, s := range h.stacks {
		i, j, err := cellAt(s, lat, lon)
		if err != nil {
			return nil, err
		}
		for d := range s.Days {
			series = append(series, Observation{
				Day:   s.Days[d],
				Value: s.Values.Get(d, i, j),
			})
		}
	}
	if series == nil {
		return nil, fmt.Errorf("no archived data for source %s", h.src.Name)
	}
	return series, nil
}

// AreaMean returns the per-day mean over every valid cell inside the
// bounding box. A day with no valid cell in the box yields NaN.
func (h *Handle) AreaMean(minLat, maxLat, minLon, maxLon float64) ([]Observation, error) {
	var series []Observation
	for _, s := range h.stacks {
		var rows, cols []int
		for i, lat := range s.Lats {
			if lat >= minLat && lat <= maxLat {
				rows = append(rows, i)
			}
		}
		for j, lon := range s.Lons {
			if lon >= minLon && lon <= maxLon {
				cols = append(cols, j)
			}
		}
		if len(rows) == 0 || len(cols) == 0 {
			return nil, fmt.Errorf("box [%g,%g]x[%g,%g] is outside the grid", minLat, maxLat, minLon, maxLon)
		}
		for d := range s.Days {
			sum, n := 0.0, 0
			for _, i := range rows {
				for _, j := range cols {
					v := s.Values.Get(d, i, j)
					if domain.IsNoData(v) {
						continue
					}
					sum += v
					n++
				}
			}
			mean := math.NaN()
			if n > 0 {
				mean = sum / float64(n)
			}
			series = append(series, Observation{Day: s.Days[d], Value: mean})
		}
	}
	if series == nil {
		return nil, fmt.Errorf("no archived data for source %s", h.src.Name)
	}
	return series, nil
}

// cellAt locates the grid cell whose center is nearest the coordinate,
// rejecting points outside the grid extent by more than half a cell.
func cellAt(s *store.Stack, lat, lon float64) (int, int, error) {
	i, di := nearest(s.Lats, lat)
	j, dj := nearest(s.Lons, lon)
	if di > halfSpacing(s.Lats) || dj > halfSpacing(s.Lons) {
		return 0, 0, fmt.Errorf("point %g,%g is outside the grid", lat, lon)
	}
	return i, j, nil
}

func halfSpacing(axis []float64) float64 {
	if len(axis) < 2 {
		return math.Inf(1)
	}
	return math.Abs(axis[1]-axis[0]) / 2
}

func nearest(axis []float64, v float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for i, a := range axis {
		if d := math.Abs(a - v); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
