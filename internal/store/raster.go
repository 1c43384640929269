package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

// RasterStore keeps one NetCDF file per source and day, the product served
// to downstream dataset consumers.
type RasterStore struct {
	dir    string
	logger *slog.Logger
}

func NewRasterStore(dir string, logger *slog.Logger) *RasterStore {
	return &RasterStore{dir: dir, logger: logger}
}

// Commit writes the daily raster for the grid's day, replacing any previous
// version atomically.
func (s *RasterStore) Commit(gg *domain.GeoGrid) error {
	path := filepath.Join(s.dir, domain.ArtifactName(gg.Source, gg.Day))
	if err := writeStack(path, stackOf(gg)); err != nil {
		return fmt.Errorf("commit daily raster: %w", err)
	}
	s.logger.Debug("daily raster committed", "source", gg.Source.Name, "day", domain.DayKey(gg.Day))
	return nil
}

// Load reads one day's raster back.
func (s *RasterStore) Load(src domain.Source, day time.Time) (*domain.GeoGrid, error) {
	path := filepath.Join(s.dir, domain.ArtifactName(src, day))
	stack, err := readStack(path, src)
	if err != nil {
		return nil, fmt.Errorf("load daily raster: %w", err)
	}
	if len(stack.Days) != 1 {
		return nil, fmt.Errorf("load daily raster: %s holds %d days", path, len(stack.Days))
	}
	return stack.Layer(0), nil
}

// Days lists the days that have a committed raster, read from filenames
// alone so a scan stays cheap on large directories.
func (s *RasterStore) Days(src domain.Source) (domain.DateSet, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan raster dir %s: %w", s.dir, err)
	}
	days := make(domain.DateSet)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if day, ok := domain.ParseArtifactDay(src, e.Name()); ok {
			days.Add(day)
		}
	}
	return days, nil
}
