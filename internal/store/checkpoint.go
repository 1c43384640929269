package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/observability"
)

// CheckpointStore records the days a run has fully committed, so an
// interrupted backfill resumes without redoing finished work.
type CheckpointStore struct {
	dir     string
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewCheckpointStore(dir string, logger *slog.Logger, metrics *observability.Metrics) *CheckpointStore {
	return &CheckpointStore{dir: dir, logger: logger, metrics: metrics}
}

type checkpointFile struct {
	Dates       []string  `json:"dates"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *CheckpointStore) path(src domain.Source) string {
	return filepath.Join(s.dir, src.Name+"_checkpoint.json")
}

// Load returns the checkpointed days for a source. A missing file is an
// empty set, not an error.
func (s *CheckpointStore) Load(src domain.Source) (domain.DateSet, error) {
	raw, err := os.ReadFile(s.path(src))
	if errors.Is(err, os.ErrNotExist) {
		return make(domain.DateSet), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpointFile
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path(src), err)
	}
	days := make(domain.DateSet, len(cp.Dates))
	for _, d := range cp.Dates {
		day, err := domain.ParseDay(d)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", s.path(src), err)
		}
		days.Add(day)
	}
	return days, nil
}

// Save replaces the checkpoint with the given day set, atomically.
func (s *CheckpointStore) Save(src domain.Source, days domain.DateSet) error {
	cp := checkpointFile{Dates: []string{}, LastUpdated: time.Now().UTC()}
	for _, d := range days.Days() {
		cp.Dates = append(cp.Dates, domain.DayKey(d))
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	path := s.path(src)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	s.metrics.CheckpointDates.Set(float64(len(days)))
	s.logger.Debug("checkpoint saved", "source", src.Name, "dates", len(days))
	return nil
}
