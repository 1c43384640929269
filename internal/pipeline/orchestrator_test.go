package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmogrid/raster-ingest/internal/catalog"
	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/fetch"
	"github.com/atmogrid/raster-ingest/internal/observability"
	"github.com/atmogrid/raster-ingest/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockCatalog struct {
	mu      sync.Mutex
	calls   map[string]int
	empty   domain.DateSet
	failFor map[string]int // day key -> remaining failures
}

func (m *mockCatalog) Granules(_ context.Context, _ string, start, _ time.Time) ([]catalog.Granule, error) {
	// The window starts one bucket before midnight; recover the day.
	day := domain.Midnight(start.Add(time.Hour))
	key := domain.DayKey(day)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[key]++
	if m.failFor[key] > 0 {
		m.failFor[key]--
		return nil, errors.New("catalog unavailable")
	}
	if m.empty.Has(day) {
		return nil, nil
	}
	return []catalog.Granule{{
		ID:          key,
		Name:        "OR_GLM_" + key + ".nc",
		DownloadURL: "https://archive.example.com/" + key,
	}}, nil
}

type mockFetcher struct{}

func (mockFetcher) FetchAll(_ context.Context, files []fetch.File) ([]string, error) {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Dest
	}
	return paths, nil
}

type mockAggregator struct{}

func (mockAggregator) Aggregate(_ context.Context, src domain.Source, day time.Time, _ domain.SensorParams, paths []string) (*domain.DayGrid, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths")
	}
	return &domain.DayGrid{Source: src, Day: day}, nil
}

type mockReprojector struct{}

func (mockReprojector) Reproject(_ context.Context, dg *domain.DayGrid) (*domain.GeoGrid, error) {
	return &domain.GeoGrid{Source: dg.Source, Day: dg.Day}, nil
}

type mockRaster struct {
	mu        sync.Mutex
	committed []time.Time
}

func (m *mockRaster) Commit(gg *domain.GeoGrid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, gg.Day)
	return nil
}

type mockArchive struct {
	mu      sync.Mutex
	batches [][]time.Time
	err     error
}

func (m *mockArchive) Append(_ context.Context, grids []*domain.GeoGrid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	var days []time.Time
	for _, g := range grids {
		days = append(days, g.Day)
	}
	m.batches = append(m.batches, days)
	return nil
}

type mockReconciler struct{ days []time.Time }

func (m *mockReconciler) MissingDays(domain.Source, domain.DateRange) ([]time.Time, error) {
	return m.days, nil
}

type mockCheckpoint struct {
	mu    sync.Mutex
	saved domain.DateSet
}

func (m *mockCheckpoint) Load(domain.Source) (domain.DateSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(domain.DateSet)
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *mockCheckpoint) Save(_ domain.Source, days domain.DateSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(domain.DateSet)
	for k, v := range days {
		m.saved[k] = v
	}
	return nil
}

type harness struct {
	catalog    *mockCatalog
	raster     *mockRaster
	archive    *mockArchive
	checkpoint *mockCheckpoint
	orch       *pipeline.Orchestrator
}

func newHarness(t *testing.T, missing []time.Time, opts pipeline.Options) *harness {
	t.Helper()
	h := &harness{
		catalog:    &mockCatalog{},
		raster:     &mockRaster{},
		archive:    &mockArchive{},
		checkpoint: &mockCheckpoint{saved: make(domain.DateSet)},
	}
	if opts.StagingDir == "" {
		opts.StagingDir = t.TempDir()
	}
	if opts.BucketWidth == 0 {
		opts.BucketWidth = 30 * time.Minute
	}
	if opts.CheckpointEvery == 0 {
		opts.CheckpointEvery = 10
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = pipeline.Retry{MaxAttempts: 1, Delay: time.Millisecond, Clock: clockwork.NewRealClock()}
	}
	h.orch = pipeline.New(
		h.catalog, mockFetcher{}, mockAggregator{}, mockReprojector{},
		h.raster, h.archive, &mockReconciler{days: missing}, h.checkpoint, nil,
		opts, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewRealClock())
	return h
}

func days(ds ...time.Time) []time.Time { return ds }

func TestOrchestrator_RunHappyPath(t *testing.T) {
	jan := func(d int) time.Time { return domain.Day(2024, time.January, d) }
	h := newHarness(t, days(jan(1), jan(2), jan(3)), pipeline.Options{CheckpointEvery: 2})
	rng, _ := domain.NewDateRange(jan(1), jan(3))

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Count(domain.StatusSucceeded))
	assert.Empty(t, report.FailedYears)
	assert.Len(t, h.raster.committed, 3)

	// Checkpoint cadence of 2 gives one mid-run flush plus the final one.
	require.Len(t, h.archive.batches, 2)
	assert.Len(t, h.archive.batches[0], 2)
	assert.Len(t, h.archive.batches[1], 1)

	assert.Len(t, h.checkpoint.saved, 3)
	assert.True(t, h.checkpoint.saved.Has(jan(3)))
	assert.NoError(t, h.orch.CheckReadiness(context.Background()))
}

func TestOrchestrator_SkipsDaysWithoutGranules(t *testing.T) {
	jan := func(d int) time.Time { return domain.Day(2024, time.January, d) }
	h := newHarness(t, days(jan(1), jan(2)), pipeline.Options{
		Retry: pipeline.Retry{MaxAttempts: 3, Delay: time.Millisecond, Clock: clockwork.NewRealClock()},
	})
	h.catalog.empty = domain.NewDateSet(jan(1))
	rng, _ := domain.NewDateRange(jan(1), jan(2))

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(domain.StatusSkipped))
	assert.Equal(t, 1, report.Count(domain.StatusSucceeded))
	assert.Equal(t, 1, h.catalog.calls[domain.DayKey(jan(1))], "an empty catalog day is not retried")
	assert.Len(t, h.raster.committed, 1)
}

func TestOrchestrator_RetriesTransientFailure(t *testing.T) {
	day := domain.Day(2024, time.January, 1)
	h := newHarness(t, days(day), pipeline.Options{
		Retry: pipeline.Retry{MaxAttempts: 3, Delay: time.Millisecond, Clock: clockwork.NewRealClock()},
	})
	h.catalog.failFor = map[string]int{domain.DayKey(day): 2}
	rng, _ := domain.NewDateRange(day, day)

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(domain.StatusSucceeded))
	assert.Equal(t, 3, h.catalog.calls[domain.DayKey(day)])
}

func TestOrchestrator_FailedDayDoesNotAbortRun(t *testing.T) {
	jan := func(d int) time.Time { return domain.Day(2024, time.January, d) }
	h := newHarness(t, days(jan(1), jan(2)), pipeline.Options{})
	h.catalog.failFor = map[string]int{domain.DayKey(jan(1)): 99}
	rng, _ := domain.NewDateRange(jan(1), jan(2))

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(domain.StatusFailed))
	assert.Equal(t, 1, report.Count(domain.StatusSucceeded))
	assert.False(t, h.checkpoint.saved.Has(jan(1)))
	assert.True(t, h.checkpoint.saved.Has(jan(2)))
}

func TestOrchestrator_YearBoundaryFlushesSeparately(t *testing.T) {
	dec31 := domain.Day(2023, time.December, 31)
	jan1 := domain.Day(2024, time.January, 1)
	h := newHarness(t, days(dec31, jan1), pipeline.Options{CheckpointEvery: 10})
	rng, _ := domain.NewDateRange(dec31, jan1)

	_, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	require.Len(t, h.archive.batches, 2, "one append per shard year")
	assert.True(t, h.archive.batches[0][0].Equal(dec31))
	assert.True(t, h.archive.batches[1][0].Equal(jan1))
}

func TestOrchestrator_ArchiveFailureKeepsDaysOutOfCheckpoint(t *testing.T) {
	day := domain.Day(2024, time.June, 1)
	h := newHarness(t, days(day), pipeline.Options{})
	h.archive.err = errors.New("shard locked")
	rng, _ := domain.NewDateRange(day, day)

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, false)
	require.NoError(t, err)

	assert.Equal(t, []int{2024}, report.FailedYears)
	assert.Equal(t, 1, report.Count(domain.StatusSucceeded), "the daily raster still committed")
	assert.Empty(t, h.checkpoint.saved)
}

func TestOrchestrator_ResumeSkipsCheckpointedDays(t *testing.T) {
	jan := func(d int) time.Time { return domain.Day(2024, time.January, d) }
	h := newHarness(t, days(jan(1), jan(2)), pipeline.Options{})
	h.checkpoint.saved = domain.NewDateSet(jan(1))
	rng, _ := domain.NewDateRange(jan(1), jan(2))

	report, err := h.orch.Run(context.Background(), domain.Lightning, rng, true)
	require.NoError(t, err)

	assert.Len(t, report.Results, 1)
	assert.Zero(t, h.catalog.calls[domain.DayKey(jan(1))])
	assert.Equal(t, 1, h.catalog.calls[domain.DayKey(jan(2))])
}

func TestOrchestrator_CancelledContextStopsEarly(t *testing.T) {
	jan := func(d int) time.Time { return domain.Day(2024, time.January, d) }
	h := newHarness(t, days(jan(1), jan(2)), pipeline.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rng, _ := domain.NewDateRange(jan(1), jan(2))

	report, err := h.orch.Run(ctx, domain.Lightning, rng, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	r := pipeline.Retry{MaxAttempts: 5, Delay: time.Millisecond, Clock: clockwork.NewRealClock()}
	calls := 0
	boom := errors.New("bad request")

	err := r.Do(context.Background(), func() error {
		calls++
		return pipeline.Permanent(boom)
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	r := pipeline.Retry{MaxAttempts: 3, Delay: time.Millisecond, Clock: clockwork.NewRealClock()}
	calls := 0

	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("flaky")
	})

	assert.ErrorContains(t, err, "flaky")
	assert.Equal(t, 3, calls)
}
