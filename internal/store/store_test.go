package store_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/observability"
	"github.com/atmogrid/raster-ingest/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeGeo builds a 2x2 grid whose values are exactly representable in
// float32, so round trips through the on-disk encoding compare equal.
func makeGeo(day time.Time, values [2][2]float64) *domain.GeoGrid {
	gg := &domain.GeoGrid{
		Source: domain.Lightning,
		Day:    day,
		Lats:   []float64{1.5, 0.5},
		Lons:   []float64{0.5, 1.5},
	}
	gg.Values = denseOf(values)
	gg.Times = denseOf([2][2]float64{{100, 200}, {300, 400}})
	return gg
}

func denseOf(values [2][2]float64) *sparse.DenseArray {
	d := sparse.ZerosDense(2, 2)
	for i := range values {
		for j, v := range values[i] {
			d.Set(v, i, j)
		}
	}
	return d
}

func newArchive(t *testing.T, dir string) *store.ArchiveStore {
	t.Helper()
	return store.NewArchiveStore(dir, 3, time.Millisecond,
		discardLogger(), observability.NewMetricsForTesting(), clockwork.NewRealClock())
}

func TestRasterStore_CommitLoadRoundTrip(t *testing.T) {
	rs := store.NewRasterStore(t.TempDir(), discardLogger())
	day := domain.Day(2024, time.March, 10)
	gg := makeGeo(day, [2][2]float64{{1.5, domain.NoData()}, {0, 2.25}})

	require.NoError(t, rs.Commit(gg))

	got, err := rs.Load(domain.Lightning, day)
	require.NoError(t, err)
	assert.True(t, got.Day.Equal(day))
	assert.Empty(t, cmp.Diff(gg.Lats, got.Lats))
	assert.Empty(t, cmp.Diff(gg.Lons, got.Lons))
	assert.Empty(t, cmp.Diff(gg.Values.Elements, got.Values.Elements, cmpopts.EquateNaNs()))
	assert.Empty(t, cmp.Diff(gg.Times.Elements, got.Times.Elements))
}

func TestRasterStore_Days(t *testing.T) {
	dir := t.TempDir()
	rs := store.NewRasterStore(dir, discardLogger())

	require.NoError(t, rs.Commit(makeGeo(domain.Day(2024, time.March, 10), [2][2]float64{{1, 2}, {3, 4}})))
	require.NoError(t, rs.Commit(makeGeo(domain.Day(2024, time.March, 12), [2][2]float64{{1, 2}, {3, 4}})))

	// Leftovers from interrupted writes and foreign files never count.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lightning_20240311.nc.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	days, err := rs.Days(domain.Lightning)
	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.True(t, days.Has(domain.Day(2024, time.March, 10)))
	assert.True(t, days.Has(domain.Day(2024, time.March, 12)))
	assert.False(t, days.Has(domain.Day(2024, time.March, 11)))
}

func TestRasterStore_CommitReplacesStaleTemp(t *testing.T) {
	dir := t.TempDir()
	rs := store.NewRasterStore(dir, discardLogger())
	day := domain.Day(2024, time.March, 10)

	// A crash mid-write leaves a temp file behind; the next commit must
	// still produce a readable raster.
	stale := filepath.Join(dir, domain.ArtifactName(domain.Lightning, day)+".tmp")
	require.NoError(t, os.WriteFile(stale, []byte("garbage"), 0o644))

	require.NoError(t, rs.Commit(makeGeo(day, [2][2]float64{{1, 2}, {3, 4}})))

	got, err := rs.Load(domain.Lightning, day)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Values.Get(0, 0))
	assert.NoFileExists(t, stale)
}

func TestArchiveStore_AppendSortsOutOfOrderDays(t *testing.T) {
	as := newArchive(t, t.TempDir())
	jan1 := domain.Day(2024, time.January, 1)
	jan3 := domain.Day(2024, time.January, 3)

	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(jan3, [2][2]float64{{3, 3}, {3, 3}}),
	}))
	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(jan1, [2][2]float64{{1, 1}, {1, 1}}),
	}))

	stack, err := as.Load(domain.Lightning, 2024)
	require.NoError(t, err)
	require.Len(t, stack.Days, 2)
	assert.True(t, stack.Days[0].Equal(jan1), "layers sort by day, not arrival order")
	assert.True(t, stack.Days[1].Equal(jan3))
	assert.Equal(t, 1.0, stack.Layer(0).Values.Get(0, 0))
	assert.Equal(t, 3.0, stack.Layer(1).Values.Get(0, 0))
}

func TestArchiveStore_AppendReplacesDuplicateDay(t *testing.T) {
	as := newArchive(t, t.TempDir())
	day := domain.Day(2024, time.January, 2)

	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(day, [2][2]float64{{1, 1}, {1, 1}}),
	}))
	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(day, [2][2]float64{{9, 9}, {9, 9}}),
	}))

	stack, err := as.Load(domain.Lightning, 2024)
	require.NoError(t, err)
	require.Len(t, stack.Days, 1)
	assert.Equal(t, 9.0, stack.Layer(0).Values.Get(1, 1), "reprocessed day replaces the stored layer")
}

func TestArchiveStore_AppendRejectsMixedYears(t *testing.T) {
	as := newArchive(t, t.TempDir())

	err := as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(domain.Day(2023, time.December, 31), [2][2]float64{{1, 1}, {1, 1}}),
		makeGeo(domain.Day(2024, time.January, 1), [2][2]float64{{1, 1}, {1, 1}}),
	})
	assert.ErrorContains(t, err, "spans years")
}

func TestArchiveStore_AppendGivesUpAfterRetries(t *testing.T) {
	// A directory that does not exist fails every attempt.
	as := newArchive(t, filepath.Join(t.TempDir(), "missing"))

	err := as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(domain.Day(2024, time.January, 1), [2][2]float64{{1, 1}, {1, 1}}),
	})
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestArchiveStore_CrashBeforeRenameKeepsOldShard(t *testing.T) {
	dir := t.TempDir()
	as := newArchive(t, dir)
	day := domain.Day(2024, time.February, 1)

	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(day, [2][2]float64{{7, 7}, {7, 7}}),
	}))

	// A crash after writing the temp file but before the rename leaves the
	// temp behind; the committed shard must read back unchanged.
	shard := filepath.Join(dir, domain.ShardName(domain.Lightning, 2024))
	require.NoError(t, os.WriteFile(shard+".tmp", []byte("half-written"), 0o644))

	stack, err := as.Load(domain.Lightning, 2024)
	require.NoError(t, err)
	require.Len(t, stack.Days, 1)
	assert.Equal(t, 7.0, stack.Layer(0).Values.Get(0, 0))

	// The next append replaces the stale temp and still commits.
	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(domain.Day(2024, time.February, 2), [2][2]float64{{8, 8}, {8, 8}}),
	}))
	stack, err = as.Load(domain.Lightning, 2024)
	require.NoError(t, err)
	assert.Len(t, stack.Days, 2)
}

func TestArchiveStore_DaysSkipsCorruptShard(t *testing.T) {
	dir := t.TempDir()
	as := newArchive(t, dir)

	require.NoError(t, as.Append(context.Background(), []*domain.GeoGrid{
		makeGeo(domain.Day(2024, time.June, 5), [2][2]float64{{1, 1}, {1, 1}}),
	}))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, domain.ShardName(domain.Lightning, 2023)), []byte("not netcdf"), 0o644))

	days, err := as.Days(domain.Lightning)
	require.NoError(t, err)
	assert.Len(t, days, 1)
	assert.True(t, days.Has(domain.Day(2024, time.June, 5)))
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	cs := store.NewCheckpointStore(t.TempDir(), discardLogger(), observability.NewMetricsForTesting())

	days, err := cs.Load(domain.Lightning)
	require.NoError(t, err)
	assert.Empty(t, days, "missing checkpoint reads as an empty set")

	days.Add(domain.Day(2024, time.January, 1))
	days.Add(domain.Day(2024, time.January, 3))
	require.NoError(t, cs.Save(domain.Lightning, days))

	got, err := cs.Load(domain.Lightning)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got.Has(domain.Day(2024, time.January, 3)))
}

func TestCheckpointStore_RejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	cs := store.NewCheckpointStore(dir, discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lightning_checkpoint.json"), []byte("{"), 0o644))

	_, err := cs.Load(domain.Lightning)
	assert.ErrorContains(t, err, "decode checkpoint")
}
