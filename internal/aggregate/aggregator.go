// Package aggregate reduces a day's minute granules into one grid holding
// each cell's maximum bucket accumulation.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/observability"
)

// Aggregator implements the streaming time-bucket max-reduction. Granules
// are grouped into fixed-width buckets, each bucket is summed cell-by-cell,
// and buckets fold into a running per-cell maximum. At most one bucket's
// grid is resident in memory at a time, regardless of how many granules or
// buckets a day has.
type Aggregator struct {
	width   time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Aggregator with the given bucket width.
func New(width time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{width: width, logger: logger, metrics: metrics}
}

// Aggregate reduces the given granule files into a DayGrid for the target
// day. paths may include previous-day lookback granules; files outside the
// acceptance window and corrupt files are skipped. It fails only when no
// bucket ends up with any usable data.
//
// Deterministic: given the same file set and width, output is identical.
// Ties between buckets reaching the same maximum go to the earlier bucket
// (strictly-greater comparison during the fold).
func (a *Aggregator) Aggregate(ctx context.Context, src domain.Source, day time.Time, sensor domain.SensorParams, paths []string) (*domain.DayGrid, error) {
	day = domain.Midnight(day)
	buckets := Partition(day, a.width)

	byBucket := make(map[int][]string)
	for _, p := range paths {
		instant, err := ParseAcquisition(p)
		if err != nil {
			a.metrics.GranulesDiscarded.Inc()
			a.logger.Warn("granule skipped", "path", p, "error", err)
			continue
		}
		idx, ok := assign(day, a.width, instant)
		if !ok {
			a.metrics.GranulesDiscarded.Inc()
			a.logger.Debug("granule outside day window, discarding",
				"path", p, "instant", instant.Format(time.RFC3339))
			continue
		}
		byBucket[idx] = append(byBucket[idx], p)
	}

	// Running reduction state. Cells never covered by any bucket stay at
	// -Inf and become no-data afterwards; a bucket summing to exactly zero
	// legitimately overwrites them with 0.
	values := fillDense(sensor.Rows, sensor.Cols, math.Inf(-1))
	times := sparse.ZerosDense(sensor.Rows, sensor.Cols)

	nonEmpty := 0
	peak := math.Inf(-1)
	for idx, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files := byBucket[idx]
		if len(files) == 0 {
			continue
		}

		sum, covered, used := a.sumBucket(files, src.Variable, sensor)
		if used == 0 {
			continue
		}
		nonEmpty++
		a.metrics.BucketsReduced.Inc()
		peak = math.Max(peak, floats.Max(sum.Elements))

		// Only cells with at least one valid observation in this bucket
		// participate: a cell every granule reported as missing must be
		// distinguishable from a cell that validly summed to zero.
		startSec := float64(bucket.Start.Unix())
		for i, v := range sum.Elements {
			if covered[i] && v > values.Elements[i] {
				values.Elements[i] = v
				times.Elements[i] = startSec
			}
		}
	}

	if nonEmpty == 0 {
		return nil, fmt.Errorf("no usable data for %s on %s", src.Name, domain.DayKey(day))
	}

	for i, v := range values.Elements {
		if math.IsInf(v, -1) {
			values.Elements[i] = domain.NoData()
		}
	}

	a.logger.Info("day aggregated",
		"source", src.Name,
		"day", domain.DayKey(day),
		"buckets", nonEmpty,
		"peak", peak,
	)

	return &domain.DayGrid{
		Source:      src,
		Day:         day,
		Sensor:      sensor,
		Values:      values,
		BucketTimes: times,
	}, nil
}

// sumBucket sums one bucket's granules cell-by-cell. Missing or invalid
// values count as zero so a dropped granule cannot poison the bucket, and a
// corrupt file is skipped with a warning rather than failing the day. The
// returned coverage mask records which cells saw at least one valid value.
func (a *Aggregator) sumBucket(files []string, variable string, sensor domain.SensorParams) (*sparse.DenseArray, []bool, int) {
	sum := sparse.ZerosDense(sensor.Rows, sensor.Cols)
	covered := make([]bool, len(sum.Elements))
	used := 0
	for _, path := range files {
		grid, err := readGranule(path, variable)
		if err != nil {
			a.metrics.GranulesDiscarded.Inc()
			a.logger.Warn("corrupt granule skipped", "path", path, "error", err)
			continue
		}
		if grid.Shape[0] != sensor.Rows || grid.Shape[1] != sensor.Cols {
			a.metrics.GranulesDiscarded.Inc()
			a.logger.Warn("granule grid shape mismatch, skipping",
				"path", path,
				"rows", grid.Shape[0], "cols", grid.Shape[1],
				"want_rows", sensor.Rows, "want_cols", sensor.Cols)
			continue
		}
		for i, v := range grid.Elements {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum.Elements[i] += v
			covered[i] = true
		}
		used++
	}
	return sum, covered, used
}

func fillDense(rows, cols int, v float64) *sparse.DenseArray {
	a := sparse.ZerosDense(rows, cols)
	for i := range a.Elements {
		a.Elements[i] = v
	}
	return a
}
