package domain

import (
	"math"
	"time"

	"github.com/ctessum/sparse"
)

// IsNoData reports whether a grid value is the no-data marker.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// NoData returns the no-data marker.
func NoData() float64 {
	return math.NaN()
}

// DayGrid is one day's aggregated observation on the sensor's native fixed
// grid. Values and BucketTimes share the sensor grid's shape; BucketTimes
// holds the Unix-second start of the bucket that produced each cell's value.
// Immutable once produced by the aggregator.
type DayGrid struct {
	Source      Source
	Day         time.Time
	Sensor      SensorParams
	Values      *sparse.DenseArray
	BucketTimes *sparse.DenseArray
}

// GeoGrid is a DayGrid after reprojection to geographic coordinates,
// territory clipping, and unit normalization. Lats descend north to south
// (row order), Lons ascend west to east (column order); both are cell
// centers in degrees.
type GeoGrid struct {
	Source Source
	Day    time.Time
	Lats   []float64
	Lons   []float64
	Values *sparse.DenseArray
	Times  *sparse.DenseArray // bucket-of-maximum times carried from the DayGrid
}

// Year returns the calendar year the grid's day belongs to, which selects
// its archive shard.
func (g GeoGrid) Year() int {
	return g.Day.UTC().Year()
}
