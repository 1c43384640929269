// Package store persists daily rasters, yearly archive shards, and run
// checkpoints on the local filesystem. All file writes go through a
// temporary file renamed into place, so readers never see a half-written
// artifact and a crash leaves the previous version intact.
package store

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

const (
	timeVar   = "time"
	latVar    = "lat"
	lonVar    = "lon"
	peakVar   = "peak_time"
	timeUnits = "days since 1970-01-01"
	peakUnits = "seconds since 1970-01-01"
)

// Stack is a pile of daily geographic grids sharing one set of axes, the
// in-memory form of both a yearly shard and a single-day raster file.
// Days ascend; Values and Times have shape (day, lat, lon).
type Stack struct {
	Source domain.Source
	Days   []time.Time
	Lats   []float64
	Lons   []float64
	Values *sparse.DenseArray
	Times  *sparse.DenseArray
}

// Layer returns day index i as a GeoGrid sharing no memory with the stack.
func (s *Stack) Layer(i int) *domain.GeoGrid {
	nLat, nLon := len(s.Lats), len(s.Lons)
	values := sparse.ZerosDense(nLat, nLon)
	times := sparse.ZerosDense(nLat, nLon)
	copy(values.Elements, s.Values.Elements[i*nLat*nLon:(i+1)*nLat*nLon])
	copy(times.Elements, s.Times.Elements[i*nLat*nLon:(i+1)*nLat*nLon])
	return &domain.GeoGrid{
		Source: s.Source,
		Day:    s.Days[i],
		Lats:   append([]float64(nil), s.Lats...),
		Lons:   append([]float64(nil), s.Lons...),
		Values: values,
		Times:  times,
	}
}

func stackOf(grids ...*domain.GeoGrid) *Stack {
	g0 := grids[0]
	nLat, nLon := len(g0.Lats), len(g0.Lons)
	s := &Stack{
		Source: g0.Source,
		Lats:   g0.Lats,
		Lons:   g0.Lons,
		Values: sparse.ZerosDense(len(grids), nLat, nLon),
		Times:  sparse.ZerosDense(len(grids), nLat, nLon),
	}
	for i, g := range grids {
		s.Days = append(s.Days, domain.Midnight(g.Day))
		copy(s.Values.Elements[i*nLat*nLon:], g.Values.Elements)
		copy(s.Times.Elements[i*nLat*nLon:], g.Times.Elements)
	}
	return s
}

// epochDay converts between calendar days and the int32 day numbers stored
// on the shard time axis.
func epochDay(day time.Time) int32 {
	return int32(domain.Midnight(day).Unix() / 86400)
}

func dayOfEpoch(n int32) time.Time {
	return time.Unix(int64(n)*86400, 0).UTC()
}

// writeStack writes s as a NetCDF classic file, atomically.
func writeStack(path string, s *Stack) error {
	h := cdf.NewHeader(
		[]string{timeVar, latVar, lonVar},
		[]int{len(s.Days), len(s.Lats), len(s.Lons)})
	h.AddAttribute("", "source", s.Source.Name)

	h.AddVariable(timeVar, []string{timeVar}, []int32{0})
	h.AddAttribute(timeVar, "units", timeUnits)
	h.AddVariable(latVar, []string{latVar}, []float64{0})
	h.AddAttribute(latVar, "units", "degrees_north")
	h.AddVariable(lonVar, []string{lonVar}, []float64{0})
	h.AddAttribute(lonVar, "units", "degrees_east")
	h.AddVariable(s.Source.Variable, []string{timeVar, latVar, lonVar}, []float32{0})
	h.AddAttribute(s.Source.Variable, "units", s.Source.Unit)
	h.AddVariable(peakVar, []string{timeVar, latVar, lonVar}, []float64{0})
	h.AddAttribute(peakVar, "units", peakUnits)
	h.Define()

	tmp := path + ".tmp"
	ff, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	// Remove the temp file on any failure past this point.
	defer os.Remove(tmp)
	defer ff.Close()

	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("write header %s: %w", tmp, err)
	}

	days := make([]int32, len(s.Days))
	for i, d := range s.Days {
		days[i] = epochDay(d)
	}
	values32 := make([]float32, len(s.Values.Elements))
	for i, v := range s.Values.Elements {
		values32[i] = float32(v)
	}
	writes := []struct {
		name string
		data interface{}
	}{
		{timeVar, days},
		{latVar, s.Lats},
		{lonVar, s.Lons},
		{s.Source.Variable, values32},
		{peakVar, s.Times.Elements},
	}
	for _, v := range writes {
		end := f.Header.Lengths(v.name)
		start := make([]int, len(end))
		if _, err := f.Writer(v.name, start, end).Write(v.data); err != nil {
			return fmt.Errorf("write variable %s to %s: %w", v.name, tmp, err)
		}
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		return fmt.Errorf("finalize %s: %w", tmp, err)
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// readStack loads a stack written by writeStack.
func readStack(path string, src domain.Source) (*Stack, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer ff.Close()

	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	lengths := f.Header.Lengths(src.Variable)
	if len(lengths) != 3 {
		return nil, fmt.Errorf("%s: variable %s is not a day stack", path, src.Variable)
	}
	nDays, nLat, nLon := lengths[0], lengths[1], lengths[2]

	days := make([]int32, nDays)
	if _, err := f.Reader(timeVar, nil, nil).Read(days); err != nil {
		return nil, fmt.Errorf("%s: read time axis: %w", path, err)
	}
	lats := make([]float64, nLat)
	if _, err := f.Reader(latVar, nil, nil).Read(lats); err != nil {
		return nil, fmt.Errorf("%s: read latitudes: %w", path, err)
	}
	lons := make([]float64, nLon)
	if _, err := f.Reader(lonVar, nil, nil).Read(lons); err != nil {
		return nil, fmt.Errorf("%s: read longitudes: %w", path, err)
	}
	values32 := make([]float32, nDays*nLat*nLon)
	if _, err := f.Reader(src.Variable, nil, nil).Read(values32); err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", path, src.Variable, err)
	}
	times := make([]float64, nDays*nLat*nLon)
	if _, err := f.Reader(peakVar, nil, nil).Read(times); err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", path, peakVar, err)
	}

	s := &Stack{
		Source: src,
		Lats:   lats,
		Lons:   lons,
		Values: sparse.ZerosDense(nDays, nLat, nLon),
		Times:  sparse.ZerosDense(nDays, nLat, nLon),
	}
	for _, d := range days {
		s.Days = append(s.Days, dayOfEpoch(d))
	}
	for i, v := range values32 {
		s.Values.Elements[i] = float64(v)
	}
	copy(s.Times.Elements, times)
	return s, nil
}

// readDays loads only the time axis of a stack file.
func readDays(path string, src domain.Source) ([]time.Time, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer ff.Close()

	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	lengths := f.Header.Lengths(timeVar)
	if len(lengths) != 1 {
		return nil, fmt.Errorf("%s: malformed time axis", path)
	}
	raw := make([]int32, lengths[0])
	if _, err := f.Reader(timeVar, nil, nil).Read(raw); err != nil {
		return nil, fmt.Errorf("%s: read time axis: %w", path, err)
	}
	days := make([]time.Time, len(raw))
	for i, d := range raw {
		days[i] = dayOfEpoch(d)
	}
	return days, nil
}

// sameAxes compares grid axes with a small tolerance for float round trips.
func sameAxes(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}
