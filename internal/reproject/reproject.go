// Package reproject converts native sensor grids into clipped, unit-
// normalized geographic grids.
package reproject

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

// earthRadiusKm is the mean Earth radius used for cell footprint areas.
const earthRadiusKm = 6371.0088

// GridSpec describes the output geographic grid in degrees.
type GridSpec struct {
	CellDeg float64
	MinLat  float64
	MaxLat  float64
	MinLon  float64
	MaxLon  float64
}

// Lats returns cell-center latitudes, north to south (row order).
func (s GridSpec) Lats() []float64 {
	n := int(math.Round((s.MaxLat - s.MinLat) / s.CellDeg))
	lats := make([]float64, n)
	for i := range lats {
		lats[i] = s.MaxLat - (float64(i)+0.5)*s.CellDeg
	}
	return lats
}

// Lons returns cell-center longitudes, west to east (column order).
func (s GridSpec) Lons() []float64 {
	n := int(math.Round((s.MaxLon - s.MinLon) / s.CellDeg))
	lons := make([]float64, n)
	for j := range lons {
		lons[j] = s.MinLon + (float64(j)+0.5)*s.CellDeg
	}
	return lons
}

// Reprojector resamples DayGrids onto the geographic grid, clips them to
// the territory, and rescales raw counts to per-area densities.
type Reprojector struct {
	spec      GridSpec
	territory *Territory
	logger    *slog.Logger

	longlat *proj.SR
	// Transforms are built per sensor; a multi-year backfill crosses
	// satellite handovers, so the projection is selected by the grid's
	// sensor, never assumed constant.
	transforms map[string]sensorTransform
}

// sensorTransform maps a geographic coordinate to the sensor's native
// scan coordinates, or errors when the point is off the visible disk.
type sensorTransform func(lon, lat float64) (x, y float64, err error)

// New creates a Reprojector for the given output grid and territory.
func New(spec GridSpec, territory *Territory, logger *slog.Logger) (*Reprojector, error) {
	longlat, err := proj.Parse("+proj=longlat")
	if err != nil {
		return nil, fmt.Errorf("parse longlat projection: %w", err)
	}
	return &Reprojector{
		spec:       spec,
		territory:  territory,
		logger:     logger,
		longlat:    longlat,
		transforms: make(map[string]sensorTransform),
	}, nil
}

// Reproject converts a DayGrid into a GeoGrid. Clipping only ever adds
// no-data cells: a no-data marker set by the aggregator is always kept.
func (r *Reprojector) Reproject(ctx context.Context, dg *domain.DayGrid) (*domain.GeoGrid, error) {
	trans, err := r.transformFor(dg.Sensor)
	if err != nil {
		return nil, err
	}

	lats, lons := r.spec.Lats(), r.spec.Lons()
	values := sparse.ZerosDense(len(lats), len(lons))
	times := sparse.ZerosDense(len(lats), len(lons))

	clipped, offDisk := 0, 0
	for i, lat := range lats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Cell ground area shrinks toward the poles; recompute per row
		// rather than applying one global scale factor.
		area := r.rowAreaKm2(lat)

		for j, lon := range lons {
			if !r.territory.Touches(r.cellFootprint(lat, lon)) {
				values.Set(domain.NoData(), i, j)
				clipped++
				continue
			}

			x, y, terr := trans(lon, lat)
			if terr != nil {
				// Off the sensor's visible disk.
				values.Set(domain.NoData(), i, j)
				offDisk++
				continue
			}
			row, col, ok := dg.Sensor.CellIndex(x, y)
			if !ok {
				values.Set(domain.NoData(), i, j)
				offDisk++
				continue
			}

			v := dg.Values.Get(row, col)
			if domain.IsNoData(v) {
				values.Set(domain.NoData(), i, j)
				continue
			}
			values.Set(v/area, i, j)
			times.Set(dg.BucketTimes.Get(row, col), i, j)
		}
	}

	r.logger.Debug("day reprojected",
		"source", dg.Source.Name,
		"day", domain.DayKey(dg.Day),
		"sensor", dg.Sensor.Name,
		"clipped_cells", clipped,
		"off_disk_cells", offDisk,
	)

	return &domain.GeoGrid{
		Source: dg.Source,
		Day:    dg.Day,
		Lats:   lats,
		Lons:   lons,
		Values: values,
		Times:  times,
	}, nil
}

// transformFor returns the geographic-to-sensor transform for the sensor
// that produced the grid, building it on first use.
func (r *Reprojector) transformFor(sensor domain.SensorParams) (sensorTransform, error) {
	if t, ok := r.transforms[sensor.Name]; ok {
		return t, nil
	}
	sensorSR, err := proj.Parse(sensor.Proj4())
	if err != nil {
		return nil, fmt.Errorf("parse projection for %s: %w", sensor.Name, err)
	}
	ct, err := r.longlat.NewTransform(sensorSR)
	if err != nil {
		return nil, fmt.Errorf("build transform for %s: %w", sensor.Name, err)
	}
	t := func(lon, lat float64) (float64, float64, error) {
		g, err := geom.Point{X: lon, Y: lat}.Transform(ct)
		if err != nil {
			return 0, 0, err
		}
		p := g.(geom.Point)
		return p.X, p.Y, nil
	}
	r.transforms[sensor.Name] = t
	return t, nil
}

// rowAreaKm2 returns the true ground footprint of a cell centered at lat
// under an equirectangular geographic grid.
func (r *Reprojector) rowAreaKm2(lat float64) float64 {
	half := r.spec.CellDeg / 2
	top := (lat + half) * math.Pi / 180
	bottom := (lat - half) * math.Pi / 180
	dLon := r.spec.CellDeg * math.Pi / 180
	return earthRadiusKm * earthRadiusKm * dLon * (math.Sin(top) - math.Sin(bottom))
}

func (r *Reprojector) cellFootprint(lat, lon float64) geom.Polygon {
	half := r.spec.CellDeg / 2
	return geom.Polygon{{
		{X: lon - half, Y: lat - half},
		{X: lon + half, Y: lat - half},
		{X: lon + half, Y: lat + half},
		{X: lon - half, Y: lat + half},
	}}
}
