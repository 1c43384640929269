package domain

import (
	"fmt"
	"time"
)

// SensorParams holds the projection and fixed-grid geometry of one physical
// sensor. Granules arrive on this grid; reprojection needs every field.
type SensorParams struct {
	Name      string
	OriginLon float64 // sub-satellite longitude, degrees east
	Height    float64 // perspective point height above the ellipsoid, meters
	Ellipsoid string  // Proj4 ellipsoid name

	// Fixed-grid geometry in projection meters. XOrigin/YOrigin locate the
	// center of the upper-left cell; Y decreases with increasing row.
	XOrigin  float64
	YOrigin  float64
	CellSize float64
	Rows     int
	Cols     int
}

// Proj4 renders the sensor's geostationary projection string.
func (p SensorParams) Proj4() string {
	return fmt.Sprintf("+proj=geos +lon_0=%g +h=%g +x_0=0 +y_0=0 +ellps=%s +units=m +sweep=x +no_defs",
		p.OriginLon, p.Height, p.Ellipsoid)
}

// CellIndex maps projection coordinates to the containing grid cell,
// reporting false for coordinates off the grid (including off-disk points).
func (p SensorParams) CellIndex(x, y float64) (row, col int, ok bool) {
	col = int((x-p.XOrigin)/p.CellSize + 0.5)
	row = int((p.YOrigin-y)/p.CellSize + 0.5)
	if row < 0 || row >= p.Rows || col < 0 || col >= p.Cols {
		return 0, 0, false
	}
	return row, col, true
}

// The GOES-East slot changed hardware when GOES-19 was declared operational;
// granules before the handover carry GOES-16 navigation.
var goes19Operational = Day(2025, time.April, 7)

var (
	goes16 = SensorParams{
		Name:      "GOES-16",
		OriginLon: -75.2,
		Height:    35786023.0,
		Ellipsoid: "GRS80",
		XOrigin:   -5433893.0,
		YOrigin:   5433893.0,
		CellSize:  2004.017,
		Rows:      5424,
		Cols:      5424,
	}
	goes19 = SensorParams{
		Name:      "GOES-19",
		OriginLon: -75.2,
		Height:    35786023.0,
		Ellipsoid: "GRS80",
		XOrigin:   -5433893.0,
		YOrigin:   5433893.0,
		CellSize:  2004.017,
		Rows:      5424,
		Cols:      5424,
	}
)

// SensorForDay returns the sensor whose navigation applies to granules
// acquired on the given day.
func SensorForDay(day time.Time) SensorParams {
	if Midnight(day).Before(goes19Operational) {
		return goes16
	}
	return goes19
}
