// Package domain models gridded geophysical observation data as it moves
// through the ingestion engine.
//
// # Data flow
//
// Remote archives publish minute-resolution granule files per satellite
// sensor. One ingestion run turns the granules for a calendar day into two
// persisted artifacts:
//
//   - a daily raster: one NetCDF file per (source, day), the canonical
//     "this day exists" marker consumed by the tile server's directory scan
//   - a yearly archive shard: one NetCDF file per (source, year) holding all
//     of that year's days as a time-ordered stack of geographic grids
//
// # Naming conventions
//
// Artifact filenames encode their identity so stores and external consumers
// can discover content without a separate index:
//
//	<source>_<YYYYMMDD>.nc   daily raster, e.g. lightning_20240426.nc
//	<source>_<YYYY>.nc       yearly shard,  e.g. lightning_2024.nc
//
// # Grids and missing data
//
// Grid values live in sparse.DenseArray row-major arrays. NaN marks a cell
// with no data at all; the numeric value 0 means "observed, and zero". The
// distinction matters: a day where a cell had zero bucket coverage must not
// render the same as a day where lightning genuinely did not occur.
//
// # Sensor dispatch
//
// The physical sensor serving a source changes over the archive's lifetime
// (satellite handovers). SensorForDay maps a calendar day to the projection
// parameters of the sensor that produced that day's granules; reprojection
// must never assume a single constant sensor across a multi-year backfill.
package domain
