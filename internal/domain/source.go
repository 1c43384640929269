package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies one observation product served by the platform.
type Source struct {
	Name     string // filesystem- and catalog-safe identifier, e.g. "lightning"
	Tag      string // catalog search tag for this product's granules
	Variable string // NetCDF variable holding the observation in granule files
	Unit     string // unit of the normalized output values
}

// Lightning is the flash extent density product derived from the
// geostationary lightning mapper's minute granules.
var Lightning = Source{
	Name:     "lightning",
	Tag:      "GLM-L2-GLMF",
	Variable: "flash_extent_density",
	Unit:     "flashes km-2",
}

// KnownSources lists every source the engine can ingest.
var KnownSources = []Source{Lightning}

// SourceByName looks up a known source by its identifier.
func SourceByName(name string) (Source, error) {
	for _, s := range KnownSources {
		if s.Name == name {
			return s, nil
		}
	}
	return Source{}, fmt.Errorf("unknown source %q", name)
}

// ArtifactName returns the daily raster filename for a source and day.
func ArtifactName(src Source, day time.Time) string {
	return fmt.Sprintf("%s_%s.nc", src.Name, day.UTC().Format("20060102"))
}

// ShardName returns the yearly archive filename for a source and year.
func ShardName(src Source, year int) string {
	return fmt.Sprintf("%s_%d.nc", src.Name, year)
}

// ParseArtifactDay extracts the calendar day encoded in a daily raster
// filename. It returns false for filenames belonging to other sources or
// not following the naming convention.
func ParseArtifactDay(src Source, filename string) (time.Time, bool) {
	stem, ok := strings.CutSuffix(filename, ".nc")
	if !ok {
		return time.Time{}, false
	}
	rest, ok := strings.CutPrefix(stem, src.Name+"_")
	if !ok || len(rest) != 8 {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", rest)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// ParseShardYear extracts the year encoded in a yearly shard filename.
func ParseShardYear(src Source, filename string) (int, bool) {
	stem, ok := strings.CutSuffix(filename, ".nc")
	if !ok {
		return 0, false
	}
	rest, ok := strings.CutPrefix(stem, src.Name+"_")
	if !ok || len(rest) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return year, true
}
