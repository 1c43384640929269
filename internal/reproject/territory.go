package reproject

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
)

// Territory is the serving region's boundary, indexed for fast any-touch
// lookups against grid cell footprints.
type Territory struct {
	index *rtree.Rtree
}

// NewTerritory builds a territory from polygons already in geographic
// coordinates.
func NewTerritory(polys ...geom.Polygonal) *Territory {
	tree := rtree.NewTree(25, 50)
	for _, p := range polys {
		tree.Insert(p)
	}
	return &Territory{index: tree}
}

// LoadTerritory reads the territory boundary from a shapefile, reprojecting
// its polygons to geographic coordinates.
func LoadTerritory(path string) (*Territory, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open territory shapefile %s: %w", path, err)
	}
	defer dec.Close()

	shpSR, err := dec.SR()
	if err != nil {
		return nil, fmt.Errorf("territory spatial reference: %w", err)
	}
	longlat, err := proj.Parse("+proj=longlat")
	if err != nil {
		return nil, fmt.Errorf("parse longlat projection: %w", err)
	}
	trans, err := shpSR.NewTransform(longlat)
	if err != nil {
		return nil, fmt.Errorf("territory transform: %w", err)
	}

	var polys []geom.Polygonal
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, fmt.Errorf("reproject territory geometry: %w", err)
		}
		poly, ok := gg.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("territory shapes must be polygons, got %T", gg)
		}
		polys = append(polys, poly)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decode territory shapefile: %w", err)
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("territory shapefile %s holds no polygons", path)
	}
	return NewTerritory(polys...), nil
}

// Touches reports whether a cell footprint intersects the territory at all,
// the any-touch inclusion policy that keeps border cells.
func (t *Territory) Touches(cell geom.Polygon) bool {
	for _, s := range t.index.SearchIntersect(cell.Bounds()) {
		poly := s.(geom.Polygonal)
		if isect := cell.Intersection(poly); isect != nil && isect.Area() > 0 {
			return true
		}
	}
	return false
}
