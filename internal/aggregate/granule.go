package aggregate

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/ctessum/sparse"
)

// readGranule loads a 2-D variable from one granule file into a dense
// array. Satellite archives mix value types across product versions, so
// several element types are accepted.
func readGranule(path, variable string) (*sparse.DenseArray, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open granule %s: %w", path, err)
	}
	defer nc.Close()

	vg, err := nc.GetVarGetter(variable)
	if err != nil {
		return nil, fmt.Errorf("granule %s has no variable %q: %w", path, variable, err)
	}
	vals, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("read %q from %s: %w", variable, path, err)
	}

	switch v := vals.(type) {
	case [][]float32:
		return denseFrom(v, func(e float32) float64 { return float64(e) })
	case [][]float64:
		return denseFrom(v, func(e float64) float64 { return e })
	case [][]int32:
		return denseFrom(v, func(e int32) float64 { return float64(e) })
	case [][]int16:
		return denseFrom(v, func(e int16) float64 { return float64(e) })
	default:
		return nil, fmt.Errorf("granule %s: variable %q has unsupported type %T", path, variable, vals)
	}
}

func denseFrom[T any](rows [][]T, conv func(T) float64) (*sparse.DenseArray, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty grid")
	}
	out := sparse.ZerosDense(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("ragged grid: row %d has %d columns, want %d", i, len(row), len(rows[0]))
		}
		for j, e := range row {
			out.Set(conv(e), i, j)
		}
	}
	return out, nil
}
