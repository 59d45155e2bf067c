// Package params slices flat encoder output into named coefficient groups.
package params

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Group declares one named block of the flat coefficient vector. Names
// carry the upstream "n_" prefix; the prefix is trimmed in Decompose
// output. Declaration order is the slicing order.
type Group struct {
	Name string
	Size int
}

// FlameGroups is the coefficient layout of the FLAME encoder head:
// 236 values total.
var FlameGroups = []Group{
	{Name: "n_shape", Size: 100},
	{Name: "n_tex", Size: 50},
	{Name: "n_exp", Size: 50},
	{Name: "n_pose", Size: 6},
	{Name: "n_cam", Size: 3},
	{Name: "n_light", Size: 27},
}

// Total returns the summed width of all groups.
func Total(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += g.Size
	}
	return n
}

// Decompose splits a (batch x N) coefficient matrix into contiguous
// per-group views, keyed by trimmed group name. Offsets are cumulative
// in declaration order, no gaps and no overlaps. The matrix width must
// equal the summed group sizes; the upstream implementation relied on
// the encoder head and the group table staying consistent by
// construction, here it is checked.
func Decompose(enc *mat.Dense, groups []Group) (map[string]*mat.Dense, error) {
	rows, cols := enc.Dims()
	if total := Total(groups); cols != total {
		return nil, fmt.Errorf("coefficient width %d does not match group table total %d", cols, total)
	}

	out := make(map[string]*mat.Dense, len(groups))
	start := 0
	for _, g := range groups {
		name := trimPrefix(g.Name)
		end := start + g.Size
		out[name] = enc.Slice(0, rows, start, end).(*mat.Dense)
		start = end
	}
	return out, nil
}

// ReshapeSH reshapes a flat 27-value lighting block into 9x3 spherical
// harmonics coefficients (9 bands, RGB).
func ReshapeSH(row []float64) (*mat.Dense, error) {
	if len(row) != 27 {
		return nil, fmt.Errorf("lighting block has %d values, want 27", len(row))
	}
	sh := mat.NewDense(9, 3, nil)
	for i, v := range row {
		sh.Set(i/3, i%3, v)
	}
	return sh, nil
}

func trimPrefix(name string) string {
	if len(name) > 2 && name[:2] == "n_" {
		return name[2:]
	}
	return name
}
