// Package mesh holds the FLAME mesh representation: topology loading,
// per-vertex normals, detail upsampling and export.
package mesh

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// normalEps guards unit normalization against degenerate geometry so a
// near-zero normal never divides out to NaN or Inf.
const normalEps = 1e-8

// VertexNormals computes area-weighted unit normals for the given
// vertices and triangle list. Each face normal is accumulated at its
// three corners before normalizing.
func VertexNormals(v *mat.Dense, faces [][3]int) *mat.Dense {
	rows, _ := v.Dims()
	normals := mat.NewDense(rows, 3, nil)

	for _, f := range faces {
		ax, ay, az := v.At(f[0], 0), v.At(f[0], 1), v.At(f[0], 2)
		bx, by, bz := v.At(f[1], 0), v.At(f[1], 1), v.At(f[1], 2)
		cx, cy, cz := v.At(f[2], 0), v.At(f[2], 1), v.At(f[2], 2)

		// Face normal, length proportional to twice the face area.
		e1x, e1y, e1z := bx-ax, by-ay, bz-az
		e2x, e2y, e2z := cx-ax, cy-ay, cz-az
		nx := e1y*e2z - e1z*e2y
		ny := e1z*e2x - e1x*e2z
		nz := e1x*e2y - e1y*e2x

		for _, vi := range f {
			normals.Set(vi, 0, normals.At(vi, 0)+nx)
			normals.Set(vi, 1, normals.At(vi, 1)+ny)
			normals.Set(vi, 2, normals.At(vi, 2)+nz)
		}
	}

	for i := 0; i < rows; i++ {
		x, y, z := normals.At(i, 0), normals.At(i, 1), normals.At(i, 2)
		n := math.Sqrt(x*x + y*y + z*z)
		if n < normalEps {
			n = normalEps
		}
		normals.Set(i, 0, x/n)
		normals.Set(i, 1, y/n)
		normals.Set(i, 2, z/n)
	}
	return normals
}
