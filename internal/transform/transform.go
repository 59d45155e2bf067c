// Package transform builds the matrices that move FLAME meshes between
// world, NDC and raster space, and composes them into the single
// crop-compensating reprojection matrix.
package transform

import "gonum.org/v1/gonum/mat"

// Near/far planes of the orthographic camera the FLAME encoder was
// trained with. Empirical upstream constants, not re-derived.
const (
	orthoNear = 0.05
	orthoFar  = 100.0
)

// Identity4 returns a 4x4 identity matrix.
func Identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Identity3 returns a 3x3 identity matrix.
func Identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

// Ortho returns the 4x4 orthographic projection matrix mapping world
// coordinates to NDC for an image of nx by ny pixels. The frustum is
// fixed at top=1, bottom=-1 with the horizontal extent following the
// aspect ratio, matching the upstream camera convention.
func Ortho(nx, ny float64) *mat.Dense {
	n, f := orthoNear, orthoFar
	t, b := 1.0, -1.0
	r := nx / ny
	l := -r
	return mat.NewDense(4, 4, []float64{
		2 / (r - l), 0, 0, -(r + l) / (r - l),
		0, 2 / (t - b), 0, -(t + b) / (t - b),
		0, 0, -2 / (f - n), -(f + n) / (f - n),
		0, 0, 0, 1,
	})
}

// Viewport returns the 4x4 matrix mapping NDC to raster coordinates of
// an nx by ny image. Depth is mapped from [-1, 1] to [0, 1]. Note that
// y is not flipped; the encoder's camera convention already accounts
// for the raster y direction.
func Viewport(nx, ny float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		nx / 2, 0, 0, (nx - 1) / 2,
		0, ny / 2, 0, (ny - 1) / 2,
		0, 0, 0.5, 0.5,
		0, 0, 0, 1,
	})
}

// CropLift promotes a 3x3 raster-space similarity transform into a 4x4
// matrix usable in the 3D chain: the 2x2 rotation/scale block and the
// translation column carry over, z passes through untouched.
func CropLift(t3 mat.Matrix) *mat.Dense {
	m := Identity4()
	m.Set(0, 0, t3.At(0, 0))
	m.Set(0, 1, t3.At(0, 1))
	m.Set(1, 0, t3.At(1, 0))
	m.Set(1, 1, t3.At(1, 1))
	m.Set(0, 3, t3.At(0, 2))
	m.Set(1, 3, t3.At(1, 2))
	return m
}

// Translation returns a 4x4 translation by (tx, ty). The encoder never
// estimates z translation, so there is none.
func Translation(tx, ty float64) *mat.Dense {
	m := Identity4()
	m.Set(0, 3, tx)
	m.Set(1, 3, ty)
	return m
}

// ScaleUniform returns a 4x4 uniform scale on x, y and z.
func ScaleUniform(s float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		s, 0, 0, 0,
		0, s, 0, 0,
		0, 0, s, 0,
		0, 0, 0, 1,
	})
}

// LiftRotation embeds a 3x3 rotation into a 4x4 homogeneous matrix.
func LiftRotation(r mat.Matrix) *mat.Dense {
	m := Identity4()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, r.At(i, j))
		}
	}
	return m
}

// MeanRotation collapses per-vertex rotation matrices, stored as N rows
// of 9 row-major values, into a single 3x3. The decoder emits one copy
// of an effectively global rotation per vertex; averaging is a tolerant
// way to fold them back into one matrix.
func MeanRotation(r *mat.Dense) *mat.Dense {
	rows, _ := r.Dims()
	var acc [9]float64
	for i := 0; i < rows; i++ {
		row := r.RawRowView(i)
		for k := 0; k < 9; k++ {
			acc[k] += row[k]
		}
	}
	out := mat.NewDense(3, 3, nil)
	for k := 0; k < 9; k++ {
		out.Set(k/3, k%3, acc[k]/float64(rows))
	}
	return out
}
