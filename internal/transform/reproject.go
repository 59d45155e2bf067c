package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Reprojection composes the full 4x4 matrix that maps mesh vertices
// from the model's cropped, normalized world frame into the world frame
// of the original image.
//
// The encoder estimates scale and translation of the camera relative to
// a fixed face. With a fixed camera and a moving face, the equivalent
// formulation applies them to the model instead: pose = S * T, applied
// before any projection.
//
// The crop is undone in raster space, where the similarity transform
// was estimated: project world -> cropped NDC -> cropped raster
// (forward, using the fixed crop size), invert the lifted crop matrix
// to land in full-image raster space, then run the inverted
// viewport/ortho pair of the original image size to get back to world
// space.
//
//	forward  = inv(CP) * VP * OP
//	backward = inv(VP' * OP')
//	full     = backward * forward * pose
//
// Matrices apply right to left on column vectors. cam is the encoder's
// [scale, tx, ty] triple; tform the 3x3 crop similarity matrix.
func Reprojection(cam []float64, tform mat.Matrix, cropW, cropH, imgW, imgH float64) (*mat.Dense, error) {
	if len(cam) != 3 {
		return nil, fmt.Errorf("camera parameters have length %d, want 3 [scale, tx, ty]", len(cam))
	}

	pose := mat.NewDense(4, 4, nil)
	pose.Mul(ScaleUniform(cam[0]), Translation(cam[1], cam[2]))

	op := Ortho(cropW, cropH)
	vp := Viewport(cropW, cropH)
	cp := CropLift(tform)

	var cpInv mat.Dense
	if err := cpInv.Inverse(cp); err != nil {
		return nil, fmt.Errorf("crop transform is singular: %w", err)
	}

	var forward mat.Dense
	forward.Mul(vp, op)
	forward.Mul(&cpInv, &forward)

	var vpop, backward mat.Dense
	vpop.Mul(Viewport(imgW, imgH), Ortho(imgW, imgH))
	if err := backward.Inverse(&vpop); err != nil {
		return nil, fmt.Errorf("inverting full-image projection: %w", err)
	}

	full := mat.NewDense(4, 4, nil)
	full.Mul(&backward, &forward)
	full.Mul(full, pose)
	return full, nil
}

// ApplyHomogeneous transforms an N x 3 vertex matrix by a 4x4 matrix:
// vertices are lifted to homogeneous coordinates, right-multiplied by
// the transpose (row vector convention) and the w coordinate dropped.
func ApplyHomogeneous(v *mat.Dense, m *mat.Dense) *mat.Dense {
	rows, _ := v.Dims()
	out := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		x, y, z := v.At(i, 0), v.At(i, 1), v.At(i, 2)
		for j := 0; j < 3; j++ {
			out.Set(i, j, m.At(j, 0)*x+m.At(j, 1)*y+m.At(j, 2)*z+m.At(j, 3))
		}
	}
	return out
}
