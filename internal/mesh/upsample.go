package mesh

import (
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// DenseTemplate is the static per-texel lookup table that drives detail
// upsampling: for every valid texel of the displacement map it records
// the enclosing coarse triangle and the barycentric weights inside it.
// Loaded once at model construction and shared read-only.
type DenseTemplate struct {
	// XCoords and YCoords map texel ids to displacement-map columns
	// and rows.
	XCoords []float64
	YCoords []float64

	// ValidPixels lists the texel ids covered by the face, in the
	// fixed order that defines the dense mesh topology.
	ValidPixels []int

	// Triangles and Barycentric run parallel to ValidPixels.
	Triangles   [][3]int
	Barycentric [][3]float64

	// Faces is the dense triangle list matching the upsampled vertex
	// order.
	Faces [][3]int
}

// LoadDenseTemplate reads a dense template from an npz archive. The
// archive keys follow the upstream distribution: x_coords, y_coords,
// valid_pixel_ids, valid_pixel_3d_faces, valid_pixel_b_coords and f.
func LoadDenseTemplate(path string) (*DenseTemplate, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dense template: %w", err)
	}
	defer r.Close()

	t := &DenseTemplate{}
	if err := r.Read("x_coords", &t.XCoords); err != nil {
		return nil, fmt.Errorf("dense template x_coords: %w", err)
	}
	if err := r.Read("y_coords", &t.YCoords); err != nil {
		return nil, fmt.Errorf("dense template y_coords: %w", err)
	}

	var ids, tris, faces []int64
	var bary []float64
	if err := r.Read("valid_pixel_ids", &ids); err != nil {
		return nil, fmt.Errorf("dense template valid_pixel_ids: %w", err)
	}
	if err := r.Read("valid_pixel_3d_faces", &tris); err != nil {
		return nil, fmt.Errorf("dense template valid_pixel_3d_faces: %w", err)
	}
	if err := r.Read("valid_pixel_b_coords", &bary); err != nil {
		return nil, fmt.Errorf("dense template valid_pixel_b_coords: %w", err)
	}
	if err := r.Read("f", &faces); err != nil {
		return nil, fmt.Errorf("dense template f: %w", err)
	}

	if len(tris) != 3*len(ids) || len(bary) != 3*len(ids) {
		return nil, fmt.Errorf("dense template shape mismatch: %d valid pixels, %d triangle indices, %d barycentric weights",
			len(ids), len(tris), len(bary))
	}

	t.ValidPixels = make([]int, len(ids))
	for i, id := range ids {
		if id < 0 || int(id) >= len(t.XCoords) || int(id) >= len(t.YCoords) {
			return nil, fmt.Errorf("dense template pixel id %d outside coordinate tables", id)
		}
		t.ValidPixels[i] = int(id)
	}
	t.Triangles = groupTriplesInt64(tris)
	t.Faces = groupTriplesInt64(faces)
	t.Barycentric = make([][3]float64, len(ids))
	for i := range t.Barycentric {
		t.Barycentric[i] = [3]float64{bary[i*3], bary[i*3+1], bary[i*3+2]}
	}
	return t, nil
}

// LoadDisplacement reads the fixed UV displacement bias map (an npy
// array, 256x256 for the shipped templates).
func LoadDisplacement(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening displacement map: %w", err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("reading displacement map: %w", err)
	}
	return &m, nil
}

// Upsample produces the dense point cloud for a coarse mesh. For each
// valid texel it interpolates position and normal over the enclosing
// coarse triangle with the precomputed barycentric weights, then
// offsets the interpolated point along the renormalized normal by the
// displacement sampled at that texel. Output rows follow the
// template's valid-pixel order exactly; texels outside the face
// produce no row at all.
func (t *DenseTemplate) Upsample(v, normals, disp *mat.Dense) (*mat.Dense, error) {
	rows, _ := v.Dims()
	dispRows, dispCols := disp.Dims()
	out := mat.NewDense(len(t.ValidPixels), 3, nil)

	for i, pix := range t.ValidPixels {
		tri := t.Triangles[i]
		w := t.Barycentric[i]
		if tri[0] >= rows || tri[1] >= rows || tri[2] >= rows {
			return nil, fmt.Errorf("dense template references vertex %v beyond coarse mesh size %d", tri, rows)
		}

		var p, n [3]float64
		for k := 0; k < 3; k++ {
			for j := 0; j < 3; j++ {
				p[j] += w[k] * v.At(tri[k], j)
				n[j] += w[k] * normals.At(tri[k], j)
			}
		}

		norm := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		if norm < normalEps {
			norm = normalEps
		}

		row := int(t.YCoords[pix])
		col := int(t.XCoords[pix])
		if row < 0 || row >= dispRows || col < 0 || col >= dispCols {
			return nil, fmt.Errorf("dense template texel (%d, %d) outside %dx%d displacement map", row, col, dispRows, dispCols)
		}
		d := disp.At(row, col)

		for j := 0; j < 3; j++ {
			out.Set(i, j, p[j]+d*n[j]/norm)
		}
	}
	return out, nil
}

func groupTriplesInt64(idx []int64) [][3]int {
	out := make([][3]int, len(idx)/3)
	for i := range out {
		out[i] = [3]int{int(idx[i*3]), int(idx[i*3+1]), int(idx[i*3+2])}
	}
	return out
}
