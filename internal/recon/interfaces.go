package recon

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Variant selects the reconstruction model family and detail level.
type Variant string

const (
	DecaCoarse  Variant = "deca-coarse"
	DecaDense   Variant = "deca-dense"
	EmocaCoarse Variant = "emoca-coarse"
	EmocaDense  Variant = "emoca-dense"
)

// ParseVariant validates a variant name against the closed set of
// supported models.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case DecaCoarse, DecaDense, EmocaCoarse, EmocaDense:
		return Variant(s), nil
	}
	return "", fmt.Errorf("variant must be one of %s, %s, %s, %s; got %q",
		DecaCoarse, DecaDense, EmocaCoarse, EmocaDense, s)
}

// Dense reports whether the variant runs the detail network and the
// mesh upsampler.
func (v Variant) Dense() bool {
	return v == DecaDense || v == EmocaDense
}

// Emoca reports whether expression parameters come from the dedicated
// EMOCA expression encoder instead of the coarse head.
func (v Variant) Emoca() bool {
	return v == EmocaCoarse || v == EmocaDense
}

// CoeffEncoder predicts a flat coefficient vector from a normalized
// image tensor.
type CoeffEncoder interface {
	Encode(img *ImageTensor) ([]float64, error)
	Close() error
}

// MeshDecoder maps shape, expression and pose coefficients to coarse
// mesh vertices (N x 3) and the per-vertex rotation matrices (N x 9,
// row-major) the decoder baked into them.
type MeshDecoder interface {
	Decode(shape, exp, pose []float64) (v, rot *mat.Dense, err error)
	Close() error
}

// DetailDecoder generates a UV-space displacement map from the detail
// latent vector.
type DetailDecoder interface {
	Generate(latent []float64) (*mat.Dense, error)
	Close() error
}
