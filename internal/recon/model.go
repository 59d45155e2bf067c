// Package recon reconstructs a 3D FLAME face mesh from a cropped face
// image and places it back in the original image's coordinate frame.
package recon

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/facemesh/internal/mesh"
	"github.com/dudu/facemesh/internal/params"
	"github.com/dudu/facemesh/internal/transform"
)

// Crop size the encoders were trained on.
const (
	CropWidth  = 224
	CropHeight = 224
)

// Result is one reconstruction: vertices in original-image world
// coordinates and the composed 4x4 local-to-world matrix (reprojection,
// camera pose and the decoder's global rotation).
type Result struct {
	V   *mat.Dense
	Mat *mat.Dense
}

// Options configures a Model. The encoder and decoder collaborators
// are black boxes; only the variant decides which of them must be
// present.
type Options struct {
	Variant Variant

	// Original (pre-crop) frame size. Zero means unknown: it is then
	// inferred from the first reconstructed image and reprojection
	// degenerates to cropped-image space.
	ImgWidth  int
	ImgHeight int

	Logger *zap.Logger

	FlameEncoder      CoeffEncoder
	ExpressionEncoder CoeffEncoder // emoca variants
	DetailEncoder     CoeffEncoder // dense variants
	Decoder           MeshDecoder
	DetailDecoder     DetailDecoder // dense variants

	Topology          *mesh.Topology
	Template          *mesh.DenseTemplate // dense variants
	FixedDisplacement *mat.Dense          // dense variants

	// Groups overrides the coefficient layout; defaults to
	// params.FlameGroups.
	Groups []params.Group
}

// Model orchestrates encode, decompose, decode, optional detail
// upsampling and reprojection.
//
// A Model is not safe for concurrent use: the lazily inferred image
// size and the one-shot warning flag are unguarded instance state.
type Model struct {
	variant Variant
	dense   bool
	emoca   bool

	imgW, imgH  int
	tform       *mat.Dense
	warnedTform bool

	log *zap.Logger

	flameEnc  CoeffEncoder
	expEnc    CoeffEncoder
	detailEnc CoeffEncoder
	decoder   MeshDecoder
	detailDec DetailDecoder

	topology  *mesh.Topology
	template  *mesh.DenseTemplate
	fixedDisp *mat.Dense

	groups []params.Group
}

// New validates the configuration and builds a Model. Configuration
// errors (unknown variant, missing collaborators for the selected
// variant) are fatal to the instance.
func New(opts Options) (*Model, error) {
	variant, err := ParseVariant(string(opts.Variant))
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	m := &Model{
		variant:   variant,
		dense:     variant.Dense(),
		emoca:     variant.Emoca(),
		imgW:      opts.ImgWidth,
		imgH:      opts.ImgHeight,
		log:       log,
		flameEnc:  opts.FlameEncoder,
		expEnc:    opts.ExpressionEncoder,
		detailEnc: opts.DetailEncoder,
		decoder:   opts.Decoder,
		detailDec: opts.DetailDecoder,
		topology:  opts.Topology,
		template:  opts.Template,
		fixedDisp: opts.FixedDisplacement,
		groups:    opts.Groups,
	}
	if m.groups == nil {
		m.groups = params.FlameGroups
	}

	if m.flameEnc == nil || m.decoder == nil {
		return nil, fmt.Errorf("variant %s requires a coefficient encoder and a mesh decoder", variant)
	}
	if m.emoca && m.expEnc == nil {
		return nil, fmt.Errorf("variant %s requires an expression encoder", variant)
	}
	if m.dense {
		if m.detailEnc == nil || m.detailDec == nil {
			return nil, fmt.Errorf("variant %s requires the detail encoder and decoder", variant)
		}
		if m.template == nil || m.fixedDisp == nil {
			return nil, fmt.Errorf("variant %s requires the dense template and fixed displacement map", variant)
		}
		if m.topology == nil {
			return nil, fmt.Errorf("variant %s requires the head topology for normal computation", variant)
		}
	}

	if m.imgW == 0 || m.imgH == 0 {
		log.Warn("original image size not set; reconstructions can only be placed in cropped-image space")
	}
	return m, nil
}

// Variant returns the model variant.
func (m *Model) Variant() Variant { return m.variant }

// SetCropTransform sets the 3x3 similarity matrix mapping the original
// frame's raster space to the cropped input's raster space. It must be
// refreshed by the caller before each reconstruction of a new frame;
// no validation is performed here.
func (m *Model) SetCropTransform(t *mat.Dense) {
	m.tform = t
}

// Faces returns the triangle list matching Reconstruct's vertex order:
// the dense template topology for dense variants, the coarse head
// topology otherwise.
func (m *Model) Faces() [][3]int {
	if m.dense {
		return m.template.Faces
	}
	return m.topology.Faces
}

// Reconstruct runs the full pipeline on a single normalized
// 3 x 224 x 224 image tensor.
func (m *Model) Reconstruct(img *ImageTensor) (*Result, error) {
	if err := img.check(3, CropHeight, CropWidth); err != nil {
		return nil, err
	}

	// Image size was never supplied: assume the input is uncropped
	// and adopt its dimensions. Deliberately sticky across calls,
	// matching the upstream behavior for fixed-resolution video.
	if m.imgW == 0 || m.imgH == 0 {
		m.imgW, m.imgH = img.Width, img.Height
	}

	coeffs, err := m.encode(img)
	if err != nil {
		return nil, err
	}

	shape := coeffs["shape"].RawRowView(0)
	exp := coeffs["exp"].RawRowView(0)
	pose := coeffs["pose"].RawRowView(0)
	cam := coeffs["cam"].RawRowView(0)

	v, rot, err := m.decoder.Decode(shape, exp, pose)
	if err != nil {
		return nil, fmt.Errorf("decoding mesh: %w", err)
	}

	if m.dense {
		v, err = m.upsample(v, exp, pose, coeffs["detail"].RawRowView(0))
		if err != nil {
			return nil, err
		}
	}

	tform := m.cropTransform()
	full, err := transform.Reprojection(cam, tform, CropWidth, CropHeight, float64(m.imgW), float64(m.imgH))
	if err != nil {
		return nil, fmt.Errorf("building reprojection: %w", err)
	}

	out := transform.ApplyHomogeneous(v, full)

	// Rotation is already baked into the vertex positions by the
	// decoder; fold it into the returned matrix so consumers get one
	// complete local-to-world transform.
	full.Mul(full, transform.LiftRotation(transform.MeanRotation(rot)))

	return &Result{V: out, Mat: full}, nil
}

// encode runs the encoders and decomposes the coefficient vector into
// named groups.
func (m *Model) encode(img *ImageTensor) (map[string]*mat.Dense, error) {
	flat, err := m.flameEnc.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	enc := mat.NewDense(1, len(flat), flat)
	coeffs, err := params.Decompose(enc, m.groups)
	if err != nil {
		return nil, err
	}

	if m.emoca {
		exp, err := m.expEnc.Encode(img)
		if err != nil {
			return nil, fmt.Errorf("encoding expression: %w", err)
		}
		coeffs["exp"] = mat.NewDense(1, len(exp), exp)
	}

	if m.dense {
		detail, err := m.detailEnc.Encode(img)
		if err != nil {
			return nil, fmt.Errorf("encoding detail: %w", err)
		}
		coeffs["detail"] = mat.NewDense(1, len(detail), detail)
	}
	return coeffs, nil
}

// upsample adds high-frequency displacement detail to the coarse mesh.
func (m *Model) upsample(v *mat.Dense, exp, pose, detail []float64) (*mat.Dense, error) {
	// Detail latent is jaw pose, expression, detail code, in that
	// order.
	latent := make([]float64, 0, 3+len(exp)+len(detail))
	latent = append(latent, pose[3:6]...)
	latent = append(latent, exp...)
	latent = append(latent, detail...)

	uvZ, err := m.detailDec.Generate(latent)
	if err != nil {
		return nil, fmt.Errorf("generating detail map: %w", err)
	}

	var disp mat.Dense
	disp.Add(uvZ, m.fixedDisp)

	normals := mesh.VertexNormals(v, m.topology.Faces)
	dense, err := m.template.Upsample(v, normals, &disp)
	if err != nil {
		return nil, fmt.Errorf("upsampling mesh: %w", err)
	}
	return dense, nil
}

// cropTransform returns the caller-set crop matrix, or identity with a
// one-time warning when it was never supplied.
func (m *Model) cropTransform() *mat.Dense {
	if m.tform != nil {
		return m.tform
	}
	if !m.warnedTform {
		m.log.Warn("crop transform not set; reconstructing in cropped-image space only")
		m.warnedTform = true
	}
	return transform.Identity3()
}

// Close releases the encoder and decoder collaborators.
func (m *Model) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{m.flameEnc, m.expEnc, m.detailEnc, m.decoder, m.detailDec} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
