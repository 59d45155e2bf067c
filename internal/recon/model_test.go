package recon

import (
	"math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/facemesh/internal/mesh"
	"github.com/dudu/facemesh/internal/params"
)

type fakeEncoder struct {
	out   []float64
	calls int
}

func (f *fakeEncoder) Encode(*ImageTensor) ([]float64, error) {
	f.calls++
	return f.out, nil
}
func (f *fakeEncoder) Close() error { return nil }

type fakeDecoder struct {
	v   *mat.Dense
	rot *mat.Dense

	gotShape, gotExp, gotPose []float64
}

func (f *fakeDecoder) Decode(shape, exp, pose []float64) (*mat.Dense, *mat.Dense, error) {
	f.gotShape, f.gotExp, f.gotPose = shape, exp, pose
	return mat.DenseCopyOf(f.v), mat.DenseCopyOf(f.rot), nil
}
func (f *fakeDecoder) Close() error { return nil }

type fakeDetail struct {
	disp      *mat.Dense
	gotLatent []float64
}

func (f *fakeDetail) Generate(latent []float64) (*mat.Dense, error) {
	f.gotLatent = latent
	return mat.DenseCopyOf(f.disp), nil
}
func (f *fakeDetail) Close() error { return nil }

// flatCoeffs builds a 236-wide coefficient vector with the given
// camera triple and jaw pose, everything else zero.
func flatCoeffs(scale, tx, ty float64, jaw [3]float64) []float64 {
	out := make([]float64, params.Total(params.FlameGroups))
	// offsets: shape 0, tex 100, exp 150, pose 200, cam 206, light 209
	out[203], out[204], out[205] = jaw[0], jaw[1], jaw[2]
	out[206], out[207], out[208] = scale, tx, ty
	return out
}

func identityRotations(n int) *mat.Dense {
	r := mat.NewDense(n, 9, nil)
	for i := 0; i < n; i++ {
		r.Set(i, 0, 1)
		r.Set(i, 4, 1)
		r.Set(i, 8, 1)
	}
	return r
}

func squareMesh() *mat.Dense {
	return mat.NewDense(4, 3, []float64{
		0, 0, 0,
		1, 0, 0,
		1, 1, 0,
		0, 1, 0,
	})
}

func blankImage(t *testing.T) *ImageTensor {
	t.Helper()
	img, err := NewImageTensor(make([]float32, 3*CropHeight*CropWidth), 3, CropHeight, CropWidth)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func coarseOptions() Options {
	return Options{
		Variant:      DecaCoarse,
		ImgWidth:     CropWidth,
		ImgHeight:    CropHeight,
		FlameEncoder: &fakeEncoder{out: flatCoeffs(1, 0, 0, [3]float64{})},
		Decoder:      &fakeDecoder{v: squareMesh(), rot: identityRotations(4)},
	}
}

func TestNewInvalidVariant(t *testing.T) {
	opts := coarseOptions()
	opts.Variant = "deca-mega"
	if _, err := New(opts); err == nil {
		t.Fatal("expected error for unknown variant, got nil")
	}
}

func TestNewMissingCollaborators(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no encoder", func(o *Options) { o.FlameEncoder = nil }},
		{"no decoder", func(o *Options) { o.Decoder = nil }},
		{"emoca without expression encoder", func(o *Options) { o.Variant = EmocaCoarse }},
		{"dense without template", func(o *Options) { o.Variant = DecaDense }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := coarseOptions()
			tc.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Fatal("expected construction error, got nil")
			}
		})
	}
}

func TestReconstructIdentity(t *testing.T) {
	opts := coarseOptions()
	opts.Variant = DecaCoarse
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Identity crop, unit camera, frame size equal to crop size: the
	// output vertices equal the decoder's and the matrix is identity.
	out, err := m.Reconstruct(blankImage(t))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if !mat.EqualApprox(out.V, squareMesh(), 1e-9) {
		t.Errorf("vertices moved under identity reprojection:\n%v", mat.Formatted(out.V))
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(out.Mat.At(i, j)-want) > 1e-9 {
				t.Fatalf("Mat[%d][%d] = %v, want %v", i, j, out.Mat.At(i, j), want)
			}
		}
	}
}

func TestReconstructRejectsWrongShape(t *testing.T) {
	m, err := New(coarseOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	img, err := NewImageTensor(make([]float32, 3*100*100), 3, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reconstruct(img); err == nil {
		t.Fatal("expected error for non-224x224 input, got nil")
	}
}

func TestMissingTformWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	opts := coarseOptions()
	opts.Logger = zap.New(core)

	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Reconstruct(blankImage(t)); err != nil {
			t.Fatalf("Reconstruct %d: %v", i, err)
		}
	}

	warns := logs.FilterMessageSnippet("crop transform").Len()
	if warns != 1 {
		t.Errorf("missing-tform warning logged %d times, want exactly 1", warns)
	}

	// Setting a transform afterwards must be honored without further
	// warnings.
	m.SetCropTransform(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	if _, err := m.Reconstruct(blankImage(t)); err != nil {
		t.Fatalf("Reconstruct with tform: %v", err)
	}
	if got := logs.FilterMessageSnippet("crop transform").Len(); got != 1 {
		t.Errorf("warning count changed to %d after setting tform", got)
	}
}

func TestImgSizeInferredOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	opts := coarseOptions()
	opts.ImgWidth, opts.ImgHeight = 0, 0
	opts.Logger = zap.New(core)

	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logs.FilterMessageSnippet("image size").Len() != 1 {
		t.Error("construction without image size should warn")
	}

	if m.imgW != 0 || m.imgH != 0 {
		t.Fatalf("image size set before first call: %dx%d", m.imgW, m.imgH)
	}
	if _, err := m.Reconstruct(blankImage(t)); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if m.imgW != CropWidth || m.imgH != CropHeight {
		t.Fatalf("inferred image size = %dx%d, want %dx%d", m.imgW, m.imgH, CropWidth, CropHeight)
	}

	// The size sticks for the lifetime of the instance. Documented
	// upstream behavior for fixed-resolution video; mixed-resolution
	// input would silently keep the first size.
	if _, err := m.Reconstruct(blankImage(t)); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if m.imgW != CropWidth || m.imgH != CropHeight {
		t.Fatalf("image size re-inferred to %dx%d", m.imgW, m.imgH)
	}
}

func TestEmocaExpressionOverride(t *testing.T) {
	coeffs := flatCoeffs(1, 0, 0, [3]float64{})
	for i := 150; i < 200; i++ {
		coeffs[i] = 0.5 // coarse expression block, should be ignored
	}
	expOut := make([]float64, 50)
	for i := range expOut {
		expOut[i] = float64(i)
	}

	dec := &fakeDecoder{v: squareMesh(), rot: identityRotations(4)}
	opts := coarseOptions()
	opts.Variant = EmocaCoarse
	opts.FlameEncoder = &fakeEncoder{out: coeffs}
	opts.ExpressionEncoder = &fakeEncoder{out: expOut}
	opts.Decoder = dec

	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Reconstruct(blankImage(t)); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	for i, want := range expOut {
		if dec.gotExp[i] != want {
			t.Fatalf("decoder exp[%d] = %v, want %v (EMOCA override)", i, dec.gotExp[i], want)
		}
	}
}

func TestDenseReconstruction(t *testing.T) {
	jaw := [3]float64{0.1, 0.2, 0.3}
	detailOut := make([]float64, 128)
	for i := range detailOut {
		detailOut[i] = float64(i) / 128
	}

	tmpl := &mesh.DenseTemplate{
		XCoords:     []float64{0, 1, 2},
		YCoords:     []float64{0, 0, 1},
		ValidPixels: []int{0, 2},
		Triangles:   [][3]int{{0, 1, 2}, {0, 2, 3}},
		Barycentric: [][3]float64{
			{1.0 / 3, 1.0 / 3, 1.0 / 3},
			{0.2, 0.3, 0.5},
		},
		Faces: [][3]int{{0, 1, 1}},
	}
	detail := &fakeDetail{disp: mat.NewDense(4, 4, nil)}

	opts := coarseOptions()
	opts.Variant = DecaDense
	opts.FlameEncoder = &fakeEncoder{out: flatCoeffs(1, 0, 0, jaw)}
	opts.DetailEncoder = &fakeEncoder{out: detailOut}
	opts.DetailDecoder = detail
	opts.Template = tmpl
	opts.FixedDisplacement = mat.NewDense(4, 4, nil)
	opts.Topology = &mesh.Topology{Faces: [][3]int{{0, 1, 2}, {0, 2, 3}}}

	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := m.Reconstruct(blankImage(t))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	// One output vertex per valid texel.
	rows, _ := out.V.Dims()
	if rows != len(tmpl.ValidPixels) {
		t.Fatalf("dense vertex count = %d, want %d", rows, len(tmpl.ValidPixels))
	}

	// Detail latent is jaw pose, expression, detail code in order.
	if len(detail.gotLatent) != 3+50+128 {
		t.Fatalf("latent length = %d, want 181", len(detail.gotLatent))
	}
	for i, want := range jaw {
		if detail.gotLatent[i] != want {
			t.Errorf("latent[%d] = %v, want jaw %v", i, detail.gotLatent[i], want)
		}
	}
	for i, want := range detailOut {
		if got := detail.gotLatent[53+i]; got != want {
			t.Fatalf("latent[%d] = %v, want detail %v", 53+i, got, want)
		}
	}
}

func TestFacesByVariant(t *testing.T) {
	coarseFaces := [][3]int{{0, 1, 2}}
	denseFaces := [][3]int{{0, 1, 1}, {1, 0, 1}}

	opts := coarseOptions()
	opts.Topology = &mesh.Topology{Faces: coarseFaces}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Faces(); len(got) != 1 {
		t.Errorf("coarse Faces() = %v, want the head topology", got)
	}

	dOpts := coarseOptions()
	dOpts.Variant = DecaDense
	dOpts.FlameEncoder = &fakeEncoder{out: flatCoeffs(1, 0, 0, [3]float64{})}
	dOpts.DetailEncoder = &fakeEncoder{out: make([]float64, 128)}
	dOpts.DetailDecoder = &fakeDetail{disp: mat.NewDense(4, 4, nil)}
	dOpts.Template = &mesh.DenseTemplate{Faces: denseFaces}
	dOpts.FixedDisplacement = mat.NewDense(4, 4, nil)
	dOpts.Topology = &mesh.Topology{Faces: coarseFaces}
	dm, err := New(dOpts)
	if err != nil {
		t.Fatalf("New dense: %v", err)
	}
	if got := dm.Faces(); len(got) != 2 {
		t.Errorf("dense Faces() = %v, want the template topology", got)
	}
}
