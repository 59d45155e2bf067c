// Package crop finds a face in a frame, estimates the similarity
// transform of its crop and produces the normalized 224x224 input
// tensor for the reconstruction encoders.
package crop

import (
	"fmt"
	"image"
	"math"
	"os"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/facemesh/internal/recon"
)

// Options controls detection and cropping.
type Options struct {
	// MinFaceSize is the smallest detection window in pixels.
	MinFaceSize int
	// ShiftFactor and ScaleFactor steer the cascade sweep.
	ShiftFactor float64
	ScaleFactor float64
	// IoUThreshold clusters overlapping detections.
	IoUThreshold float64
	// MinScore rejects weak detections.
	MinScore float64
	// BoxScale grows the detected box before cropping so the whole
	// head fits the 224x224 input.
	BoxScale float64
}

// DefaultOptions returns the detection settings the FLAME crop was
// tuned with.
func DefaultOptions() Options {
	return Options{
		MinFaceSize:  100,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinScore:     5.0,
		BoxScale:     1.25,
	}
}

// Crop is one cropped face: the normalized encoder input and the 3x3
// similarity matrix mapping original raster space to crop raster
// space.
type Crop struct {
	Tensor *recon.ImageTensor
	Tform  *mat.Dense
}

// Cropper detects faces with a pigo cascade and warps them to the
// fixed crop size.
type Cropper struct {
	classifier *pigo.Pigo
	opts       Options
}

// New loads the face cascade from disk and builds a Cropper.
func New(cascadePath string, opts Options) (*Cropper, error) {
	cascade, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("reading face cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpacking face cascade: %w", err)
	}
	return &Cropper{classifier: classifier, opts: opts}, nil
}

// CropFace finds the strongest face in the frame and returns its crop.
func (c *Cropper) CropFace(frame gocv.Mat) (*Crop, error) {
	det, err := c.detect(frame)
	if err != nil {
		return nil, err
	}

	size := float64(det.Scale) * c.opts.BoxScale
	tform := CropTransform(float64(det.Col), float64(det.Row), size, recon.CropWidth)

	tensor, err := warpToTensor(frame, tform)
	if err != nil {
		return nil, err
	}
	return &Crop{Tensor: tensor, Tform: tform}, nil
}

// detect runs the cascade and picks the highest-scoring cluster.
func (c *Cropper) detect(frame gocv.Mat) (pigo.Detection, error) {
	src, err := frame.ToImage()
	if err != nil {
		return pigo.Detection{}, fmt.Errorf("converting frame: %w", err)
	}

	bounds := src.Bounds()
	cols, rows := bounds.Max.X, bounds.Max.Y
	params := pigo.CascadeParams{
		MinSize:     c.opts.MinFaceSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: c.opts.ShiftFactor,
		ScaleFactor: c.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := c.classifier.RunCascade(params, 0)
	dets = c.classifier.ClusterDetections(dets, c.opts.IoUThreshold)

	best := pigo.Detection{Q: -1}
	for _, d := range dets {
		if float64(d.Q) >= c.opts.MinScore && d.Q > best.Q {
			best = d
		}
	}
	if best.Q < 0 {
		return pigo.Detection{}, fmt.Errorf("no face detected")
	}
	return best, nil
}

// CropTransform builds the 3x3 similarity matrix that maps a square
// box of the given size centered at (cx, cy) in the original frame
// onto a cropSize x cropSize raster. Uniform scale and translation
// only; the cascade detector estimates no rotation.
func CropTransform(cx, cy, size, cropSize float64) *mat.Dense {
	s := cropSize / size
	left := cx - size/2
	top := cy - size/2
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * left,
		0, s, -s * top,
		0, 0, 1,
	})
}

// warpToTensor applies the crop transform to the frame and converts
// the 224x224 result to a normalized RGB CHW tensor.
func warpToTensor(frame gocv.Mat, tform *mat.Dense) (*recon.ImageTensor, error) {
	warp := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer warp.Close()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			warp.SetDoubleAt(i, j, tform.At(i, j))
		}
	}

	cropped := gocv.NewMat()
	defer cropped.Close()
	gocv.WarpAffine(frame, &cropped, warp, image.Pt(recon.CropWidth, recon.CropHeight))

	// BGR to RGB, scale to [0, 1], HWC to CHW.
	blob := gocv.BlobFromImage(cropped, 1.0/255.0,
		image.Pt(recon.CropWidth, recon.CropHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data := bytesToFloat32(blob.ToBytes())
	return recon.NewImageTensor(data, 3, recon.CropHeight, recon.CropWidth)
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
