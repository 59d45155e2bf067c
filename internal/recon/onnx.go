package recon

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/facemesh/internal/inference"
)

// Vertex count of the coarse FLAME topology.
const CoarseVertexCount = 5023

// Side length of the UV displacement maps shipped with the dense
// templates.
const DetailMapSize = 256

// OnnxEncoder runs a ResNet coefficient encoder exported to ONNX.
type OnnxEncoder struct {
	sess    *inference.Session
	outSize int
}

// NewOnnxEncoder opens an encoder model producing outSize coefficients
// per image.
func NewOnnxEncoder(modelPath string, outSize int, device inference.Device, log *zap.Logger) (*OnnxEncoder, error) {
	sess, err := inference.NewSession(modelPath, []string{"image"}, []string{"params"}, device, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}
	return &OnnxEncoder{sess: sess, outSize: outSize}, nil
}

// Encode runs the encoder on a normalized CHW image tensor.
func (e *OnnxEncoder) Encode(img *ImageTensor) ([]float64, error) {
	input, err := inference.CreateTensor(
		[]int64{1, int64(img.Channels), int64(img.Height), int64(img.Width)}, img.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := inference.CreateEmptyTensor[float32]([]int64{1, int64(e.outSize)})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.sess.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("encoder inference failed: %w", err)
	}
	return toFloat64(output.GetData()), nil
}

// Close releases the session.
func (e *OnnxEncoder) Close() error { return e.sess.Destroy() }

// OnnxMeshDecoder runs the FLAME shape/expression/pose decoder
// exported to ONNX. Outputs are the coarse vertices and the per-vertex
// rotation matrices baked into them.
type OnnxMeshDecoder struct {
	sess *inference.Session
}

// NewOnnxMeshDecoder opens the FLAME decoder model.
func NewOnnxMeshDecoder(modelPath string, device inference.Device, log *zap.Logger) (*OnnxMeshDecoder, error) {
	sess, err := inference.NewSession(modelPath,
		[]string{"shape", "exp", "pose"},
		[]string{"vertices", "rotation"},
		device, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder session: %w", err)
	}
	return &OnnxMeshDecoder{sess: sess}, nil
}

// Decode maps coefficients to vertices (N x 3) and rotations (N x 9).
func (d *OnnxMeshDecoder) Decode(shape, exp, pose []float64) (*mat.Dense, *mat.Dense, error) {
	inputs := make([]ort.Value, 3)
	for i, block := range [][]float64{shape, exp, pose} {
		t, err := inference.CreateTensor([]int64{1, int64(len(block))}, toFloat32(block))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		defer t.Destroy()
		inputs[i] = t
	}

	verts, err := inference.CreateEmptyTensor[float32]([]int64{1, CoarseVertexCount, 3})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vertex tensor: %w", err)
	}
	defer verts.Destroy()

	rots, err := inference.CreateEmptyTensor[float32]([]int64{1, CoarseVertexCount, 3, 3})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rotation tensor: %w", err)
	}
	defer rots.Destroy()

	if err := d.sess.Run(inputs, []ort.Value{verts, rots}); err != nil {
		return nil, nil, fmt.Errorf("decoder inference failed: %w", err)
	}

	v := mat.NewDense(CoarseVertexCount, 3, toFloat64(verts.GetData()))
	r := mat.NewDense(CoarseVertexCount, 9, toFloat64(rots.GetData()))
	return v, r, nil
}

// Close releases the session.
func (d *OnnxMeshDecoder) Close() error { return d.sess.Destroy() }

// OnnxDetailDecoder runs the detail displacement generator exported to
// ONNX.
type OnnxDetailDecoder struct {
	sess *inference.Session
}

// NewOnnxDetailDecoder opens the detail generator model.
func NewOnnxDetailDecoder(modelPath string, device inference.Device, log *zap.Logger) (*OnnxDetailDecoder, error) {
	sess, err := inference.NewSession(modelPath, []string{"latent"}, []string{"uv_z"}, device, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create detail session: %w", err)
	}
	return &OnnxDetailDecoder{sess: sess}, nil
}

// Generate maps the detail latent to a UV displacement map.
func (d *OnnxDetailDecoder) Generate(latent []float64) (*mat.Dense, error) {
	input, err := inference.CreateTensor([]int64{1, int64(len(latent))}, toFloat32(latent))
	if err != nil {
		return nil, fmt.Errorf("failed to create latent tensor: %w", err)
	}
	defer input.Destroy()

	output, err := inference.CreateEmptyTensor[float32]([]int64{1, 1, DetailMapSize, DetailMapSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create displacement tensor: %w", err)
	}
	defer output.Destroy()

	if err := d.sess.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("detail inference failed: %w", err)
	}
	return mat.NewDense(DetailMapSize, DetailMapSize, toFloat64(output.GetData())), nil
}

// Close releases the session.
func (d *OnnxDetailDecoder) Close() error { return d.sess.Destroy() }

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(data []float64) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}
