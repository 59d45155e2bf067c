package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/facemesh/internal/config"
	"github.com/dudu/facemesh/internal/crop"
	"github.com/dudu/facemesh/internal/inference"
	"github.com/dudu/facemesh/internal/logger"
	"github.com/dudu/facemesh/internal/mesh"
	"github.com/dudu/facemesh/internal/params"
	"github.com/dudu/facemesh/internal/recon"
)

type cliConfig struct {
	Input      string
	Output     string
	ConfigPath string
	Variant    string
	Video      bool
}

func main() {
	cli := parseFlags()

	if cli.Input == "" {
		fmt.Fprintln(os.Stderr, "Error: --input flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() cliConfig {
	cli := cliConfig{}

	flag.StringVar(&cli.Input, "input", "", "Input image or video (required)")
	flag.StringVar(&cli.Input, "i", "", "Input image or video (shorthand)")
	flag.StringVar(&cli.Output, "out", "face.obj", "Output mesh path (.obj or .glb)")
	flag.StringVar(&cli.Output, "o", "face.obj", "Output mesh path (shorthand)")
	flag.StringVar(&cli.ConfigPath, "config", "", "Config file path")
	flag.StringVar(&cli.Variant, "variant", "", "Model variant (overrides config)")
	flag.BoolVar(&cli.Video, "video", false, "Treat input as video and reconstruct every frame")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "facemesh - monocular 3D face reconstruction\n\n")
		fmt.Fprintf(os.Stderr, "Usage: facemesh [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  facemesh --input frame.jpg --out face.glb\n")
		fmt.Fprintf(os.Stderr, "  facemesh --input clip.mp4 --video --variant emoca-dense\n")
	}

	flag.Parse()
	return cli
}

func run(cli cliConfig) error {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return err
	}
	if cli.Variant != "" {
		cfg.Model.Variant = cli.Variant
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.LogFile)
	defer log.Sync()

	if err := inference.Initialize(cfg.Model.OnnxLibrary); err != nil {
		return err
	}
	defer inference.Shutdown()

	cropOpts := crop.DefaultOptions()
	if cfg.Crop.MinFaceSize > 0 {
		cropOpts.MinFaceSize = cfg.Crop.MinFaceSize
	}
	if cfg.Crop.MinScore > 0 {
		cropOpts.MinScore = cfg.Crop.MinScore
	}
	if cfg.Crop.BoxScale > 0 {
		cropOpts.BoxScale = cfg.Crop.BoxScale
	}
	cropper, err := crop.New(cfg.Crop.CascadePath, cropOpts)
	if err != nil {
		return err
	}

	if cli.Video {
		return runVideo(cli, cfg, cropper, log)
	}
	return runImage(cli, cfg, cropper, log)
}

func runImage(cli cliConfig, cfg *config.Config, cropper *crop.Cropper, log *zap.Logger) error {
	frame := gocv.IMRead(cli.Input, gocv.IMReadColor)
	if frame.Empty() {
		return fmt.Errorf("failed to load image: %s", cli.Input)
	}
	defer frame.Close()

	model, err := buildModel(cfg, frame.Cols(), frame.Rows(), log)
	if err != nil {
		return err
	}
	defer model.Close()

	out, err := reconstructFrame(model, cropper, frame)
	if err != nil {
		return err
	}

	if err := mesh.ExportAuto(cli.Output, out.V, model.Faces()); err != nil {
		return err
	}
	log.Info("wrote mesh", zap.String("path", cli.Output))
	return nil
}

func runVideo(cli cliConfig, cfg *config.Config, cropper *crop.Cropper, log *zap.Logger) error {
	capture, err := gocv.VideoCaptureFile(cli.Input)
	if err != nil {
		return fmt.Errorf("failed to open video %s: %w", cli.Input, err)
	}
	defer capture.Close()

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))

	model, err := buildModel(cfg, width, height, log)
	if err != nil {
		return err
	}
	defer model.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	ext := filepath.Ext(cli.Output)
	base := strings.TrimSuffix(cli.Output, ext)

	for i := 0; ; i++ {
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}
		out, err := reconstructFrame(model, cropper, frame)
		if err != nil {
			log.Warn("skipping frame", zap.Int("frame", i), zap.Error(err))
			continue
		}
		path := fmt.Sprintf("%s_%06d%s", base, i, ext)
		if err := mesh.ExportAuto(path, out.V, model.Faces()); err != nil {
			return err
		}
		log.Info("wrote mesh", zap.Int("frame", i), zap.String("path", path))
	}
	return nil
}

func reconstructFrame(model *recon.Model, cropper *crop.Cropper, frame gocv.Mat) (*recon.Result, error) {
	c, err := cropper.CropFace(frame)
	if err != nil {
		return nil, err
	}
	model.SetCropTransform(c.Tform)
	return model.Reconstruct(c.Tensor)
}

// buildModel loads the static assets and ONNX sessions the selected
// variant needs.
func buildModel(cfg *config.Config, imgWidth, imgHeight int, log *zap.Logger) (*recon.Model, error) {
	variant, err := recon.ParseVariant(cfg.Model.Variant)
	if err != nil {
		return nil, err
	}
	device, err := inference.ParseDevice(cfg.Model.Device)
	if err != nil {
		return nil, err
	}

	topology, err := mesh.LoadOBJ(cfg.Model.TopologyPath)
	if err != nil {
		return nil, err
	}

	opts := recon.Options{
		Variant:   variant,
		ImgWidth:  imgWidth,
		ImgHeight: imgHeight,
		Logger:    log,
		Topology:  topology,
	}
	if cfg.Model.ImgWidth > 0 && cfg.Model.ImgHeight > 0 {
		opts.ImgWidth = cfg.Model.ImgWidth
		opts.ImgHeight = cfg.Model.ImgHeight
	}

	opts.FlameEncoder, err = recon.NewOnnxEncoder(cfg.Model.FlameEncoderPath, params.Total(params.FlameGroups), device, log)
	if err != nil {
		return nil, err
	}
	opts.Decoder, err = recon.NewOnnxMeshDecoder(cfg.Model.DecoderPath, device, log)
	if err != nil {
		return nil, err
	}

	if variant.Emoca() {
		opts.ExpressionEncoder, err = recon.NewOnnxEncoder(cfg.Model.ExpressionEncoderPath, 50, device, log)
		if err != nil {
			return nil, err
		}
	}

	if variant.Dense() {
		opts.DetailEncoder, err = recon.NewOnnxEncoder(cfg.Model.DetailEncoderPath, 128, device, log)
		if err != nil {
			return nil, err
		}
		opts.DetailDecoder, err = recon.NewOnnxDetailDecoder(cfg.Model.DetailDecoderPath, device, log)
		if err != nil {
			return nil, err
		}
		opts.Template, err = mesh.LoadDenseTemplate(cfg.Model.DenseTemplatePath)
		if err != nil {
			return nil, err
		}
		opts.FixedDisplacement, err = mesh.LoadDisplacement(cfg.Model.DisplacementPath)
		if err != nil {
			return nil, err
		}
	}

	return recon.New(opts)
}
