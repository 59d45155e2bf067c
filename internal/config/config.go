// Package config handles configuration loading for the facemesh tool.
package config

// Config holds all tool settings.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Crop    CropConfig    `yaml:"crop"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds variant, device and asset paths.
type ModelConfig struct {
	Variant string `yaml:"variant"`
	Device  string `yaml:"device"`

	// OnnxLibrary points at the onnxruntime shared library; empty
	// keeps the platform default.
	OnnxLibrary string `yaml:"onnx_library"`

	FlameEncoderPath      string `yaml:"flame_encoder"`
	ExpressionEncoderPath string `yaml:"expression_encoder"`
	DetailEncoderPath     string `yaml:"detail_encoder"`
	DecoderPath           string `yaml:"decoder"`
	DetailDecoderPath     string `yaml:"detail_decoder"`

	TopologyPath      string `yaml:"topology"`
	DenseTemplatePath string `yaml:"dense_template"`
	DisplacementPath  string `yaml:"displacement"`

	// Original frame size; zero means infer from the first frame.
	ImgWidth  int `yaml:"img_width"`
	ImgHeight int `yaml:"img_height"`
}

// CropConfig holds face detection settings.
type CropConfig struct {
	CascadePath string  `yaml:"cascade"`
	MinFaceSize int     `yaml:"min_face_size"`
	MinScore    float64 `yaml:"min_score"`
	BoxScale    float64 `yaml:"box_scale"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Variant:               "emoca-coarse",
			Device:                "cpu",
			FlameEncoderPath:      "models/flame_encoder.onnx",
			ExpressionEncoderPath: "models/expression_encoder.onnx",
			DetailEncoderPath:     "models/detail_encoder.onnx",
			DecoderPath:           "models/flame_decoder.onnx",
			DetailDecoderPath:     "models/detail_decoder.onnx",
			TopologyPath:          "data/head_template.obj",
			DenseTemplatePath:     "data/texture_data_256.npz",
			DisplacementPath:      "data/fixed_displacement_256.npy",
		},
		Crop: CropConfig{
			CascadePath: "data/facefinder",
			MinFaceSize: 100,
			MinScore:    5.0,
			BoxScale:    1.25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
