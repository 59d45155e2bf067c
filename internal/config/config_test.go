package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Variant != "emoca-coarse" {
		t.Errorf("default variant = %q, want emoca-coarse", cfg.Model.Variant)
	}
	if cfg.Model.Device != "cpu" {
		t.Errorf("default device = %q, want cpu", cfg.Model.Device)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	src := `
model:
  variant: deca-dense
  device: cuda
  img_width: 1920
  img_height: 1080
crop:
  box_scale: 1.4
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Variant != "deca-dense" {
		t.Errorf("variant = %q, want deca-dense", cfg.Model.Variant)
	}
	if cfg.Model.ImgWidth != 1920 || cfg.Model.ImgHeight != 1080 {
		t.Errorf("img size = %dx%d, want 1920x1080", cfg.Model.ImgWidth, cfg.Model.ImgHeight)
	}
	if cfg.Crop.BoxScale != 1.4 {
		t.Errorf("box scale = %v, want 1.4", cfg.Crop.BoxScale)
	}
	// Untouched fields keep their defaults.
	if cfg.Model.TopologyPath != "data/head_template.obj" {
		t.Errorf("topology path = %q, want default", cfg.Model.TopologyPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}
