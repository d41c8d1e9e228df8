package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Upscale.FaceEnhance {
		t.Error("FaceEnhance should default to false")
	}
	if cfg.Generation.Width != 2*cfg.Generation.Height {
		t.Errorf("default panorama should be 2:1, got %dx%d", cfg.Generation.Width, cfg.Generation.Height)
	}
	if cfg.Timeouts.Upscale <= cfg.Timeouts.Match {
		t.Error("upscale timeout should exceed match timeout")
	}
	if cfg.OutputMode != OutputURL {
		t.Errorf("OutputMode = %q, want %q", cfg.OutputMode, OutputURL)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panorama.yaml")
	yamlBody := `
panoramaModel: acme/pano:abc
generation:
  width: 1000
  height: 500
timeouts:
  generate: 45s
retry:
  maxRetries: 4
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PANORAMA_CONFIG", path)
	t.Setenv("PANORAMA_WIDTH", "1200")
	t.Setenv("TIMEOUT_UPSCALE", "120")
	t.Setenv("MAX_RETRIES", "99") // out of range, ignored

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PanoramaModel != "acme/pano:abc" {
		t.Errorf("PanoramaModel = %q", cfg.PanoramaModel)
	}
	if cfg.Generation.Width != 1200 {
		t.Errorf("Width = %d, want 1200 (env overrides file)", cfg.Generation.Width)
	}
	if cfg.Generation.Height != 500 {
		t.Errorf("Height = %d, want 500", cfg.Generation.Height)
	}
	if cfg.Timeouts.Generate != 45*time.Second {
		t.Errorf("Generate timeout = %v, want 45s", cfg.Timeouts.Generate)
	}
	if cfg.Timeouts.Upscale != 120*time.Second {
		t.Errorf("Upscale timeout = %v, want 120s", cfg.Timeouts.Upscale)
	}
	if cfg.Retry.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want 4", cfg.Retry.MaxRetries)
	}
	// Unchanged defaults survive the file.
	if cfg.UpscaleModel != DefaultUpscaleModel {
		t.Errorf("UpscaleModel = %q", cfg.UpscaleModel)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.ReplicateToken = "r8_x"
	valid.OpenAIKey = "sk-x"
	valid.PineconeKey = "pc"
	valid.PineconeHost = "https://idx.svc.pinecone.io"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no replicate", func(c *Config) { c.ReplicateToken = "" }, true},
		{"gemini without key", func(c *Config) { c.Enhancer = EnhancerGemini }, true},
		{"pgvector without arns", func(c *Config) { c.Catalog = CatalogPgvector }, true},
		{"unknown catalog", func(c *Config) { c.Catalog = "faiss" }, true},
		{"bad output mode", func(c *Config) { c.OutputMode = "both" }, true},
		{"inline", func(c *Config) { c.OutputMode = OutputInline }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && pipeerr.KindOf(err) != pipeerr.KindValidation {
				t.Errorf("KindOf() = %v, want validation", pipeerr.KindOf(err))
			}
		})
	}
}
