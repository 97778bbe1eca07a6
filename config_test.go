package cmux

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
staleness_threshold = "30m"
chars_per_token = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StalenessThreshold != 30*time.Minute {
		t.Errorf("staleness = %v, want 30m", cfg.StalenessThreshold)
	}
	if cfg.CharsPerToken != 5 {
		t.Errorf("chars_per_token = %d, want 5", cfg.CharsPerToken)
	}
	// Untouched keys keep defaults.
	if cfg.TokenBufferThreshold != DefaultTokenBufferThreshold {
		t.Errorf("token_buffer_threshold = %d, want default", cfg.TokenBufferThreshold)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CharsPerToken = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
