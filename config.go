package cmux

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values.
const (
	// DefaultStalenessThreshold partitions workspaces into recent and old:
	// a workspace whose last activity is at least this old is "old".
	DefaultStalenessThreshold = 1 * time.Hour

	// DefaultCharsPerToken is the heuristic divisor used for instant token
	// estimates before exact tokenization is available.
	DefaultCharsPerToken = 4

	// DefaultTokenBufferThreshold is the buffered character count at which
	// a message's text is sent for exact tokenization.
	DefaultTokenBufferThreshold = 400

	// DefaultTPSWindow is the trailing window for throughput measurement.
	DefaultTPSWindow = 10 * time.Second

	// DefaultTruncationSentinel is appended to a compaction summary that
	// was accepted before the summarizer finished.
	DefaultTruncationSentinel = "\n\n[summary truncated]"

	// DefaultSummarizerModel is the model used to generate compaction
	// summaries.
	DefaultSummarizerModel = "claude-3-5-haiku-20241022"
)

// Config holds core configuration. The zero value is not usable; start
// from DefaultConfig or LoadConfig.
type Config struct {
	// StalenessThreshold drives recent/old workspace partitioning.
	// A recency timestamp at least this old means the workspace is old.
	StalenessThreshold time.Duration

	// CharsPerToken is the heuristic characters-per-token divisor.
	CharsPerToken int

	// TokenBufferThreshold is the buffered character count that triggers
	// exact tokenization for a message.
	TokenBufferThreshold int

	// TPSWindow is the trailing window for tokens-per-second measurement.
	TPSWindow time.Duration

	// TruncationSentinel marks an accepted-early compaction summary.
	TruncationSentinel string

	// SummarizerModel is the model used for compaction summaries.
	SummarizerModel string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StalenessThreshold:   DefaultStalenessThreshold,
		CharsPerToken:        DefaultCharsPerToken,
		TokenBufferThreshold: DefaultTokenBufferThreshold,
		TPSWindow:            DefaultTPSWindow,
		TruncationSentinel:   DefaultTruncationSentinel,
		SummarizerModel:      DefaultSummarizerModel,
	}
}

// fileConfig is the TOML schema. Durations are written as strings
// ("30m", "1h30m"); absent keys keep their defaults.
type fileConfig struct {
	StalenessThreshold   string  `toml:"staleness_threshold"`
	CharsPerToken        *int    `toml:"chars_per_token"`
	TokenBufferThreshold *int    `toml:"token_buffer_threshold"`
	TPSWindow            string  `toml:"tps_window"`
	TruncationSentinel   *string `toml:"truncation_sentinel"`
	SummarizerModel      *string `toml:"summarizer_model"`
}

// LoadConfig reads a TOML config file and overlays it on the defaults.
func LoadConfig(path string) (*Config, error) {
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.StalenessThreshold != "" {
		d, err := time.ParseDuration(file.StalenessThreshold)
		if err != nil {
			return nil, fmt.Errorf("%w: staleness_threshold: %v", ErrInvalidConfig, err)
		}
		cfg.StalenessThreshold = d
	}
	if file.TPSWindow != "" {
		d, err := time.ParseDuration(file.TPSWindow)
		if err != nil {
			return nil, fmt.Errorf("%w: tps_window: %v", ErrInvalidConfig, err)
		}
		cfg.TPSWindow = d
	}
	if file.CharsPerToken != nil {
		cfg.CharsPerToken = *file.CharsPerToken
	}
	if file.TokenBufferThreshold != nil {
		cfg.TokenBufferThreshold = *file.TokenBufferThreshold
	}
	if file.TruncationSentinel != nil {
		cfg.TruncationSentinel = *file.TruncationSentinel
	}
	if file.SummarizerModel != nil {
		cfg.SummarizerModel = *file.SummarizerModel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("%w: staleness_threshold must be positive", ErrInvalidConfig)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("%w: chars_per_token must be positive", ErrInvalidConfig)
	}
	if c.TokenBufferThreshold <= 0 {
		return fmt.Errorf("%w: token_buffer_threshold must be positive", ErrInvalidConfig)
	}
	if c.TPSWindow <= 0 {
		return fmt.Errorf("%w: tps_window must be positive", ErrInvalidConfig)
	}
	return nil
}
