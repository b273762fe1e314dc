package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines the risk limits applied to live orders.
type Config struct {
	MaxPositionValue float64 `yaml:"max_position_value" json:"max_position_value"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss" json:"max_daily_loss"`
	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions"`
	DedupWindowSec   int     `yaml:"dedup_window_sec" json:"dedup_window_sec"`

	// Signal acceptance thresholds.
	MinConfidence int `yaml:"min_confidence" json:"min_confidence"`
	MinSafety     int `yaml:"min_safety" json:"min_safety"`
}

// DefaultConfig returns the limits used when no config file is present.
func DefaultConfig() Config {
	return Config{
		MaxPositionValue: 500_000,
		MaxDailyLoss:     25_000,
		MaxOpenPositions: 5,
		DedupWindowSec:   5,
		MinConfidence:    50,
		MinSafety:        40,
	}
}

// LoadConfig reads limits from a YAML file, filling gaps from defaults.
// A missing path is not an error; defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read risk config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse risk config: %w", err)
	}
	if cfg.MaxDailyLoss <= 0 {
		cfg.MaxDailyLoss = DefaultConfig().MaxDailyLoss
	}
	if cfg.DedupWindowSec <= 0 {
		cfg.DedupWindowSec = DefaultConfig().DedupWindowSec
	}
	return cfg, nil
}
