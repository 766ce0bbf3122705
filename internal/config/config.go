// Package config loads the JSON tuning file shared by the command-line
// tools. Fields omitted from the JSON retain their defaults, so partial
// configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lvdscan/internal/serialsource"
	"github.com/banshee-data/lvdscan/internal/video"
)

// Config is the root configuration for the replay and dump tools. The
// schema uses pointers so an omitted field is distinguishable from an
// explicit zero.
type Config struct {
	// Variant selects the sensor protocol: "nichia" or "osram".
	Variant *string `json:"variant,omitempty"`

	// Replay pacing.
	SpeedMultiplier *float64 `json:"speed_multiplier,omitempty"`
	MaxWait         *string  `json:"max_wait,omitempty"` // duration string like "1s"
	MinWait         *string  `json:"min_wait,omitempty"` // duration string like "1ms"

	// Serial source settings.
	Cooked *bool                     `json:"cooked,omitempty"` // bridge cooked-frame mode
	Serial *serialsource.PortOptions `json:"serial,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a Config from a JSON file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB).
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Variant != nil {
		if _, ok := video.VariantByName(*c.Variant); !ok {
			return fmt.Errorf("unknown variant %q", *c.Variant)
		}
	}

	if c.SpeedMultiplier != nil && *c.SpeedMultiplier <= 0 {
		return fmt.Errorf("speed_multiplier must be positive, got %f", *c.SpeedMultiplier)
	}

	if c.MaxWait != nil && *c.MaxWait != "" {
		if _, err := time.ParseDuration(*c.MaxWait); err != nil {
			return fmt.Errorf("invalid max_wait '%s': %w", *c.MaxWait, err)
		}
	}
	if c.MinWait != nil && *c.MinWait != "" {
		if _, err := time.ParseDuration(*c.MinWait); err != nil {
			return fmt.Errorf("invalid min_wait '%s': %w", *c.MinWait, err)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return err
		}
	}
	return nil
}

// GetVariant resolves the configured protocol variant.
func (c *Config) GetVariant() video.Variant {
	if c.Variant == nil {
		return video.Nichia // default
	}
	v, ok := video.VariantByName(*c.Variant)
	if !ok {
		return video.Nichia
	}
	return v
}

// GetSpeedMultiplier returns the speed_multiplier value or the default.
func (c *Config) GetSpeedMultiplier() float64 {
	if c.SpeedMultiplier == nil {
		return 1.0 // real-time
	}
	return *c.SpeedMultiplier
}

// GetMaxWait parses and returns max_wait as a time.Duration.
func (c *Config) GetMaxWait() time.Duration {
	return c.duration(c.MaxWait, time.Second)
}

// GetMinWait parses and returns min_wait as a time.Duration.
func (c *Config) GetMinWait() time.Duration {
	return c.duration(c.MinWait, time.Millisecond)
}

// GetCooked returns the cooked value or the default.
func (c *Config) GetCooked() bool {
	if c.Cooked == nil {
		return true // the bridge defaults to cooked output
	}
	return *c.Cooked
}

// GetSerial returns the serial port options or the bridge defaults.
func (c *Config) GetSerial() serialsource.PortOptions {
	if c.Serial == nil {
		return serialsource.BridgeOptions()
	}
	return *c.Serial
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}
