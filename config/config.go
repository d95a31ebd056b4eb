// Package config loads the map store tuning parameters from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GridCacheSize    int `yaml:"grid_cache_size"`
	InfoCacheSize    int `yaml:"info_cache_size"`
	SegmentCacheSize int `yaml:"segment_cache_size"`

	// ProcessorIdle is how long the background processor waits for new work
	// before exiting.
	ProcessorIdle time.Duration `yaml:"processor_idle"`

	BusyRetryDelay time.Duration `yaml:"busy_retry_delay"`
	BusyRetryLimit int           `yaml:"busy_retry_limit"`

	// LoadConcurrency bounds the number of grid loads running at once.
	LoadConcurrency int64 `yaml:"load_concurrency"`

	Compression  string `yaml:"compression"`
	MaxZoomLevel int    `yaml:"max_zoom_level"`
}

func Default() Config {
	return Config{
		GridCacheSize:    4096,
		InfoCacheSize:    16384,
		SegmentCacheSize: 64,
		ProcessorIdle:    10 * time.Second,
		BusyRetryDelay:   100 * time.Millisecond,
		BusyRetryLimit:   50,
		LoadConcurrency:  4,
		Compression:      "zstd",
		MaxZoomLevel:     6,
	}
}

// Load reads the YAML file at path. Fields missing from the file keep their
// Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("worldmap: read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("worldmap: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.GridCacheSize <= 0 || c.InfoCacheSize <= 0 || c.SegmentCacheSize <= 0:
		return fmt.Errorf("worldmap: cache sizes must be positive")
	case c.BusyRetryLimit <= 0:
		return fmt.Errorf("worldmap: busy_retry_limit must be positive")
	case c.LoadConcurrency <= 0:
		return fmt.Errorf("worldmap: load_concurrency must be positive")
	case c.MaxZoomLevel < 1 || c.MaxZoomLevel > 30:
		return fmt.Errorf("worldmap: max_zoom_level %d out of range", c.MaxZoomLevel)
	}
	return nil
}
