// Package config holds MindCache's configuration: types, defaults, and the
// validation that runs at Coordinator init. A flat struct with a Default
// constructor, no configuration-framework dependency.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is MindCache's full configuration surface.
type Config struct {
	StoragePath             string  `json:"storage_path"`
	AutoDecayEnabled         bool    `json:"auto_decay_enabled"`
	DecayIntervalHours       float64 `json:"decay_interval_hours"`
	DefaultMemoryTTLHours    float64 `json:"default_memory_ttl_hours"`
	EnableCompression        bool    `json:"enable_compression"`
	MaxMemoriesPerUser       int     `json:"max_memories_per_user"`
	ImportanceThreshold      float64 `json:"importance_threshold"`
	SegmentRollBytes         int64   `json:"segment_roll_bytes"`
	CompactionThreshold      float64 `json:"compaction_threshold"`
	CompactionMinEvictions   int     `json:"compaction_min_evictions"`
	CompressionThresholdBytes int64  `json:"compression_threshold_bytes"`
	IndexSnapshotInterval     float64 `json:"index_snapshot_interval_seconds"`
	AccessFlushInterval       float64 `json:"access_flush_interval_seconds"`
	HalfLifeRecencyDays       float64 `json:"half_life_recency_days"`
	HalfLifeImportanceDays    float64 `json:"half_life_importance_days"`
}

// knownKeys mirrors the JSON field names above; used by Validate to
// reject unknown keys in a config.json.
var knownKeys = map[string]bool{
	"storage_path": true, "auto_decay_enabled": true, "decay_interval_hours": true,
	"default_memory_ttl_hours": true, "enable_compression": true, "max_memories_per_user": true,
	"importance_threshold": true, "segment_roll_bytes": true, "compaction_threshold": true,
	"compaction_min_evictions": true, "compression_threshold_bytes": true,
	"index_snapshot_interval_seconds": true, "access_flush_interval_seconds": true,
	"half_life_recency_days": true, "half_life_importance_days": true,
}

// Default returns a Config with MindCache's documented defaults.
func Default() Config {
	return Config{
		StoragePath:               "./mindcache_data",
		AutoDecayEnabled:           true,
		DecayIntervalHours:         24,
		DefaultMemoryTTLHours:      720,
		EnableCompression:          true,
		MaxMemoriesPerUser:         10000,
		ImportanceThreshold:        0.3,
		SegmentRollBytes:           67108864,
		CompactionThreshold:        0.5,
		CompactionMinEvictions:     1000,
		CompressionThresholdBytes:  1024,
		IndexSnapshotInterval:      60,
		AccessFlushInterval:        10,
		HalfLifeRecencyDays:        14,
		HalfLifeImportanceDays:     30,
	}
}

// Validate checks field bounds and rejects unknown keys when raw carries
// the original JSON document the config was parsed from.
func Validate(c Config, raw map[string]json.RawMessage) error {
	for key := range raw {
		if !knownKeys[key] {
			return fmt.Errorf("unknown config key %q", key)
		}
	}
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path must not be empty")
	}
	if c.MaxMemoriesPerUser <= 0 {
		return fmt.Errorf("max_memories_per_user must be positive")
	}
	if c.ImportanceThreshold < 0 || c.ImportanceThreshold > 1 {
		return fmt.Errorf("importance_threshold must be in [0,1]")
	}
	if c.CompactionThreshold < 0 || c.CompactionThreshold > 1 {
		return fmt.Errorf("compaction_threshold must be in [0,1]")
	}
	if c.SegmentRollBytes <= 0 {
		return fmt.Errorf("segment_roll_bytes must be positive")
	}
	if c.DecayIntervalHours <= 0 {
		return fmt.Errorf("decay_interval_hours must be positive")
	}
	return nil
}

// Load reads and validates a config.json, the frozen-at-first-init file
// holding MindCache's persisted configuration state.
func Load(data []byte) (Config, error) {
	c := Default()
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(c, raw); err != nil {
		return Config{}, err
	}
	return c, nil
}
