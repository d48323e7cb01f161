// Package config loads kguard settings from YAML or JSON files and exposes
// them through a type-safe accessor wrapper.
package config

import (
	"fmt"
	"time"

	"github.com/randalmurphal/kguard/pkg/kguard/irql"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (truncated, only if no fractional part)
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		// Only convert if there's no fractional part
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int: interpreted as seconds
//   - int64: interpreted as seconds
//   - float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Settings are the kguard runtime settings a configuration file can carry.
type Settings struct {
	// PoolCapacity bounds the guarded pool in bytes. Zero means unbounded.
	PoolCapacity uintptr

	// SpinThreshold is the number of failed spin attempts before a
	// FastMutex acquisition yields the processor. Zero keeps the default.
	SpinThreshold uint32

	// JournalPath is the SQLite journal file path. Empty disables the
	// journal.
	JournalPath string

	// InitialLevel is the simulated priority level to start at.
	InitialLevel irql.Level
}

// Settings extracts kguard settings from the configuration.
//
// Recognized keys: pool_capacity (int, bytes), spin_threshold (int),
// journal_path (string), initial_level (string level name).
func (c Config) Settings() (Settings, error) {
	s := Settings{
		PoolCapacity:  uintptr(c.Int("pool_capacity", 0)),
		SpinThreshold: uint32(c.Int("spin_threshold", 0)),
		JournalPath:   c.String("journal_path", ""),
	}

	name := c.String("initial_level", "passive")
	level, err := irql.ParseLevel(name)
	if err != nil {
		return Settings{}, fmt.Errorf("initial_level: %w", err)
	}
	s.InitialLevel = level
	return s, nil
}
