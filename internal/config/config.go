// Package config loads the deployment-specific settings that aren't wire-
// format invariants: default strictness, which reserved-id table to use for
// Dynamic Schema Exchange, and the recursion guard depth. The file is
// always optional; Default returns safe values with no file at all.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ReservedIDMapping selects between the two tables dynschema exposes for
// Open Question #1 (SPEC_FULL §4.1).
type ReservedIDMapping string

const (
	AsDocumented ReservedIDMapping = "as-documented"
	AsShipped    ReservedIDMapping = "as-shipped"
)

// Config holds the settings a caller may override via an optional TOML
// file; every field has a safe zero-config default via Default().
type Config struct {
	StrictDefault     bool              `toml:"strict_default"`
	ReservedIDMapping ReservedIDMapping `toml:"reserved_id_mapping"`
	MaxRecursionDepth int               `toml:"max_recursion_depth"`
}

// Default returns the zero-config defaults: strict decoding, the as-shipped
// reserved-id table (matching what the self-schema fixtures exercise), and
// a MaxRecursionDepth of 64. MaxRecursionDepth is loaded and validated, but
// no codec and not the resolver reads it.
func Default() Config {
	return Config{
		StrictDefault:     true,
		ReservedIDMapping: AsShipped,
		MaxRecursionDepth: 64,
	}
}

// Load reads and parses a TOML config file at path, filling in Default()
// for any field the file doesn't set, then validating the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.ReservedIDMapping {
	case AsDocumented, AsShipped:
	default:
		return fmt.Errorf("unknown reserved_id_mapping %q", cfg.ReservedIDMapping)
	}
	if cfg.MaxRecursionDepth < 1 {
		return fmt.Errorf("max_recursion_depth must be >= 1, got %d", cfg.MaxRecursionDepth)
	}
	return nil
}
