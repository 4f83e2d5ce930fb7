package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Size is a byte count. In TOML it may be an integer or a string such as "32KB".
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler for string sizes
func (s *Size) UnmarshalText(text []byte) error {
	v, err := parseSize(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*s = Size(v)
	return nil
}

// LoadTOML decodes the TOML file at path on top of the defaults. Unknown
// keys are rejected.
//
//	[storage]
//	dir = ".intmaps"
//	segment_size = "32KB"
//
//	[enumerator]
//	include = ["**/*.go"]
func LoadTOML(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	cfg.Storage.Dir = resolveDir(filepath.Dir(path), cfg.Storage.Dir)
	return cfg, nil
}
