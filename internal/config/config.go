package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/intmaps/internal/ehmap"
	"github.com/standardbeagle/intmaps/internal/multimap"
)

// ConfigFileName is looked up in the working directory and in $HOME
const ConfigFileName = ".intmaps.kdl"

// DefaultDir holds the map and enumerator files when no dir is configured
const DefaultDir = ".intmaps"

type Config struct {
	Version     int         `toml:"version"`
	Storage     Storage     `toml:"storage"`
	Multimap    Multimap    `toml:"multimap"`
	Concurrency Concurrency `toml:"concurrency"`
	Enumerator  Enumerator  `toml:"enumerator"`
}

type Storage struct {
	Dir         string `toml:"dir"`
	PageSize    Size   `toml:"page_size"`    // bytes, power of 2
	SegmentSize Size   `toml:"segment_size"` // bytes, power of 2 dividing PageSize
}

type Multimap struct {
	InitialCapacity int     `toml:"initial_capacity"`
	LoadFactor      float64 `toml:"load_factor"` // in (0, 1)
}

type Concurrency struct {
	Stripes int `toml:"stripes"` // 0 = auto-detect (NumCPU)
}

// Enumerator controls which paths the CLI enumerate command picks up
type Enumerator struct {
	Include          []string `toml:"include"`
	Exclude          []string `toml:"exclude"`
	RespectGitignore bool     `toml:"respect_gitignore"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Version: 1,
		Storage: Storage{
			Dir:         DefaultDir,
			PageSize:    ehmap.DefaultPageSize,
			SegmentSize: ehmap.DefaultSegmentSize,
		},
		Multimap: Multimap{
			InitialCapacity: multimap.DefaultCapacity,
			LoadFactor:      multimap.DefaultLoadFactor,
		},
		Concurrency: Concurrency{
			Stripes: 0,
		},
		Enumerator: Enumerator{
			Include:          []string{},
			Exclude:          getDefaultExclusions(),
			RespectGitignore: true,
		},
	}
}

func getDefaultExclusions() []string {
	return []string{
		"**/.git/**",
		"**/.intmaps/**",
		"**/node_modules/**",
		"**/vendor/**",
		"**/*.ehmap",
		"**/*.log",
	}
}

// Load reads the configuration at path, which may be a .kdl or a .toml file.
// With an empty path, $HOME/.intmaps.kdl and ./.intmaps.kdl are merged,
// the project one taking precedence. Missing files yield the defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = LoadFile(path)
	} else {
		cfg, err = LoadWithRoot(".")
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single configuration file, picking the format by extension
func LoadFile(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(path)
	}
	return LoadKDLFile(path)
}

// LoadWithRoot merges the global config from $HOME with the one in rootDir
func LoadWithRoot(rootDir string) (*Config, error) {
	// Step 1: global base config from ~/.intmaps.kdl (if exists)
	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	// Step 2: project config
	projectConfig, err := LoadKDL(rootDir)
	if err != nil {
		return nil, err
	}

	// Step 3: project overrides base, exclusions accumulate
	switch {
	case baseConfig != nil && projectConfig != nil:
		return mergeConfigs(baseConfig, projectConfig), nil
	case projectConfig != nil:
		return projectConfig, nil
	case baseConfig != nil:
		return baseConfig, nil
	}
	return Default(), nil
}

// mergeConfigs merges a base config with a project config.
// Project config takes precedence, but base exclusions are preserved.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	merged.Enumerator.Exclude = DeduplicatePatterns(append(
		append([]string{}, base.Enumerator.Exclude...),
		project.Enumerator.Exclude...,
	))

	// inclusions: project overrides base completely if specified
	if len(project.Enumerator.Include) == 0 && len(base.Enumerator.Include) > 0 {
		merged.Enumerator.Include = base.Enumerator.Include
	}
	return &merged
}

// DeduplicatePatterns removes duplicate patterns, keeping the first occurrence
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !seen[pattern] {
			seen[pattern] = true
			result = append(result, pattern)
		}
	}
	return result
}

// MapPath is the durable map file inside the storage dir
func (c *Config) MapPath() string {
	return filepath.Join(c.Storage.Dir, "map.ehmap")
}

// EnumeratorDir is the enumerator's directory inside the storage dir
func (c *Config) EnumeratorDir() string {
	return filepath.Join(c.Storage.Dir, "enumerator")
}

// MapOptions converts the storage section into ehmap options
func (c *Config) MapOptions() ehmap.Options {
	return ehmap.Options{
		SegmentSize: int(c.Storage.SegmentSize),
		PageSize:    int(c.Storage.PageSize),
	}
}
