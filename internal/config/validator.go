package config

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

const maxStripes = 1 << 16

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if err := v.validateStorageConfig(&cfg.Storage); err != nil {
		return imerrors.NewConfigError("storage", "", err)
	}

	if err := v.validateMultimapConfig(&cfg.Multimap); err != nil {
		return imerrors.NewConfigError("multimap", "", err)
	}

	if cfg.Concurrency.Stripes < 1 || cfg.Concurrency.Stripes > maxStripes {
		return imerrors.NewConfigError("concurrency.stripes", strconv.Itoa(cfg.Concurrency.Stripes),
			fmt.Errorf("must be in [1..%d]", maxStripes))
	}

	if err := v.validateEnumeratorConfig(&cfg.Enumerator); err != nil {
		return imerrors.NewConfigError("enumerator", "", err)
	}
	return nil
}

// validateStorageConfig checks the page/segment geometry the durable map needs
func (v *Validator) validateStorageConfig(storage *Storage) error {
	if storage.Dir == "" {
		return errors.New("storage dir cannot be empty")
	}
	if !isPowerOfTwo(int64(storage.PageSize)) {
		return fmt.Errorf("PageSize must be a power of 2, got %d", storage.PageSize)
	}
	if !isPowerOfTwo(int64(storage.SegmentSize)) {
		return fmt.Errorf("SegmentSize must be a power of 2, got %d", storage.SegmentSize)
	}
	if storage.SegmentSize < 128 {
		return fmt.Errorf("SegmentSize must be at least 128 bytes, got %d", storage.SegmentSize)
	}
	if storage.SegmentSize > storage.PageSize {
		return fmt.Errorf("SegmentSize(=%d) must not exceed PageSize(=%d)", storage.SegmentSize, storage.PageSize)
	}
	if storage.PageSize > 1<<30 {
		return fmt.Errorf("PageSize should not exceed 1GB, got %d", storage.PageSize)
	}
	return nil
}

// validateMultimapConfig validates in-memory table sizing
func (v *Validator) validateMultimapConfig(mm *Multimap) error {
	if mm.InitialCapacity < 0 {
		return fmt.Errorf("InitialCapacity cannot be negative, got %d", mm.InitialCapacity)
	}
	if mm.LoadFactor <= 0 || mm.LoadFactor >= 1 {
		return fmt.Errorf("LoadFactor must be in (0, 1), got %v", mm.LoadFactor)
	}
	return nil
}

// validateEnumeratorConfig rejects malformed glob patterns up front
func (v *Validator) validateEnumeratorConfig(enum *Enumerator) error {
	for _, pattern := range enum.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	for _, pattern := range enum.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// setSmartDefaults fills in values left at zero
func (v *Validator) setSmartDefaults(cfg *Config) {
	// Stripes follow the core count, rounded up to a power of 2 the way
	// StripedMap does it anyway
	if cfg.Concurrency.Stripes == 0 {
		cfg.Concurrency.Stripes = 1 << bits.Len(uint(runtime.NumCPU()-1))
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultDir
	}

	if cfg.Multimap.LoadFactor == 0 {
		cfg.Multimap.LoadFactor = Default().Multimap.LoadFactor
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
