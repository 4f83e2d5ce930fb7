package config

import (
	"errors"
	"testing"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := Default()
	cfg.Storage.Dir = ""
	cfg.Concurrency.Stripes = 0

	validator := NewValidator()
	if err := validator.ValidateAndSetDefaults(cfg); err != nil {
		t.Fatalf("ValidateAndSetDefaults failed: %v", err)
	}

	if cfg.Storage.Dir != DefaultDir {
		t.Errorf("Storage.Dir should default to %q, got %q", DefaultDir, cfg.Storage.Dir)
	}

	stripes := cfg.Concurrency.Stripes
	if stripes < 1 || stripes&(stripes-1) != 0 {
		t.Errorf("Stripes should be auto-detected as a power of 2, got %d", stripes)
	}
}

func TestValidateStorageConfig(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		storage Storage
		wantErr bool
	}{
		{"defaults", Default().Storage, false},
		{"empty dir", Storage{Dir: "", PageSize: 4096, SegmentSize: 1024}, true},
		{"page not power of 2", Storage{Dir: "d", PageSize: 5000, SegmentSize: 1024}, true},
		{"segment not power of 2", Storage{Dir: "d", PageSize: 4096, SegmentSize: 1000}, true},
		{"segment too small", Storage{Dir: "d", PageSize: 4096, SegmentSize: 64}, true},
		{"segment above page", Storage{Dir: "d", PageSize: 4096, SegmentSize: 8192}, true},
		{"segment equals page", Storage{Dir: "d", PageSize: 4096, SegmentSize: 4096}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := tt.storage
			err := validator.validateStorageConfig(&storage)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateStorageConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMultimapConfig(t *testing.T) {
	validator := NewValidator()

	if err := validator.validateMultimapConfig(&Multimap{InitialCapacity: 16, LoadFactor: 0.4}); err != nil {
		t.Errorf("Expected no error for valid config, got %v", err)
	}

	for _, lf := range []float64{-0.1, 1, 1.5} {
		if err := validator.validateMultimapConfig(&Multimap{LoadFactor: lf}); err == nil {
			t.Errorf("Expected error for load factor %v", lf)
		}
	}

	if err := validator.validateMultimapConfig(&Multimap{InitialCapacity: -1, LoadFactor: 0.4}); err == nil {
		t.Errorf("Expected error for negative capacity")
	}
}

func TestValidateEnumeratorConfig(t *testing.T) {
	validator := NewValidator()

	if err := validator.validateEnumeratorConfig(&Enumerator{Include: []string{"**/*.go"}}); err != nil {
		t.Errorf("Expected no error for valid patterns, got %v", err)
	}

	if err := validator.validateEnumeratorConfig(&Enumerator{Exclude: []string{"[unclosed"}}); err == nil {
		t.Errorf("Expected error for malformed pattern")
	}
}

func TestValidateConfig_ReturnsConfigError(t *testing.T) {
	cfg := Default()
	cfg.Concurrency.Stripes = 1 << 20

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("Expected error for too many stripes")
	}

	var cfgErr *imerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %T", err)
	}
	if cfgErr.Field != "concurrency.stripes" {
		t.Errorf("Expected field concurrency.stripes, got %s", cfgErr.Field)
	}
}
