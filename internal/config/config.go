// Package config loads runtime settings from an ember.toml manifest. All
// settings are optional; absent keys fall back to the runtime's shipped
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"ember/internal/trace"
	"ember/internal/vm"
)

// Config is the full ember.toml schema.
type Config struct {
	GC    GCConfig    `toml:"gc"`
	Trace TraceConfig `toml:"trace"`
}

// GCConfig is the [gc] section.
type GCConfig struct {
	HeapGrowFactor int64  `toml:"heap_grow_factor"`
	MinHeapSize    string `toml:"min_heap_size"`
	MaxHeapSize    string `toml:"max_heap_size"`
	Threshold      string `toml:"threshold"`
	Incremental    bool   `toml:"incremental"`
	StepSize       int    `toml:"step_size"`
	Stress         bool   `toml:"stress"`
}

// TraceConfig is the [trace] section.
type TraceConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// Default returns the configuration matching the runtime's built-in tuning.
func Default() Config {
	t := vm.DefaultTuning()
	return Config{
		GC: GCConfig{
			HeapGrowFactor: t.HeapGrowFactor,
			MinHeapSize:    FormatBytes(t.MinHeapSize),
			MaxHeapSize:    FormatBytes(t.MaxHeapSize),
			Threshold:      FormatBytes(t.Threshold),
			Incremental:    t.Incremental,
			StepSize:       t.StepSize,
			Stress:         t.StressTest,
		},
		Trace: TraceConfig{
			Level:  "off",
			Format: "text",
		},
	}
}

// FindEmberToml walks upward from startDir looking for an ember.toml.
func FindEmberToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "ember.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load parses an ember.toml, layering it over the defaults. Unset keys keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, key)
	}
	return cfg, nil
}

// LoadOrDefault searches upward from startDir and loads the first manifest
// found, falling back to the defaults when there is none.
func LoadOrDefault(startDir string) (Config, string, error) {
	path, ok, err := FindEmberToml(startDir)
	if err != nil {
		return Config{}, "", err
	}
	if !ok {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// Tuning converts the [gc] section into collector tuning.
func (c Config) Tuning() (vm.Tuning, error) {
	t := vm.DefaultTuning()
	if c.GC.HeapGrowFactor > 0 {
		t.HeapGrowFactor = c.GC.HeapGrowFactor
	}
	var err error
	if t.MinHeapSize, err = parseBytesOr(c.GC.MinHeapSize, t.MinHeapSize); err != nil {
		return vm.Tuning{}, fmt.Errorf("[gc].min_heap_size: %w", err)
	}
	if t.MaxHeapSize, err = parseBytesOr(c.GC.MaxHeapSize, t.MaxHeapSize); err != nil {
		return vm.Tuning{}, fmt.Errorf("[gc].max_heap_size: %w", err)
	}
	if t.Threshold, err = parseBytesOr(c.GC.Threshold, t.Threshold); err != nil {
		return vm.Tuning{}, fmt.Errorf("[gc].threshold: %w", err)
	}
	t.Incremental = c.GC.Incremental
	if c.GC.StepSize > 0 {
		t.StepSize = c.GC.StepSize
	}
	t.StressTest = c.GC.Stress
	return t, nil
}

// TraceOptions converts the [trace] section into tracer settings.
func (c Config) TraceOptions() (trace.Level, trace.Format, string, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return 0, 0, "", fmt.Errorf("[trace].level: %w", err)
	}
	format, err := trace.ParseFormat(c.Trace.Format)
	if err != nil {
		return 0, 0, "", fmt.Errorf("[trace].format: %w", err)
	}
	return level, format, c.Trace.Output, nil
}
