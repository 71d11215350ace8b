// Package pipeline sequences the normalization and optimization passes
// over a module and carries the compiler configuration.
package pipeline

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FrontEndConfig locates the external toolchain binaries and the standard
// library artifacts.
type FrontEndConfig struct {
	// ClangPath is the compiler binary producing LLVM IR from OpenCL C.
	ClangPath string `yaml:"clang"`
	// SPIRVTranslatorPath converts LLVM IR to SPIR-V, when requested.
	SPIRVTranslatorPath string `yaml:"spirv_translator"`
	// StdlibHeader, StdlibPCH and StdlibModule are the three possible
	// standard library locations.
	StdlibHeader string `yaml:"stdlib_header"`
	StdlibPCH    string `yaml:"stdlib_pch"`
	StdlibModule string `yaml:"stdlib_module"`
}

// Config is the compiler configuration, loadable from a YAML file and
// overridable through CLI flags.
type Config struct {
	// OptimizationLevel 0 disables all optional transformations.
	OptimizationLevel int `yaml:"optimization_level"`
	// Parallel bounds how many kernels are compiled concurrently.
	Parallel int  `yaml:"parallel"`
	Profile  bool `yaml:"profile"`
	// RequiredWorkGroupSize overrides the work-group size baked into the
	// kernel metadata.
	RequiredWorkGroupSize [3]uint32      `yaml:"required_work_group_size"`
	FrontEnd              FrontEndConfig `yaml:"frontend"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		OptimizationLevel: 2,
		Parallel:          runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("pipeline: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("pipeline: parse config %q: %w", path, err)
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	return cfg, nil
}
