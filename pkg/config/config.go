package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds all configuration for an incremental compile run
type Config struct {
	Workspace string `koanf:"workspace"`  // Root of the compile unit
	Output    string `koanf:"output"`     // Directory receiving emitted class files
	Backup    string `koanf:"backup"`     // Staging area for the transactional manager
	Compiler  string `koanf:"compiler"`   // External compiler command
	SourceExt string `koanf:"source-ext"` // Suffix of sources in the analyzed language

	// Incremental engine knobs
	Strict               bool    `koanf:"strict"`                 // Assert single StartSource per source per cycle
	APIDebug             bool    `koanf:"api-debug"`              // Retain full API shapes in memory
	OptimizedSealed      bool    `koanf:"optimized-sealed"`       // Fold sealed children into the parent name hash
	RelationsDebug       bool    `koanf:"relations-debug"`        // Trace relation sizes per cycle, report class cycles
	Transactional        bool    `koanf:"transactional"`          // Transactional class-file manager with rollback
	RecompileAllFraction float64 `koanf:"recompile-all-fraction"` // Escalate to a full recompile past this fraction
	MaxCycles            int     `koanf:"max-cycles"`             // Hard cap on invalidation iterations

	// Frontend modes
	Watch       bool   `koanf:"watch"`
	WebMode     bool   `koanf:"web"`
	Port        int    `koanf:"port"`
	OpenBrowser bool   `koanf:"open"`
	Verbosity   string `koanf:"verbosity"`
	VerboseCnt  int    `koanf:"verbose"`
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"workspace":              ".",
		"output":                 "out/classes",
		"backup":                 "out/backup",
		"compiler":               "",
		"source-ext":             ".src",
		"strict":                 false,
		"api-debug":              false,
		"optimized-sealed":       false,
		"relations-debug":        false,
		"transactional":          true,
		"recompile-all-fraction": 0.5,
		"max-cycles":             16,
		"watch":                  false,
		"web":                    false,
		"port":                   8080,
		"open":                   true,
		"verbosity":              "",
		"verbose":                0,
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - incc.toml
	// Ignore errors here as the file might not exist
	_ = k.Load(file.Provider("incc.toml"), toml.Parser())

	// 3. Environment Variables
	// Prefix: INCC_ (e.g., INCC_MAX_CYCLES=32)
	if err := k.Load(env.Provider("INCC_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "INCC_")), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MaxCycles <= 0 {
		return nil, fmt.Errorf("max-cycles must be positive, got %d", cfg.MaxCycles)
	}
	if cfg.RecompileAllFraction < 0 || cfg.RecompileAllFraction > 1 {
		return nil, fmt.Errorf("recompile-all-fraction must be in [0,1], got %g", cfg.RecompileAllFraction)
	}

	return &cfg, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
