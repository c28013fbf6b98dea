package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadOptions bundles the inputs to Load: an optional YAML file path, an
// optional preset name, and explicit dotted-key overrides (e.g. from CLI
// --set flags), applied in that precedence order on top of Defaults().
type LoadOptions struct {
	Path      string
	Preset    string
	Overrides map[string]string
}

// Load builds a Config starting from Defaults(), merging in a YAML file
// (if Path is non-empty), then a named preset, then explicit overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Defaults()

	if opts.Path != "" {
		raw, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		raw = ExpandEnv(raw)
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ApplyPreset(&cfg, opts.Preset, opts.Overrides); err != nil {
		return Config{}, err
	}
	ApplyEnvCredentials(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a configuration that would let the scheduler or phase
// runner deadlock or spin forever.
func Validate(cfg *Config) error {
	switch {
	case cfg.Research.MaxConcurrentTasks < 1:
		return fmt.Errorf("research.max_concurrent_tasks must be >= 1")
	case cfg.Research.MinInitialTasks < 1:
		return fmt.Errorf("research.min_initial_tasks must be >= 1")
	case cfg.Research.MaxTotalTasks < cfg.Research.MinInitialTasks:
		return fmt.Errorf("research.max_total_tasks must be >= research.min_initial_tasks")
	case cfg.Research.MaxLoops < 1:
		return fmt.Errorf("research.max_loops must be >= 1")
	case cfg.Research.MaxRuntimeHours <= 0:
		return fmt.Errorf("research.max_runtime_hours must be > 0")
	case cfg.Synthesis.MinWordsPerSection > cfg.Synthesis.MaxWordsPerSection:
		return fmt.Errorf("synthesis.min_words_per_section must be <= synthesis.max_words_per_section")
	case cfg.Synthesis.SynthesisPoolSize < 1:
		return fmt.Errorf("synthesis.synthesis_pool_size must be >= 1")
	case cfg.Database.Path == "":
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
