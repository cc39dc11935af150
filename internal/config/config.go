// Package config loads chainweaver settings.
//
// Precedence (highest to lowest): explicitly set flags > CHAINWEAVER_*
// environment variables > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"chainweaver/internal/chain"
)

const (
	EnvPrefix         = "CHAINWEAVER_"
	DefaultConfigFile = "chainweaver.yaml"
	DefaultTransforms = "transforms.yaml"
	DefaultVariants   = "variants.yaml"
)

type Config struct {
	// CacheDir holds immutable and mutable workspaces.
	CacheDir string `koanf:"cache_dir"`

	// Caching is the global cache switch.
	Caching bool `koanf:"caching"`

	MaxChainDepth int `koanf:"max_chain_depth"`

	// Workers bounds how many artifacts are transformed at once.
	Workers int `koanf:"workers"`

	// HistoryPath is the sqlite database recording mutable executions.
	// Defaults to history.db under CacheDir.
	HistoryPath string `koanf:"history_path"`

	Transforms string `koanf:"transforms"`
	Variants   string `koanf:"variants"`

	Log LogConfig `koanf:"log"`

	// MetricsAddr, when set, serves Prometheus metrics over HTTP.
	MetricsAddr string `koanf:"metrics_addr"`

	// TracePath, when set, receives the canonical execution trace.
	TracePath string `koanf:"trace_path"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	cacheDir := filepath.Join(".chainweaver", "cache")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "chainweaver")
	}
	return map[string]any{
		"cache_dir":       cacheDir,
		"caching":         true,
		"max_chain_depth": chain.MaxDepthCeiling,
		"workers":         runtime.GOMAXPROCS(0),
		"transforms":      DefaultTransforms,
		"variants":        DefaultVariants,
		"log.level":       "info",
		"log.format":      "text",
	}
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"trace":      "trace_path",
	"history":    "history_path",
	"max-depth":  "max_chain_depth",
}

// Load reads configuration. An empty path looks for chainweaver.yaml in the
// working directory; a missing default file is not an error. flags may be
// nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	used := path
	if used == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			used = DefaultConfigFile
		}
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			if f.Name == "no-cache" {
				return "caching", !flagBool(flags, f.Name)
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = used
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(cfg.CacheDir, "history.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CHAINWEAVER_LOG_LEVEL into log.level and
// CHAINWEAVER_CACHE_DIR into cache_dir.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "log_"); ok {
		return "log." + rest
	}
	return key
}

func flagBool(flags *pflag.FlagSet, name string) bool {
	v, _ := flags.GetBool(name)
	return v
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CacheDir) == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.MaxChainDepth <= 0 || c.MaxChainDepth > chain.MaxDepthCeiling {
		errs = append(errs, fmt.Errorf("max_chain_depth must be between 1 and %d, got %d", chain.MaxDepthCeiling, c.MaxChainDepth))
	}
	return errors.Join(errs...)
}
