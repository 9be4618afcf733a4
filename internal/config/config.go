// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/lowpan"
	"firestige.xyz/lowpan/internal/log"
)

// Config represents the top-level configuration.
// Maps to the `lowpan:` root key in YAML.
type Config struct {
	Contexts   []ContextConfig  `mapstructure:"contexts"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Log        log.Config       `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ─── Address Contexts ───

// ContextConfig binds a /64 prefix to a context index.
type ContextConfig struct {
	Index  int          `mapstructure:"index"`  // 0..15
	Prefix netip.Prefix `mapstructure:"prefix"` // e.g. 2001:db8::/64
}

// ─── Fragment Reassembly ───

// ReassemblyConfig bounds the fragment reassembly state.
type ReassemblyConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxContexts       int           `mapstructure:"max_contexts"`
	MaxDatagramSize   int           `mapstructure:"max_datagram_size"`
	MaxFragsPerSource int           `mapstructure:"max_frags_per_source"` // 0 = unlimited
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `lowpan: ...`.
type configRoot struct {
	Lowpan Config `mapstructure:"lowpan"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// Env vars use the LOWPAN_ prefix (e.g., LOWPAN_REASSEMBLY_TIMEOUT).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `lowpan.` key prefix maps to `LOWPAN_` through the key replacer
	// (e.g., key "lowpan.log.level" → env "LOWPAN_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := decode(v.AllSettings(), &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w: %w", core.ErrConfigInvalid, err)
	}
	cfg := root.Lowpan

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Only reachable through a bad LOWPAN_ environment override.
		log.GetLogger().WithError(err).Warn("ignoring environment overrides")
		v := viper.New()
		setDefaults(v)
		var root configRoot
		_ = decode(v.AllSettings(), &root)
		return &root.Lowpan
	}
	return cfg
}

func decode(input map[string]interface{}, out *configRoot) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			StringToPrefixHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// StringToPrefixHookFunc converts strings such as "2001:db8::/64" into
// netip.Prefix values.
func StringToPrefixHookFunc() mapstructure.DecodeHookFuncType {
	prefixType := reflect.TypeOf(netip.Prefix{})
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != prefixType {
			return data, nil
		}
		return netip.ParsePrefix(strings.TrimSpace(data.(string)))
	}
}

// setDefaults sets default values for configuration.
// All keys use "lowpan." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Reassembly defaults
	v.SetDefault("lowpan.reassembly.timeout", "2s")
	v.SetDefault("lowpan.reassembly.max_contexts", 64)
	v.SetDefault("lowpan.reassembly.max_datagram_size", 1280)
	v.SetDefault("lowpan.reassembly.max_frags_per_source", 0)
	v.SetDefault("lowpan.reassembly.rate_limit_window", "10s")

	// Log defaults
	def := log.DefaultConfig()
	v.SetDefault("lowpan.log.level", def.Level)
	v.SetDefault("lowpan.log.format", def.Format)
	v.SetDefault("lowpan.log.pattern", def.Pattern)
	v.SetDefault("lowpan.log.time", def.Time)
	v.SetDefault("lowpan.log.file.enabled", false)
	v.SetDefault("lowpan.log.file.path", "/var/log/lowpan/lowpan.log")
	v.SetDefault("lowpan.log.file.max_size_mb", 100)
	v.SetDefault("lowpan.log.file.max_age_days", 30)
	v.SetDefault("lowpan.log.file.max_backups", 5)
	v.SetDefault("lowpan.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("lowpan.metrics.enabled", false)
	v.SetDefault("lowpan.metrics.listen", ":9091")
	v.SetDefault("lowpan.metrics.path", "/metrics")
}

// Validate checks the configuration. Every failure wraps core.ErrConfigInvalid.
func (cfg *Config) Validate() error {
	var errs []error

	// ── Contexts ──
	seen := make(map[int]bool, len(cfg.Contexts))
	for _, c := range cfg.Contexts {
		switch {
		case c.Index < 0 || c.Index >= lowpan.MaxContexts:
			errs = append(errs, fmt.Errorf("context index %d out of range 0..%d", c.Index, lowpan.MaxContexts-1))
		case seen[c.Index]:
			errs = append(errs, fmt.Errorf("duplicate context index %d", c.Index))
		case !c.Prefix.IsValid() || !c.Prefix.Addr().Is6() || c.Prefix.Addr().Is4In6() || c.Prefix.Bits() != 64:
			errs = append(errs, fmt.Errorf("context %d prefix %q must be an IPv6 /64", c.Index, c.Prefix))
		}
		seen[c.Index] = true
	}

	// ── Reassembly ──
	r := cfg.Reassembly
	if r.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("reassembly.timeout must be positive, got %s", r.Timeout))
	}
	if r.MaxContexts <= 0 {
		errs = append(errs, fmt.Errorf("reassembly.max_contexts must be positive, got %d", r.MaxContexts))
	}
	if r.MaxDatagramSize <= 0 || r.MaxDatagramSize > lowpan.MaxDatagramSize {
		errs = append(errs, fmt.Errorf("reassembly.max_datagram_size %d out of range 1..%d", r.MaxDatagramSize, lowpan.MaxDatagramSize))
	}
	if r.MaxFragsPerSource < 0 {
		errs = append(errs, fmt.Errorf("reassembly.max_frags_per_source must not be negative, got %d", r.MaxFragsPerSource))
	}
	if r.MaxFragsPerSource > 0 && r.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("reassembly.rate_limit_window must be positive, got %s", r.RateLimitWindow))
	}

	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "pattern", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be pattern/text/json)", cfg.Log.Format))
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		errs = append(errs, errors.New("log.file.path is required when log.file.enabled=true"))
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, errors.New("metrics.listen is required when metrics.enabled=true"))
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// ContextTable builds the address context table.
func (cfg *Config) ContextTable() (*lowpan.ContextTable, error) {
	t := lowpan.NewContextTable()
	for _, c := range cfg.Contexts {
		if err := t.SetPrefix(c.Index, c.Prefix); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
		}
	}
	return t, nil
}

// ReassemblyConfig maps the reassembly section onto the reassembler settings.
func (cfg *Config) ReassemblyConfig() lowpan.ReassemblyConfig {
	return lowpan.ReassemblyConfig{
		Timeout:           cfg.Reassembly.Timeout,
		MaxContexts:       cfg.Reassembly.MaxContexts,
		MaxDatagramSize:   cfg.Reassembly.MaxDatagramSize,
		MaxFragsPerSource: cfg.Reassembly.MaxFragsPerSource,
		RateLimitWindow:   cfg.Reassembly.RateLimitWindow,
	}
}
