package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"MissionCore/internal/game"
)

// Config is the resolved service configuration.
//
// Values are layered: DefaultConfig, then the YAML config file, then
// MISSION_* environment variables, then command-line overrides.
type Config struct {
	Addr            string        `env:"MISSION_ADDR"`
	TableFiles      []string      `env:"MISSION_TABLES" envSeparator:","`
	SQLitePath      string        `env:"MISSION_SQLITE_PATH"`
	FlushInterval   time.Duration `env:"MISSION_FLUSH_INTERVAL"`
	ReloadInterval  time.Duration `env:"MISSION_RELOAD_INTERVAL"`
	CleanupInterval time.Duration `env:"MISSION_CLEANUP_INTERVAL"`
	Epsilon         float64       `env:"MISSION_EPSILON"`
	OtelEndpoint    string        `env:"MISSION_OTEL_ENDPOINT"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		TableFiles:      []string{"configs/missions.yaml"},
		FlushInterval:   time.Duration(float64(time.Second) / game.FlushRateHz),
		ReloadInterval:  5 * time.Second,
		CleanupInterval: 60 * time.Second,
		Epsilon:         1e-3,
	}
}

type fileConfig struct {
	Addr            *string   `yaml:"addr"`
	Tables          *[]string `yaml:"tables"`
	SQLitePath      *string   `yaml:"sqlite_path"`
	FlushInterval   *string   `yaml:"flush_interval"`
	ReloadInterval  *string   `yaml:"reload_interval"`
	CleanupInterval *string   `yaml:"cleanup_interval"`
	Epsilon         *float64  `yaml:"epsilon"`
	OtelEndpoint    *string   `yaml:"otel_endpoint"`
}

// Overrides are optional command-line values applied last.
type Overrides struct {
	Addr          *string
	TableFiles    *[]string
	SQLitePath    *string
	FlushInterval *time.Duration
	Epsilon       *float64
}

func (o Overrides) apply(base Config) Config {
	if o.Addr != nil {
		base.Addr = *o.Addr
	}
	if o.TableFiles != nil {
		base.TableFiles = append([]string(nil), (*o.TableFiles)...)
	}
	if o.SQLitePath != nil {
		base.SQLitePath = *o.SQLitePath
	}
	if o.FlushInterval != nil {
		base.FlushInterval = *o.FlushInterval
	}
	if o.Epsilon != nil {
		base.Epsilon = *o.Epsilon
	}
	return base
}

func parseDuration(field, raw string, into *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*into = d
	return nil
}

func mergeFileConfig(base Config, fc fileConfig) (Config, error) {
	if fc.Addr != nil {
		base.Addr = *fc.Addr
	}
	if fc.Tables != nil {
		base.TableFiles = append([]string(nil), (*fc.Tables)...)
	}
	if fc.SQLitePath != nil {
		base.SQLitePath = *fc.SQLitePath
	}
	if fc.FlushInterval != nil {
		if err := parseDuration("flush_interval", *fc.FlushInterval, &base.FlushInterval); err != nil {
			return base, err
		}
	}
	if fc.ReloadInterval != nil {
		if err := parseDuration("reload_interval", *fc.ReloadInterval, &base.ReloadInterval); err != nil {
			return base, err
		}
	}
	if fc.CleanupInterval != nil {
		if err := parseDuration("cleanup_interval", *fc.CleanupInterval, &base.CleanupInterval); err != nil {
			return base, err
		}
	}
	if fc.Epsilon != nil {
		base.Epsilon = *fc.Epsilon
	}
	if fc.OtelEndpoint != nil {
		base.OtelEndpoint = *fc.OtelEndpoint
	}
	return base, nil
}

// loadConfigFile merges the YAML file at path into base. A missing file
// leaves base untouched.
func loadConfigFile(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("read config %q: %w", cleanPath, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config %q: %w", cleanPath, err)
	}
	merged, err := mergeFileConfig(base, fc)
	if err != nil {
		return base, fmt.Errorf("config %q: %w", cleanPath, err)
	}
	return merged, nil
}

// ParseEnv overlays MISSION_* environment variables onto target. Unset
// variables leave fields untouched.
func ParseEnv(target *Config) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig resolves the full configuration stack.
func LoadConfig(path string, overrides Overrides) (Config, error) {
	cfg, err := loadConfigFile(path, DefaultConfig())
	if err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return sanitizeConfig(overrides.apply(cfg)), nil
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = def.Addr
	}
	if cfg.FlushInterval < 10*time.Millisecond {
		cfg.FlushInterval = 10 * time.Millisecond
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = def.ReloadInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	tables := cfg.TableFiles[:0:0]
	for _, t := range cfg.TableFiles {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}
	cfg.TableFiles = tables
	return cfg
}
