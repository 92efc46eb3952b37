// Package config loads adminview configuration from defaults, a
// YAML file, .env files, the environment and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ADMINVIEW_"

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// Config holds all application configuration.
type Config struct {
	Host         string        `koanf:"host" json:"host"`
	Port         int           `koanf:"port" json:"port"`
	DataDir      string        `koanf:"data_dir" json:"data_dir"`
	DatabaseURL  string        `koanf:"database_url" json:"-"`
	LogLevel     string        `koanf:"log_level" json:"log_level"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"-"`

	// StaleAfter is the age at which a waiting game session
	// becomes eligible for the sweep.
	StaleAfter time.Duration `koanf:"stale_after" json:"stale_after"`
	TopN       int           `koanf:"top_n" json:"top_n"`

	// Shared-cache lifetimes, in seconds, for the master
	// dashboard response.
	CacheMaxAge int `koanf:"cache_max_age" json:"cache_max_age"`
	CacheSWR    int `koanf:"cache_stale_while_revalidate" json:"cache_stale_while_revalidate"`

	DBPath     string `koanf:"-" json:"-"`
	ConfigFile string `koanf:"-" json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".adminview")
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DataDir:      dataDir,
		LogLevel:     "info",
		WriteTimeout: 30 * time.Second,
		StaleAfter:   time.Hour,
		TopN:         5,
		CacheMaxAge:  60,
		CacheSWR:     30,
		DBPath:       filepath.Join(dataDir, "adminview.db"),
	}, nil
}

// Load builds a Config by layering: defaults < config file <
// .env and environment < flags. The FlagSet must already be
// parsed; only flags that were explicitly set override the lower
// layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := load(fs)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadMinimal is Load without flags, for subcommands that
// manage their own flag sets.
func LoadMinimal() (Config, error) {
	return Load(nil)
}

func load(fs *flag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	loadDotEnv(cfg.DataDir)

	// data_dir decides where the config file lives, so it is
	// resolved before the file layer.
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if fs != nil {
		if f := fs.Lookup("data-dir"); f != nil && isSet(fs, "data-dir") {
			cfg.DataDir = f.Value.String()
		}
	}
	cfg.ConfigFile = ResolveConfigPath(cfg.DataDir)

	k := koanf.New(".")
	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		if err := k.Load(file.Provider(cfg.ConfigFile), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", ErrLoadConfig, cfg.ConfigFile, err)
		}
	}
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return cfg, fmt.Errorf("%w: environment: %w", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf(
		"", &cfg, koanf.UnmarshalConf{Tag: "koanf"},
	); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	applyFlags(&cfg, fs)
	cfg.DBPath = filepath.Join(cfg.DataDir, "adminview.db")
	return cfg, nil
}

// loadDotEnv loads .env from the working directory and then the
// data dir. Variables already set in the environment win.
func loadDotEnv(dataDir string) {
	for _, p := range []string{".env", filepath.Join(dataDir, ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// ResolveConfigPath returns the config file path: the
// ADMINVIEW_CONFIG variable when set, else config.yaml in dataDir.
func ResolveConfigPath(dataDir string) string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return filepath.Join(dataDir, "config.yaml")
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	var problems []string
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.TopN < 1 {
		problems = append(problems, "top_n must be positive")
	}
	if c.StaleAfter <= 0 {
		problems = append(problems, "stale_after must be positive")
	}
	if c.WriteTimeout <= 0 {
		problems = append(problems, "write_timeout must be positive")
	}
	if c.CacheMaxAge < 0 || c.CacheSWR < 0 {
		problems = append(problems, "cache lifetimes must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// UsesPostgres reports whether the Postgres store is selected.
func (c Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// CacheControl renders the master dashboard Cache-Control value.
func (c Config) CacheControl() string {
	return fmt.Sprintf(
		"public, s-maxage=%d, stale-while-revalidate=%d",
		c.CacheMaxAge, c.CacheSWR,
	)
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.String("data-dir", "", "Directory for the database and config file")
	fs.String("database-url", "", "Postgres connection URL (default: SQLite in data dir)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Int("top-n", 5, "Leaderboard length")
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "data-dir":
			cfg.DataDir = f.Value.String()
		case "database-url":
			cfg.DatabaseURL = f.Value.String()
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "top-n":
			cfg.TopN, _ = strconv.Atoi(f.Value.String())
		}
	})
}
