package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcoot/turntimer/internal/services/directory"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config is the server configuration
type Config struct {
	Port     int
	LogLevel slog.Level

	StorageType string
	RedisURL    string
	DatabaseURL string

	// NATSURL enables cross-instance broadcast when set
	NATSURL   string
	NATSToken string

	SessionDuration time.Duration
	AuthRateLimit   int

	ConfigFile  string
	CORSOrigins []string
	Contexts    []directory.Entry
}

// File is the optional YAML configuration file
type File struct {
	CORSOrigins []string          `yaml:"cors_origins"`
	Contexts    []directory.Entry `yaml:"contexts"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Port:            8080,
		LogLevel:        slog.LevelInfo,
		StorageType:     StorageMemory,
		SessionDuration: 24 * time.Hour,
		AuthRateLimit:   30,
	}
}

// Load reads an optional .env file, then the environment, then the YAML file
// named by TURNTIMER_CONFIG
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := FromEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConfigFile != "" {
		file, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		cfg.apply(file)
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a configuration from environment lookups over the defaults
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if v := get("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := get("TURNTIMER_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("TURNTIMER_LOG_LEVEL: %w", err)
		}
	}
	if v := get("STORAGE_TYPE"); v != "" {
		cfg.StorageType = strings.ToLower(v)
	}
	cfg.RedisURL = get("REDIS_URL")
	cfg.DatabaseURL = get("DATABASE_URL")
	cfg.NATSURL = get("NATS_URL")
	cfg.NATSToken = get("NATS_TOKEN")
	cfg.ConfigFile = get("TURNTIMER_CONFIG")

	if v := get("TURNTIMER_SESSION_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("TURNTIMER_SESSION_DURATION: %w", err)
		}
		cfg.SessionDuration = d
	}
	if v := get("TURNTIMER_AUTH_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TURNTIMER_AUTH_RATE_LIMIT: %w", err)
		}
		cfg.AuthRateLimit = n
	}
	if v := get("TURNTIMER_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	return cfg, nil
}

// LoadFile parses the YAML configuration file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &file, nil
}

// apply merges file settings. Origins from the environment win.
func (c *Config) apply(file *File) {
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = file.CORSOrigins
	}
	c.Contexts = append(c.Contexts, file.Contexts...)
}

// Validate checks that the selected backends have what they need
func (c Config) Validate() error {
	switch c.StorageType {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL required when STORAGE_TYPE=redis")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL required when STORAGE_TYPE=postgres")
		}
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be memory, redis or postgres", c.StorageType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}
