// Package config loads service configuration from YAML files, .env files,
// and environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/devpulse/devpulse/internal/ratelimit"
)

// Config holds all configuration settings.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage configuration
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Forge (GitHub) configuration
	Forge ForgeConfig `yaml:"forge" mapstructure:"forge"`

	// Redis cache configuration
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

type ForgeConfig struct {
	Token string `yaml:"token" mapstructure:"token"`

	// Token bucket sizing for outbound API calls.
	MaxRequests   int           `yaml:"max_requests" mapstructure:"max_requests"`
	RateWindow    time.Duration `yaml:"rate_window" mapstructure:"rate_window"`
	ReserveTokens int           `yaml:"reserve_tokens" mapstructure:"reserve_tokens"`
}

type RedisConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
	JSONFormat bool   `yaml:"json_format" mapstructure:"json_format"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Forge: ForgeConfig{
			MaxRequests:   ratelimit.DefaultMaxRequests,
			RateWindow:    ratelimit.DefaultWindow,
			ReserveTokens: ratelimit.DefaultReserveTokens,
		},
		Redis: RedisConfig{
			Port: 6379,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}
}

// Load loads configuration from file, .env files, and the environment.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("server", cfg.Server)
	v.SetDefault("database", cfg.Database)
	v.SetDefault("forge", cfg.Forge)
	v.SetDefault("redis", cfg.Redis)
	v.SetDefault("logging", cfg.Logging)

	v.SetEnvPrefix("DEVPULSE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".devpulse")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".devpulse"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate checks the settings a running server cannot do without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (set DEVPULSE_DATABASE_DSN or database.dsn)")
	}
	if c.Forge.MaxRequests <= c.Forge.ReserveTokens {
		return fmt.Errorf("forge.max_requests (%d) must exceed forge.reserve_tokens (%d)",
			c.Forge.MaxRequests, c.Forge.ReserveTokens)
	}
	return nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".devpulse", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if addr := os.Getenv("DEVPULSE_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	// Database configuration
	if dsn := os.Getenv("DEVPULSE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	// Forge configuration
	if token := os.Getenv("DEVPULSE_FORGE_TOKEN"); token != "" {
		cfg.Forge.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.Forge.Token = token
	}
	if max := os.Getenv("DEVPULSE_FORGE_MAX_REQUESTS"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			cfg.Forge.MaxRequests = n
		}
	}
	if window := os.Getenv("DEVPULSE_FORGE_RATE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			cfg.Forge.RateWindow = d
		}
	}
	if reserve := os.Getenv("DEVPULSE_FORGE_RESERVE_TOKENS"); reserve != "" {
		if n, err := strconv.Atoi(reserve); err == nil {
			cfg.Forge.ReserveTokens = n
		}
	}

	// Redis configuration
	if host := os.Getenv("DEVPULSE_REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if port := os.Getenv("DEVPULSE_REDIS_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Redis.Port = n
		}
	}
	if password := os.Getenv("DEVPULSE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Logging configuration
	if level := os.Getenv("DEVPULSE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if file := os.Getenv("DEVPULSE_LOG_FILE"); file != "" {
		cfg.Logging.OutputFile = expandPath(file)
	}
	if format := os.Getenv("DEVPULSE_LOG_JSON"); format != "" {
		cfg.Logging.JSONFormat = format == "true"
	}
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server", c.Server)
	v.Set("database", c.Database)
	v.Set("forge", c.Forge)
	v.Set("redis", c.Redis)
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
