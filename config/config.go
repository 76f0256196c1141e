// Package config loads flowmesh settings from an optional YAML file and
// FLOWMESH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/flowmesh/logging"
)

// EnvPrefix prefixes every environment override, e.g. FLOWMESH_MODEL_PROVIDER.
const EnvPrefix = "FLOWMESH"

// Config holds all flowmesh configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Model  ModelConfig  `mapstructure:"model"`
	MCP    MCPConfig    `mapstructure:"mcp"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Flow   FlowConfig   `mapstructure:"flow"`
	Turn   TurnConfig   `mapstructure:"turn"`
	Tokens TokensConfig `mapstructure:"tokens"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // json or text
	AddSource bool   `mapstructure:"add_source"`
}

// ModelConfig selects the completion backend.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, anthropic or mock
	Name        string  `mapstructure:"name"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Stream      bool    `mapstructure:"stream"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// MCPConfig locates MCP servers.
type MCPConfig struct {
	// ConfigPath of mcp_config.json. Empty falls back to MCP_CONFIG.
	ConfigPath string `mapstructure:"config_path"`
	// Endpoint is advertised to clients by GET /api/config.
	Endpoint string `mapstructure:"endpoint"`
	// Builtin serves the builtin tools in-process alongside MCP servers.
	Builtin bool `mapstructure:"builtin"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"` // memory, sqlite or redis
	DSN    string      `mapstructure:"dsn"`    // sqlite path
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// FlowConfig bounds flow runs.
type FlowConfig struct {
	MaxSteps    int `mapstructure:"max_steps"`
	MaxMessages int `mapstructure:"max_messages"`
}

// TurnConfig bounds chat turns.
type TurnConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

// TokensConfig selects the token counter.
type TokensConfig struct {
	Encoding string `mapstructure:"encoding"` // tiktoken encoding or "heuristic"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)

	v.SetDefault("model.provider", "mock")
	v.SetDefault("model.name", "mock-model-1")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.stream", true)
	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.max_tokens", 0)

	v.SetDefault("mcp.config_path", "")
	v.SetDefault("mcp.endpoint", "")
	v.SetDefault("mcp.builtin", true)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "flowmesh.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "flowmesh")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("flow.max_steps", 100)
	v.SetDefault("flow.max_messages", 30)
	v.SetDefault("turn.max_iterations", 10)
	v.SetDefault("tokens.encoding", "cl100k_base")
}

// Default returns the configuration without file or environment input.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("default config: %w", err))
	}
	return &cfg
}

// Load reads the YAML file at path (optional: "" searches ./flowmesh.yaml
// and ./config/flowmesh.yaml and tolerates absence), applies FLOWMESH_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path == "" {
		v.SetConfigName("flowmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		errs = append(errs, fmt.Errorf("model.provider must be openai, anthropic or mock, got %q", c.Model.Provider))
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or redis, got %q", c.Store.Driver))
	}
	if c.Flow.MaxSteps < 0 || c.Flow.MaxMessages < 0 {
		errs = append(errs, errors.New("flow limits cannot be negative"))
	}
	if c.Turn.MaxIterations < 0 {
		errs = append(errs, errors.New("turn.max_iterations cannot be negative"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger writing to w (stderr when nil).
func (c *Config) Logger(w io.Writer) *logging.FlowMeshLogger {
	level, _ := logging.ParseLevel(c.Log.Level)
	if w == nil {
		w = os.Stderr
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Log.Format,
		Output:    w,
		AddSource: c.Log.AddSource,
		Component: "flowmesh",
	})
}
