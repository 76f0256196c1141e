package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ConfigEnv names the environment variable overriding the config path.
const ConfigEnv = "MCP_CONFIG"

// DefaultConfigPath is used when neither a path nor ConfigEnv is given.
const DefaultConfigPath = "mcp_config.json"

// Transports for URL servers.
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// ServerConfig describes how to reach one MCP server. Exactly one of
// Command and URL must be set.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL string `json:"url,omitempty"`
	// Transport selects http (streamable HTTP, default) or sse for URL servers.
	Transport string            `json:"transport,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Validate checks that the server is reachable by exactly one transport.
func (s ServerConfig) Validate() error {
	switch {
	case s.Command == "" && s.URL == "":
		return errors.New("either command or url is required")
	case s.Command != "" && s.URL != "":
		return errors.New("command and url are mutually exclusive")
	}
	switch s.Transport {
	case "", TransportHTTP, TransportSSE:
		return nil
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
}

// Environ renders Env as sorted KEY=VALUE pairs.
func (s ServerConfig) Environ() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Config is the mcp_config.json document.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every server entry.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Names() {
		if err := c.MCPServers[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseConfig decodes and validates an mcp_config.json document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode mcp config: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigPath resolves the config location: explicit, then ConfigEnv, then
// DefaultConfigPath.
func ConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig reads the config at ConfigPath(path). A missing file at the
// default location yields an empty config; a missing explicit file is an
// error.
func LoadConfig(path string) (*Config, error) {
	resolved := ConfigPath(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "" && os.Getenv(ConfigEnv) == "" {
			return &Config{MCPServers: map[string]ServerConfig{}}, nil
		}
		return nil, fmt.Errorf("read mcp config %s: %w", resolved, err)
	}
	return ParseConfig(data)
}
