// Package config provides YAML-backed configuration for the lnsocket-cli
// binary: known peers, the Tor SOCKS5 proxy, and default call options. The
// library package itself never reads this file — only the CLI does.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete lnsocket-cli configuration.
type Config struct {
	Peers    []PeerConfig   `yaml:"peers"`
	Tor      TorConfig      `yaml:"tor"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// PeerConfig names one core-lightning node this CLI can connect to.
type PeerConfig struct {
	// Name is a short local label used to select this peer on the command
	// line (e.g. "call --peer mynode getinfo").
	Name string `yaml:"name"`

	// HostPort is the node's host:port, e.g. "203.0.113.4:9735" or an
	// onion address.
	HostPort string `yaml:"host"`

	// PubKey is the node's 33-byte compressed static public key, hex
	// encoded (66 hex characters).
	PubKey string `yaml:"pubkey"`

	// Rune is the Commando auth rune token for this peer.
	Rune string `yaml:"rune"`
}

// PubKeyBytes decodes PubKey into the 33-byte form ConnectAndInit expects.
func (p PeerConfig) PubKeyBytes() ([33]byte, error) {
	var out [33]byte
	raw, err := hex.DecodeString(p.PubKey)
	if err != nil {
		return out, fmt.Errorf("peer %q: bad pubkey hex: %w", p.Name, err)
	}
	if len(raw) != 33 {
		return out, fmt.Errorf("peer %q: pubkey must be 33 bytes, got %d", p.Name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// TorConfig is the SOCKS5 proxy used to reach onion peers.
type TorConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// DefaultsConfig is the default CallOpts applied when a command doesn't
// override them.
type DefaultsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// Default returns a Config with the library's default values, matching
// DefaultTorConfig and DefaultCallOpts.
func Default() *Config {
	return &Config{
		Peers: []PeerConfig{},
		Tor: TorConfig{
			Host: "127.0.0.1",
			Port: 9050,
		},
		Defaults: DefaultsConfig{
			Timeout: 30 * time.Second,
			Retries: 3,
		},
	}
}

// Load reads and parses a configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Save validates c and atomically writes it to path as YAML, creating any
// missing parent directory along the way.
func Save(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to persist config: %w", err)
	}
	return nil
}

// Parse parses configuration from YAML bytes, starting from Default() so
// any fields the file omits keep their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, so a rune token or pubkey can be kept out of the file on disk.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Validate checks the config for structural and referential errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("peers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("peers[%d]: duplicate peer name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.HostPort == "" {
			return fmt.Errorf("peer %q: host is required", p.Name)
		}
		if _, err := p.PubKeyBytes(); err != nil {
			return err
		}
	}

	if c.Tor.Host == "" {
		return fmt.Errorf("tor: host must not be empty")
	}
	if c.Tor.Port == 0 {
		return fmt.Errorf("tor: port must be nonzero")
	}

	if c.Defaults.Timeout <= 0 {
		return fmt.Errorf("defaults: timeout must be positive")
	}
	if c.Defaults.Retries < 0 {
		return fmt.Errorf("defaults: retries must not be negative")
	}

	return nil
}

// Peer looks up a configured peer by name.
func (c *Config) Peer(name string) (PeerConfig, error) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, nil
		}
	}
	return PeerConfig{}, fmt.Errorf("no peer named %q in config", name)
}

// Redacted returns a copy of c with every rune token replaced, suitable for
// printing in logs or `status` output.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Peers = make([]PeerConfig, len(c.Peers))
	for i, p := range c.Peers {
		p.Rune = "***redacted***"
		cp.Peers[i] = p
	}
	return &cp
}
