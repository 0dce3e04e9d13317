// Package config loads node and gateway configuration.
//
// Configuration comes from a single YAML file named by --config or the
// PROVENANCE_CONFIG environment variable. Without either, defaults apply.
// The file may carry development and production sections that override
// base values when the environment matches. The production environment
// always disables reduced-assurance login.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"Provenance/internal/address"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "PROVENANCE_CONFIG"

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the full process configuration.
type Config struct {
	Environment Environment `yaml:"environment"`
	LogLevel    string      `yaml:"log_level"`

	Node    NodeConfig    `yaml:"node"`
	Gateway GatewayConfig `yaml:"gateway"`
	Auth    AuthConfig    `yaml:"auth"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// NodeConfig configures cmd/node.
type NodeConfig struct {
	// DataPath is the pebble directory.
	DataPath string `yaml:"data_path"`

	// HTTPAddress is the ledger RPC listen address.
	HTTPAddress string `yaml:"http_address"`

	// Program is the address the ledger program is deployed at.
	Program string `yaml:"program"`

	// KeyPath holds the node key. Empty means ephemeral.
	KeyPath string `yaml:"key_path"`

	// BlockInterval batches commits. Zero commits on every submission.
	BlockInterval time.Duration `yaml:"block_interval"`
}

// GatewayConfig configures cmd/gateway.
type GatewayConfig struct {
	HTTPAddress string `yaml:"http_address"`

	// NodeAddress is the ledger RPC endpoint.
	NodeAddress string `yaml:"node_address"`

	// Program is the ledger program address. Empty runs the anchor
	// pipeline in mock mode.
	Program string `yaml:"program"`

	// MasterKeyPath holds the master account key that signs anchors.
	MasterKeyPath string `yaml:"master_key_path"`

	// SessionKeyPath holds the key that signs session tokens.
	SessionKeyPath string `yaml:"session_key_path"`

	// DataPath is the content store directory.
	DataPath string `yaml:"data_path"`

	// LocatorBase prefixes content retrieval URLs.
	LocatorBase string `yaml:"locator_base"`

	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	TxTTL          time.Duration `yaml:"tx_ttl"`
}

// AuthConfig configures wallet login.
type AuthConfig struct {
	DomainTag             string        `yaml:"domain_tag"`
	Application           string        `yaml:"application"`
	ChainID               uint8         `yaml:"chain_id"`
	ChainQualified        bool          `yaml:"chain_qualified"`
	StrictAddressMatch    bool          `yaml:"strict_address_match"`
	AllowReducedAssurance bool          `yaml:"allow_reduced_assurance"`
	ChallengeTTL          time.Duration `yaml:"challenge_ttl"`
	SessionTTL            time.Duration `yaml:"session_ttl"`
}

// Overrides are applied over the base values for one environment.
// Empty strings and zero durations leave the base value in place.
type Overrides struct {
	LogLevel string         `yaml:"log_level,omitempty"`
	Node     *NodeConfig    `yaml:"node,omitempty"`
	Gateway  *GatewayConfig `yaml:"gateway,omitempty"`
	Auth     *AuthOverrides `yaml:"auth,omitempty"`
}

// AuthOverrides uses pointers so a section can switch a flag off.
type AuthOverrides struct {
	DomainTag             string        `yaml:"domain_tag,omitempty"`
	Application           string        `yaml:"application,omitempty"`
	StrictAddressMatch    *bool         `yaml:"strict_address_match,omitempty"`
	AllowReducedAssurance *bool         `yaml:"allow_reduced_assurance,omitempty"`
	ChallengeTTL          time.Duration `yaml:"challenge_ttl,omitempty"`
	SessionTTL            time.Duration `yaml:"session_ttl,omitempty"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Node: NodeConfig{
			DataPath:    "./data/node",
			HTTPAddress: ":8080",
		},
		Gateway: GatewayConfig{
			HTTPAddress:    ":8090",
			NodeAddress:    "http://127.0.0.1:8080",
			DataPath:       "./data/gateway",
			ConfirmTimeout: 30 * time.Second,
			TxTTL:          2 * time.Minute,
		},
		Auth: AuthConfig{
			DomainTag:    "APTOS",
			Application:  "Provenance",
			ChallengeTTL: 5 * time.Minute,
			SessionTTL:   12 * time.Hour,
		},
	}
}

// Load reads the file at path, or at $PROVENANCE_CONFIG when path is
// empty. With neither set it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	if path == "" {
		cfg := Default()
		cfg.finish()
		return cfg, cfg.Validate()
	}

	return LoadFile(path)
}

// LoadFile reads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config:\n%w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config:\n%w", err)
	}

	cfg.finish()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// finish applies overrides, expands variables and enforces production rules.
func (c *Config) finish() {
	c.applyEnvironmentOverrides()
	c.expandVariables()

	if c.Environment == Production {
		c.Auth.AllowReducedAssurance = false
	}
}

// applyEnvironmentOverrides merges the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var o *Overrides

	switch c.Environment {
	case Development:
		o = c.Development
	case Production:
		o = c.Production
	}

	if o == nil {
		return
	}

	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}

	if o.Node != nil {
		setString(&c.Node.DataPath, o.Node.DataPath)
		setString(&c.Node.HTTPAddress, o.Node.HTTPAddress)
		setString(&c.Node.Program, o.Node.Program)
		setString(&c.Node.KeyPath, o.Node.KeyPath)
		setDuration(&c.Node.BlockInterval, o.Node.BlockInterval)
	}

	if o.Gateway != nil {
		setString(&c.Gateway.HTTPAddress, o.Gateway.HTTPAddress)
		setString(&c.Gateway.NodeAddress, o.Gateway.NodeAddress)
		setString(&c.Gateway.Program, o.Gateway.Program)
		setString(&c.Gateway.MasterKeyPath, o.Gateway.MasterKeyPath)
		setString(&c.Gateway.SessionKeyPath, o.Gateway.SessionKeyPath)
		setString(&c.Gateway.DataPath, o.Gateway.DataPath)
		setString(&c.Gateway.LocatorBase, o.Gateway.LocatorBase)
		setDuration(&c.Gateway.ConfirmTimeout, o.Gateway.ConfirmTimeout)
		setDuration(&c.Gateway.TxTTL, o.Gateway.TxTTL)
	}

	if o.Auth != nil {
		setString(&c.Auth.DomainTag, o.Auth.DomainTag)
		setString(&c.Auth.Application, o.Auth.Application)
		setDuration(&c.Auth.ChallengeTTL, o.Auth.ChallengeTTL)
		setDuration(&c.Auth.SessionTTL, o.Auth.SessionTTL)

		if o.Auth.StrictAddressMatch != nil {
			c.Auth.StrictAddressMatch = *o.Auth.StrictAddressMatch
		}
		if o.Auth.AllowReducedAssurance != nil {
			c.Auth.AllowReducedAssurance = *o.Auth.AllowReducedAssurance
		}
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands environment references in path values.
func (c *Config) expandVariables() {
	for _, p := range []*string{
		&c.Node.DataPath,
		&c.Node.KeyPath,
		&c.Gateway.DataPath,
		&c.Gateway.MasterKeyPath,
		&c.Gateway.SessionKeyPath,
	} {
		*p = expandVars(*p)
	}
}

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}

		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}

	if _, err := ParseProgram(c.Node.Program); err != nil {
		errs = append(errs, fmt.Errorf("node.program: %w", err))
	}

	if _, err := ParseProgram(c.Gateway.Program); err != nil {
		errs = append(errs, fmt.Errorf("gateway.program: %w", err))
	}

	if c.Node.HTTPAddress == "" {
		errs = append(errs, errors.New("node.http_address is required"))
	}

	if c.Gateway.HTTPAddress == "" || c.Gateway.NodeAddress == "" {
		errs = append(errs, errors.New("gateway.http_address and gateway.node_address are required"))
	}

	if c.Gateway.ConfirmTimeout < 0 || c.Auth.ChallengeTTL < 0 || c.Auth.SessionTTL < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	return errors.Join(errs...)
}

// ParseProgram parses a program address. Empty yields address.Null.
func ParseProgram(s string) (address.Address, error) {
	if s == "" {
		return address.Null, nil
	}

	return address.Parse(s)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
