package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PaymentMode gates whether payment is required before a skill releases a
// proof, and which network tier settlement targets.
type PaymentMode string

const (
	PaymentModeDisabled PaymentMode = "disabled"
	PaymentModeTestnet  PaymentMode = "testnet"
	PaymentModeMainnet  PaymentMode = "mainnet"
)

// TEEMode selects how enclave proving and attestation are sourced.
type TEEMode string

const (
	TEEModeDisabled  TEEMode = "disabled"
	TEEModeLocal     TEEMode = "local"
	TEEModeEnclaveHW TEEMode = "enclave-hw"
)

// Config is the complete runtime configuration for the coordination
// service: network parameters (reused from the x402/EIP-712 stack this
// repository builds on), plus the service-level settings spec.md §6 names
// (ports, KV URL, circuits directory, operator key, payment/TEE mode,
// session TTL, optional LLM provider keys).
type Config struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
	EIP712   EIP712Config             `yaml:"eip712"`
	Logging  LoggingConfig            `yaml:"logging"`
	Cache    CacheConfig              `yaml:"cache"`
	Service  ServiceConfig            `yaml:"service"`
	LLM      LLMConfig                `yaml:"llm"`
}

// EIP712Config contains EIP-712 domain parameters for authorization-header
// verification.
type EIP712Config struct {
	DomainName    string `yaml:"domain_name"`    // "USD Coin"
	DomainVersion string `yaml:"domain_version"` // "2"
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `yaml:"format"` // json
}

// CacheConfig defines TTLs for cached state that isn't already named in
// spec.md's persisted-state layout (e.g. facilitator idempotency caching).
type CacheConfig struct {
	SettlementTTLMinutes int `yaml:"settlement_ttl_minutes"` // 10
}

// ServiceConfig covers the service-level environment variables spec.md §6
// names: ports, base URL, KV URL, circuits directory, operator key,
// facilitator URL, price string, payment mode, TEE mode, attestation
// enablement, session TTL.
type ServiceConfig struct {
	HTTPPort             int         `yaml:"http_port"`
	BaseURL              string      `yaml:"base_url"`
	KVURL                string      `yaml:"kv_url"`
	CircuitsDir          string      `yaml:"circuits_dir"`
	OperatorKey          string      `yaml:"operator_key"`
	FacilitatorURL       string      `yaml:"facilitator_url"`
	PriceString          string      `yaml:"price"`
	PaymentMode          PaymentMode `yaml:"payment_mode"`
	TEEMode              TEEMode     `yaml:"tee_mode"`
	AttestationEnabled   bool        `yaml:"attestation_enabled"`
	SessionTTLSeconds    int         `yaml:"session_ttl_seconds"`
	EnclaveSocketPath    string      `yaml:"enclave_socket_path"`
}

// LLMConfig holds the optional provider keys used by the chat-completions
// adapter's bounded tool-calling loop. Only OpenAIAPIKey is read: the
// OpenAI-compatible model is built with it even when it is empty.
// AnthropicAPIKey is parsed but no component uses it. The chat adapter
// itself is always mounted.
type LLMConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
}

// LoadConfig reads the YAML configuration file, expanding `${VAR}`
// environment-variable references before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration is present and internally
// consistent, returning a non-nil error for every case spec.md §6 names as
// a startup failure (missing required config, invalid operator key for a
// non-disabled payment mode).
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	for name, network := range c.Networks {
		if err := network.Validate(); err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}
	}

	if c.EIP712.DomainName == "" {
		return fmt.Errorf("eip712.domain_name is required")
	}
	if c.EIP712.DomainVersion == "" {
		return fmt.Errorf("eip712.domain_version is required")
	}
	if c.Cache.SettlementTTLMinutes <= 0 {
		return fmt.Errorf("cache.settlement_ttl_minutes must be > 0")
	}

	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service: %w", err)
	}

	return nil
}

// Validate checks the service-level settings, enforcing spec.md §6's
// startup-failure rules for payment mode and operator key.
func (s *ServiceConfig) Validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be in (0, 65535]")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if s.KVURL == "" {
		return fmt.Errorf("kv_url is required")
	}
	if s.CircuitsDir == "" {
		return fmt.Errorf("circuits_dir is required")
	}
	if s.SessionTTLSeconds <= 0 {
		return fmt.Errorf("session_ttl_seconds must be > 0")
	}

	switch s.PaymentMode {
	case PaymentModeDisabled, PaymentModeTestnet, PaymentModeMainnet:
	default:
		return fmt.Errorf("invalid payment_mode '%s'", s.PaymentMode)
	}

	if s.PaymentMode != PaymentModeDisabled && s.OperatorKey == "" {
		return fmt.Errorf("operator_key is required when payment_mode is not disabled")
	}

	switch s.TEEMode {
	case TEEModeDisabled, TEEModeLocal, TEEModeEnclaveHW:
	default:
		return fmt.Errorf("invalid tee_mode '%s'", s.TEEMode)
	}

	if s.TEEMode == TEEModeEnclaveHW && s.EnclaveSocketPath == "" {
		return fmt.Errorf("enclave_socket_path is required when tee_mode is enclave-hw")
	}

	return nil
}
