package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEnvironment    = "development"
	DefaultMapKey         = "CaskProviderMap"
	DefaultReconnectDelay = 5 * time.Second
	DefaultWebhookTimeout = 15 * time.Second
)

// Mode selects how provider endpoints are sourced.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// Config holds the YAML configuration, with environment variables filling unset fields.
type Config struct {
	Version  int           `yaml:"version"`
	Chain    ChainConfig   `yaml:"chain"`
	Single   SingleTenant  `yaml:"single"`
	Multi    MultiTenant   `yaml:"multi"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Verbose  bool          `yaml:"verbose"`
	LogLevel string        `yaml:"log_level"`
	DBPath   string        `yaml:"db_path"`
}

// ChainConfig locates the node and the subscriptions contract.
type ChainConfig struct {
	WSURL       string                       `yaml:"ws_url"`
	Environment string                       `yaml:"environment"`
	ChainID     uint64                       `yaml:"chain_id"`
	Contract    string                       `yaml:"contract"`
	ABIPath     string                       `yaml:"abi_path"`
	Deployments map[string]map[uint64]string `yaml:"deployments"`
	Reconnect   Reconnect                    `yaml:"reconnect"`
}

// Reconnect is the fixed-delay policy for the chain stream. MaxAttempts 0 retries forever.
type Reconnect struct {
	Delay       string `yaml:"delay"`
	MaxAttempts uint64 `yaml:"max_attempts"`
}

// SingleTenant routes a fixed provider list to one endpoint.
type SingleTenant struct {
	Providers string `yaml:"providers"`
	Endpoint  string `yaml:"endpoint"`
}

// MultiTenant reads provider endpoints from a Redis hash.
type MultiTenant struct {
	RedisURL string `yaml:"redis_url"`
	MapKey   string `yaml:"map_key"`
}

// WebhookConfig bounds outbound delivery. Timeout is a Go duration string.
type WebhookConfig struct {
	Timeout string `yaml:"timeout"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads the config file when present, interpolates env vars, fills unset fields from the
// environment, applies defaults, and validates. A missing file means environment-only config.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			interpolated, err := interpolateEnv(string(raw))
			if err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
			cfg.Version = 1
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.Version = 1
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := ".env"
	if configPath != "" {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyEnv() error {
	setIfEmpty(&c.Chain.WSURL, "WEBSOCKET_PROVIDER")
	setIfEmpty(&c.Chain.Environment, "CASK_ENVIRONMENT")
	setIfEmpty(&c.Chain.Contract, "CASK_SUBSCRIPTIONS_ADDRESS")
	setIfEmpty(&c.Single.Providers, "PROVIDER_ADDRESS")
	setIfEmpty(&c.Single.Endpoint, "WEBHOOK_ENDPOINT")
	setIfEmpty(&c.Multi.RedisURL, "REDIS_URL")
	setIfEmpty(&c.Multi.MapKey, "REDIS_PROVIDER_MAP_KEY")
	setIfEmpty(&c.DBPath, "CASK_BRIDGE_DB")
	setIfEmpty(&c.LogLevel, "LOG_LEVEL")

	if c.Chain.ChainID == 0 {
		if v, ok := os.LookupEnv("CASK_CHAIN_ID"); ok && v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parse CASK_CHAIN_ID %q: %w", v, err)
			}
			c.Chain.ChainID = id
		}
	}
	if !c.Verbose && os.Getenv("VERBOSE") == "1" {
		c.Verbose = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Chain.Environment == "" {
		c.Chain.Environment = DefaultEnvironment
	}
	if c.Multi.MapKey == "" {
		c.Multi.MapKey = DefaultMapKey
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Mode reports which deployment mode the config selects.
func (c *Config) Mode() Mode {
	if c.Multi.RedisURL != "" {
		return ModeMulti
	}
	return ModeSingle
}

// ReconnectDelay returns the configured reconnect delay or the default.
func (c *Config) ReconnectDelay() time.Duration {
	return durationOr(c.Chain.Reconnect.Delay, DefaultReconnectDelay)
}

// WebhookTimeout returns the per-request webhook timeout or the default.
func (c *Config) WebhookTimeout() time.Duration {
	return durationOr(c.Webhook.Timeout, DefaultWebhookTimeout)
}

// ContractFor resolves the subscriptions contract for the configured environment and chain.
// An explicit chain.contract wins over the deployments table.
func (c *Config) ContractFor(chainID uint64) (common.Address, error) {
	if c.Chain.Contract != "" {
		return common.HexToAddress(c.Chain.Contract), nil
	}
	byChain, ok := c.Chain.Deployments[c.Chain.Environment]
	if !ok {
		return common.Address{}, fmt.Errorf("no deployments for environment %q", c.Chain.Environment)
	}
	addr, ok := byChain[chainID]
	if !ok || addr == "" {
		return common.Address{}, fmt.Errorf("no subscriptions contract for environment %q on chain %d", c.Chain.Environment, chainID)
	}
	return common.HexToAddress(addr), nil
}

// ProviderList splits the single-tenant provider setting on commas.
func (c *Config) ProviderList() []string {
	return SplitProviders(c.Single.Providers)
}

// SplitProviders splits a comma-separated provider list, dropping blanks.
func SplitProviders(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	hasSingle := c.Single.Providers != "" || c.Single.Endpoint != ""
	hasMulti := c.Multi.RedisURL != ""
	switch {
	case hasSingle && hasMulti:
		return errors.New("configure either single (providers/endpoint) or multi (redis_url), not both")
	case hasMulti:
		if _, err := url.Parse(c.Multi.RedisURL); err != nil {
			return fmt.Errorf("multi.redis_url: %w", err)
		}
	case hasSingle:
		if err := c.Single.Validate(); err != nil {
			return fmt.Errorf("single: %w", err)
		}
	default:
		return errors.New("either single.providers + single.endpoint or multi.redis_url is required")
	}

	if c.Webhook.Timeout != "" {
		if err := positiveDuration(c.Webhook.Timeout); err != nil {
			return fmt.Errorf("webhook.timeout: %w", err)
		}
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.WSURL == "" {
		return errors.New("ws_url is required")
	}
	if c.Contract != "" && !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("contract %q is not an address", c.Contract)
	}
	for env, byChain := range c.Deployments {
		for id, addr := range byChain {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("deployments.%s.%d: %q is not an address", env, id, addr)
			}
		}
	}
	if c.Reconnect.Delay != "" {
		if err := positiveDuration(c.Reconnect.Delay); err != nil {
			return fmt.Errorf("reconnect.delay: %w", err)
		}
	}
	return nil
}

func (s *SingleTenant) Validate() error {
	providers := SplitProviders(s.Providers)
	if len(providers) == 0 {
		return errors.New("providers is required")
	}
	for _, p := range providers {
		if !common.IsHexAddress(p) {
			return fmt.Errorf("provider %q is not an address", p)
		}
	}
	if s.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must be http or https", s.Endpoint)
	}
	return nil
}

func setIfEmpty(dst *string, env string) {
	if *dst != "" {
		return
	}
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", s)
	}
	return nil
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
