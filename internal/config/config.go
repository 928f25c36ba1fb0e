// Package config provides configuration management for walletgate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration.
type Config struct {
	Listen     string          `yaml:"listen"`
	RedisURL   string          `yaml:"redis_url"`
	Events     bool            `yaml:"events"`
	SigningKey string          `yaml:"signing_key"`
	Logging    LoggingConfig   `yaml:"logging"`
	Session    SessionConfig   `yaml:"session"`
	ZkLogin    ZkLoginConfig   `yaml:"zklogin"`
	Unlock     UnlockConfig    `yaml:"unlock"`
	Extension  ExtensionConfig `yaml:"extension"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// SessionConfig defines browser session settings.
type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"` // locked sessions left untouched lose their in-memory flows
	MaxLive      int           `yaml:"max_live"`     // bound on sessions with in-memory flows
}

// ProviderConfig is one OpenID Connect identity provider.
type ProviderConfig struct {
	Name     string `yaml:"name"`
	AuthURL  string `yaml:"auth_url"`
	ClientID string `yaml:"client_id"`
}

// ZkLoginConfig defines zk login settings.
type ZkLoginConfig struct {
	Providers     []ProviderConfig `yaml:"providers"`
	RedirectURL   string           `yaml:"redirect_url"`
	ProverURL     string           `yaml:"prover_url"`
	ProverTimeout time.Duration    `yaml:"prover_timeout"`
	RPCURL        string           `yaml:"rpc_url"`
	EpochMargin   uint64           `yaml:"epoch_margin"`
	KeyClaimName  string           `yaml:"key_claim_name"`
}

// UnlockConfig defines the time-boxed unlock session.
type UnlockConfig struct {
	Duration     time.Duration `yaml:"duration"`
	WarningTime  time.Duration `yaml:"warning_time"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// WalletConfig is a wallet extension offered to users.
type WalletConfig struct {
	Name        string `yaml:"name"`
	IconURL     string `yaml:"icon_url"`
	DownloadURL string `yaml:"download_url"`
}

// ExtensionConfig defines extension wallet settings.
type ExtensionConfig struct {
	Wallets         []WalletConfig `yaml:"wallets"`
	ObserveInterval time.Duration  `yaml:"observe_interval"`
}

// RateLimitConfig limits requests per client on auth routes.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Defaults returns the configuration used when no file overrides a value.
func Defaults() *Config {
	return &Config{
		Listen:   ":9000",
		RedisURL: "redis://localhost:6379/0",
		Events:   true,
		Logging: LoggingConfig{
			Level: "info",
		},
		Session: SessionConfig{
			TTL:         12 * time.Hour,
			IdleTimeout: 30 * time.Minute,
			MaxLive:     10000,
		},
		ZkLogin: ZkLoginConfig{
			ProverTimeout: 30 * time.Second,
			EpochMargin:   2,
			KeyClaimName:  "sub",
		},
		Unlock: UnlockConfig{
			Duration:     30 * time.Minute,
			WarningTime:  5 * time.Minute,
			TickInterval: time.Second,
		},
		Extension: ExtensionConfig{
			ObserveInterval: time.Second,
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// Load reads configuration from path on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// #nosec G304 -- config file path is operator input
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.IdleTimeout <= 0 || c.Session.MaxLive <= 0 {
		errs = append(errs, errors.New("session.idle_timeout and session.max_live must be positive"))
	}
	if c.Unlock.Duration <= 0 {
		errs = append(errs, errors.New("unlock.duration must be positive"))
	}
	if c.Unlock.WarningTime < 0 || c.Unlock.WarningTime >= c.Unlock.Duration {
		errs = append(errs, errors.New("unlock.warning_time must be within unlock.duration"))
	}
	if c.Unlock.TickInterval <= 0 {
		errs = append(errs, errors.New("unlock.tick_interval must be positive"))
	}
	if c.Extension.ObserveInterval <= 0 {
		errs = append(errs, errors.New("extension.observe_interval must be positive"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive"))
	}

	if len(c.ZkLogin.Providers) > 0 {
		if _, err := url.ParseRequestURI(c.ZkLogin.RedirectURL); err != nil {
			errs = append(errs, fmt.Errorf("zklogin.redirect_url: %w", err))
		}
		if c.ZkLogin.ProverURL == "" || c.ZkLogin.RPCURL == "" {
			errs = append(errs, errors.New("zklogin.prover_url and zklogin.rpc_url are required with providers"))
		}
	}
	seen := make(map[string]bool)
	for _, p := range c.ZkLogin.Providers {
		if p.Name == "" || p.ClientID == "" {
			errs = append(errs, errors.New("zklogin provider needs name and client_id"))
			continue
		}
		if _, err := url.ParseRequestURI(p.AuthURL); err != nil {
			errs = append(errs, fmt.Errorf("zklogin provider %s auth_url: %w", p.Name, err))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("zklogin provider %s declared twice", p.Name))
		}
		seen[p.Name] = true
	}

	return errors.Join(errs...)
}
