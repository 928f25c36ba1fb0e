package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvListen      = "WALLETGATE_LISTEN"
	EnvRedisURL    = "WALLETGATE_REDIS_URL"
	EnvEvents      = "WALLETGATE_EVENTS"
	EnvSigningKey  = "WALLETGATE_SIGNING_KEY" // #nosec G101 -- name of the variable, not a credential
	EnvLogLevel    = "WALLETGATE_LOG_LEVEL"
	EnvLogPretty   = "WALLETGATE_LOG_PRETTY"
	EnvSessionTTL  = "WALLETGATE_SESSION_TTL"
	EnvSessionIdle = "WALLETGATE_SESSION_IDLE_TIMEOUT"
	EnvMaxLive     = "WALLETGATE_SESSION_MAX_LIVE"
	EnvRedirectURL = "WALLETGATE_REDIRECT_URL"
	EnvProverURL   = "WALLETGATE_PROVER_URL"
	EnvRPCURL      = "WALLETGATE_RPC_URL"
	EnvUnlock      = "WALLETGATE_UNLOCK_DURATION"
	EnvWarning     = "WALLETGATE_UNLOCK_WARNING"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.RedisURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvEvents); v != "" {
		cfg.Events = parseBool(v)
	}
	if v := os.Getenv(EnvSigningKey); v != "" {
		cfg.SigningKey = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogPretty); v != "" {
		cfg.Logging.Pretty = parseBool(v)
	}
	if d, ok := durationEnv(EnvSessionTTL); ok {
		cfg.Session.TTL = d
	}
	if d, ok := durationEnv(EnvSessionIdle); ok {
		cfg.Session.IdleTimeout = d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(EnvMaxLive))); err == nil && n > 0 {
		cfg.Session.MaxLive = n
	}
	if v := os.Getenv(EnvRedirectURL); v != "" {
		cfg.ZkLogin.RedirectURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvProverURL); v != "" {
		cfg.ZkLogin.ProverURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.ZkLogin.RPCURL = strings.TrimSpace(v)
	}
	if d, ok := durationEnv(EnvUnlock); ok {
		cfg.Unlock.Duration = d
	}
	if d, ok := durationEnv(EnvWarning); ok {
		cfg.Unlock.WarningTime = d
	}
}

func durationEnv(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
