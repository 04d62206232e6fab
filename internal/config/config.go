// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// minProductionSecretLen is the shortest HS256 secret accepted in production.
	minProductionSecretLen = 32

	defaultExecTimeout   = 5 * time.Minute
	defaultExecKillAfter = 15 * time.Minute
)

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string        // HS256 shared secret of the identity provider
	IssuerURL string        // OIDC issuer URL; enables OIDC verification
	JWKSURL   string        // JWKS URL override when the issuer has no discovery document
	Audience  string        // required audience claim (default "authenticated")
	RoleClaim string        // dotted path of the role claim (default "app_metadata.role")
	Leeway    time.Duration // clock skew tolerated on exp/nbf (default 0)
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// Enabled returns true when any verifier can be built.
func (a *AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.OIDCEnabled()
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if a.JWKSURL != "" && a.IssuerURL == "" {
		return fmt.Errorf("AUTH_ISSUER_URL is required when AUTH_JWKS_URL is set")
	}
	if a.Leeway < 0 {
		return fmt.Errorf("AUTH_LEEWAY must not be negative")
	}
	return nil
}

// Config holds the configuration of the service agent.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8100")
	MetaDBPath string // path to the SQLite store (config entries, operation log)
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Service registry
	ServicesBasePath string // directory service dirs are relative to (default "/root")
	ServicesFile     string // YAML registry file (default "services.yaml")

	// Executor
	DockerBinary  string        // docker CLI used for compose (default "docker")
	GitBinary     string        // git CLI used for updates (default "git")
	ExecTimeout   time.Duration // wait bound per executor call (default 5m)
	ExecKillAfter time.Duration // hard kill of a runaway command (default 15m)
	NativeRestart bool          // restart with force-recreate instead of stop+start (default true)

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second per client (default 10)
	RateLimitBurst int     // burst capacity (default 20)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Auth AuthConfig

	// SecretsKey is a hex-encoded 32-byte key. When set, secret config values
	// are sealed with AES-256-GCM before they are stored.
	SecretsKey string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the agent is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		MetaDBPath:       os.Getenv("META_DB_PATH"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		ServicesBasePath: os.Getenv("SERVICES_BASE_PATH"),
		ServicesFile:     os.Getenv("SERVICES_FILE"),
		DockerBinary:     os.Getenv("DOCKER_BINARY"),
		GitBinary:        os.Getenv("GIT_BINARY"),
		SecretsKey:       strings.TrimSpace(os.Getenv("CONFIG_ENCRYPTION_KEY")),
		NativeRestart:    parseBoolEnvDefault("NATIVE_RESTART", true),
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
			JWKSURL:   os.Getenv("AUTH_JWKS_URL"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
			RoleClaim: os.Getenv("AUTH_ROLE_CLAIM"),
		},
	}

	cfg.ExecTimeout = cfg.parseDuration("EXEC_TIMEOUT", defaultExecTimeout)
	cfg.ExecKillAfter = cfg.parseDuration("EXEC_KILL_AFTER", defaultExecKillAfter)
	cfg.Auth.Leeway = cfg.parseDuration("AUTH_LEEWAY", 0)

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid RATE_LIMIT_RPS %q", v))
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid RATE_LIMIT_BURST %q", v))
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8100"
	}
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "service_agent.sqlite"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ServicesBasePath == "" {
		cfg.ServicesBasePath = "/root"
	}
	if cfg.ServicesFile == "" {
		cfg.ServicesFile = "services.yaml"
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = "docker"
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "authenticated"
	}
	if cfg.Auth.RoleClaim == "" {
		cfg.Auth.RoleClaim = "app_metadata.role"
	}

	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExecKillAfter < cfg.ExecTimeout {
		return nil, fmt.Errorf("EXEC_KILL_AFTER (%s) must not be shorter than EXEC_TIMEOUT (%s)",
			cfg.ExecKillAfter, cfg.ExecTimeout)
	}
	if cfg.SecretsKey != "" {
		if key, err := hex.DecodeString(cfg.SecretsKey); err != nil || len(key) != 32 {
			return nil, fmt.Errorf("CONFIG_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
		}
	}
	if !cfg.Auth.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "no token verifier configured (set JWT_SECRET or AUTH_ISSUER_URL); only public endpoints will accept requests")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.Auth.Enabled() {
			return nil, fmt.Errorf("JWT_SECRET or AUTH_ISSUER_URL must be set in production (ENV=production)")
		}
		if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < minProductionSecretLen {
			return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLen)
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q, using %s", key, v, defaultVal))
		return defaultVal
	}
	return d
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
