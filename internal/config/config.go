// Package config loads the gateway configuration from the environment. A
// .env file in the working directory is honoured for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
)

// Config is the fully resolved gateway configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// DatabaseURL switches persistence to PostgreSQL when set; empty keeps
	// the in-memory stores.
	DatabaseURL string

	// Chain settlement backend. All three must be set together; when absent
	// the engine runs against the in-memory ledger.
	RPCURL         string
	TokenHash      string
	CustodyAddress string

	// JWTSecret signs and verifies API tokens (HS256).
	JWTSecret string

	// Admins and Operators are the bootstrap role allowlists.
	Admins    []string
	Operators []string

	// WithdrawRole designates which role may draw down the reserve.
	WithdrawRole auth.Role

	// MonitorSchedule is the reserve check cron spec.
	MonitorSchedule string

	// AuditLogPath enables the JSONL audit sink when set.
	AuditLogPath string

	// RateLimit caps authenticated requests per second per identity.
	RateLimit      int
	RateLimitBurst int

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. Missing optional
// values fall back to development defaults; validation failures are
// returned, not defaulted.
func Load() (Config, error) {
	// Ignore the error: a missing .env file simply means production-style
	// environment configuration.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      getEnv("BRIDGE_LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RPCURL:          os.Getenv("NEO_RPC_URL"),
		TokenHash:       os.Getenv("IDRX_TOKEN_HASH"),
		CustodyAddress:  os.Getenv("BRIDGE_CUSTODY_ADDRESS"),
		JWTSecret:       os.Getenv("BRIDGE_JWT_SECRET"),
		Admins:          parseCSV(os.Getenv("BRIDGE_ADMIN_IDS")),
		Operators:       parseCSV(os.Getenv("BRIDGE_OPERATOR_IDS")),
		MonitorSchedule: getEnv("BRIDGE_MONITOR_SCHEDULE", "@every 1m"),
		AuditLogPath:    os.Getenv("BRIDGE_AUDIT_LOG_PATH"),
		ShutdownTimeout: 15 * time.Second,
	}

	role := strings.TrimSpace(os.Getenv("BRIDGE_WITHDRAW_ROLE"))
	if role == "" {
		cfg.WithdrawRole = auth.RoleAdmin
	} else {
		parsed, err := auth.ParseRole(role)
		if err != nil {
			return Config{}, fmt.Errorf("BRIDGE_WITHDRAW_ROLE: %w", err)
		}
		cfg.WithdrawRole = parsed
	}

	var err error
	if cfg.RateLimit, err = getEnvInt("BRIDGE_RATE_LIMIT", 20); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("BRIDGE_RATE_LIMIT_BURST", 40); err != nil {
		return Config{}, err
	}

	if len(cfg.Admins) == 0 {
		return Config{}, fmt.Errorf("BRIDGE_ADMIN_IDS must name at least one identity")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("BRIDGE_JWT_SECRET is required")
	}

	chainVars := 0
	for _, v := range []string{cfg.RPCURL, cfg.TokenHash, cfg.CustodyAddress} {
		if strings.TrimSpace(v) != "" {
			chainVars++
		}
	}
	if chainVars != 0 && chainVars != 3 {
		return Config{}, fmt.Errorf("NEO_RPC_URL, IDRX_TOKEN_HASH and BRIDGE_CUSTODY_ADDRESS must be set together")
	}

	return cfg, nil
}

// ChainBacked reports whether the engine settles against a live chain node.
func (c Config) ChainBacked() bool {
	return strings.TrimSpace(c.RPCURL) != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
