// Package config loads application configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to an
// environment variable.
type Config struct {
	Env            string        // APP_ENV (development, test, production)
	Port           string        // APP_PORT
	DBUser         string        // DB_USER
	DBPass         string        // DB_PASS (optional)
	DBHost         string        // DB_HOST
	DBPort         string        // DB_PORT
	DBName         string        // DB_NAME
	JWTSecret      string        // JWT_SECRET
	AccessTTL      time.Duration // ACCESS_TOKEN_TTL_MIN
	RefreshTTL     time.Duration // REFRESH_TOKEN_TTL_DAYS
	ResetTTL       time.Duration // RESET_TOKEN_TTL (default 24h)
	BcryptCost     int           // BCRYPT_COST
	VerifyUserInDB bool          // AUTH_VERIFY_USER_IN_DB
	RabbitURL      string        // RABBITMQ_URL, empty disables the broker
	AuditLogDir    string        // AUDIT_LOG_DIR (default logs)
	SweepSchedule  string        // TOKEN_SWEEP_SCHEDULE, cron spec (default @hourly)
	LogLevel       string        // LOG_LEVEL (default info)
}

// Load reads .env when present and then the environment. Missing required
// variables stop the program, as does a failed Validate.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}

	cfg := Config{
		Env:            envStr("APP_ENV", "development"),
		Port:           envStr("APP_PORT", "8080"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         envStr("DB_PORT", "3306"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTL:      time.Duration(envInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTTL:     time.Duration(envInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		ResetTTL:       envDur("RESET_TOKEN_TTL", 24*time.Hour),
		BcryptCost:     envInt("BCRYPT_COST", 12),
		VerifyUserInDB: envBool("AUTH_VERIFY_USER_IN_DB", true),
		RabbitURL:      rabbitURL(),
		AuditLogDir:    envStr("AUDIT_LOG_DIR", "logs"),
		SweepSchedule:  envStr("TOKEN_SWEEP_SCHEDULE", "@hourly"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// knownDefaultSecrets are placeholder secrets seen in sample env files and
// tutorials. Matching is exact and case-insensitive.
var knownDefaultSecrets = map[string]struct{}{
	"secret":                               {},
	"changeme":                             {},
	"change-me":                            {},
	"supersecret":                          {},
	"jwt-secret":                           {},
	"your_jwt_secret":                      {},
	"your-secret-key":                      {},
	"your-256-bit-secret":                  {},
	"your-secret-key-change-in-production": {},
	"change-this-to-a-long-random-secret":  {},
	"please-change-this-jwt-secret-value":  {},
}

// MinProductionSecretLen is the shortest JWT secret accepted in production.
const MinProductionSecretLen = 32

// minSecretDistinctBytes rejects secrets such as "aaaa..." or "abab...".
const minSecretDistinctBytes = 8

// Validate rejects unusable settings. In production the JWT secret must not
// be a known placeholder, must be at least MinProductionSecretLen bytes and
// must not be a run of a few repeated characters.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ResetTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST %d out of range [4,31]", c.BcryptCost)
	}
	if !c.IsProduction() {
		return nil
	}
	if _, ok := knownDefaultSecrets[strings.ToLower(strings.TrimSpace(c.JWTSecret))]; ok {
		return errors.New("JWT_SECRET is a known placeholder")
	}
	if len(c.JWTSecret) < MinProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", MinProductionSecretLen)
	}
	if distinctBytes(c.JWTSecret) < minSecretDistinctBytes {
		return errors.New("JWT_SECRET is too repetitive")
	}
	return nil
}

func distinctBytes(s string) int {
	var seen [256]bool
	n := 0
	for i := 0; i < len(s); i++ {
		if !seen[s[i]] {
			seen[s[i]] = true
			n++
		}
	}
	return n
}

func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
