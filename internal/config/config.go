// Package config centralizes how Dokey reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration shared by the server, the worker
// and the CLI.
type Config struct {
	Address     string
	DatabaseURL string
	PublicURL   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Bucket    string

	MaxUploadBytes int64

	SigningSecret      []byte
	LinkTTL            time.Duration
	RequireSignedLinks bool

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	SyncWindow   time.Duration
	TxMaxWait    time.Duration
	TxTimeout    time.Duration
	SyncLeaseTTL time.Duration

	WorkerConcurrency int

	LogLevel  string
	LogFormat string
}

const (
	defaultAddress        = ":8080"
	defaultPublicURL      = "http://localhost:8080"
	defaultRedisAddr      = "localhost:6379"
	defaultS3Bucket       = "dokey-documents"
	defaultS3Region       = "us-east-1"
	defaultMaxUploadBytes = 25 << 20 // 25 MiB
	defaultLinkTTL        = 7 * 24 * time.Hour
	defaultSMTPPort       = 587
	defaultSMTPFrom       = "Dokey <no-reply@dokey.local>"
	defaultSyncWindow     = 2 * time.Second
	defaultTxMaxWait      = 5 * time.Second
	defaultTxTimeout      = 20 * time.Second
	defaultSyncLeaseTTL   = 30 * time.Second
	defaultWorkerCount    = 4
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Load reads configuration from environment variables falling back to
// defaults. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Address:     readEnv("DOKEY_ADDRESS", defaultAddress),
		DatabaseURL: readEnv("DOKEY_DATABASE_URL", ""),
		PublicURL:   strings.TrimRight(readEnv("DOKEY_PUBLIC_URL", defaultPublicURL), "/"),

		RedisAddr:     readEnv("DOKEY_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("DOKEY_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("DOKEY_REDIS_DB", 0),

		S3Endpoint:  readEnv("DOKEY_S3_ENDPOINT", ""),
		S3AccessKey: readEnv("DOKEY_S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("DOKEY_S3_SECRET_KEY", ""),
		S3Region:    readEnv("DOKEY_S3_REGION", defaultS3Region),
		S3UseSSL:    parseBool("DOKEY_S3_USE_SSL", false),
		S3Bucket:    readEnv("DOKEY_S3_BUCKET", defaultS3Bucket),

		MaxUploadBytes: parseInt64("DOKEY_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),

		SigningSecret:      parseSecret("DOKEY_SIGNING_SECRET"),
		LinkTTL:            parseDuration("DOKEY_LINK_TTL", defaultLinkTTL),
		RequireSignedLinks: parseBool("DOKEY_REQUIRE_SIGNED_LINKS", false),

		SMTPHost:     readEnv("DOKEY_SMTP_HOST", ""),
		SMTPPort:     parseInt("DOKEY_SMTP_PORT", defaultSMTPPort),
		SMTPUser:     readEnv("DOKEY_SMTP_USER", ""),
		SMTPPassword: readEnv("DOKEY_SMTP_PASSWORD", ""),
		SMTPFrom:     readEnv("DOKEY_SMTP_FROM", defaultSMTPFrom),

		SyncWindow:   parseDuration("DOKEY_SYNC_WINDOW", defaultSyncWindow),
		TxMaxWait:    parseDuration("DOKEY_TX_MAX_WAIT", defaultTxMaxWait),
		TxTimeout:    parseDuration("DOKEY_TX_TIMEOUT", defaultTxTimeout),
		SyncLeaseTTL: parseDuration("DOKEY_SYNC_LEASE_TTL", defaultSyncLeaseTTL),

		WorkerConcurrency: parseInt("DOKEY_WORKERS", defaultWorkerCount),

		LogLevel:  readEnv("DOKEY_LOG_LEVEL", defaultLogLevel),
		LogFormat: readEnv("DOKEY_LOG_FORMAT", defaultLogFormat),
	}
	if cfg.SigningSecret == nil {
		// Links minted with a random secret stop validating after a restart.
		cfg.SigningSecret = randomSecret()
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.SyncWindow <= 0 {
		cfg.SyncWindow = defaultSyncWindow
	}
	if cfg.TxMaxWait <= 0 {
		cfg.TxMaxWait = defaultTxMaxWait
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}
	if cfg.SyncLeaseTTL <= 0 {
		cfg.SyncLeaseTTL = defaultSyncLeaseTTL
	}
	return cfg, nil
}

// S3Enabled reports whether object storage is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != ""
}

// SMTPEnabled reports whether invitations are sent over SMTP.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	// Invalid input falls back to the default rather than failing startup.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
