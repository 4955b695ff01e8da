package app

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" (default) or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// FrontendOrigins are the browser origins allowed by CORS and by the WebSocket origin check.
	FrontendOrigins []string

	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBSchema         string
	DBEnsureSchema   bool
	ReconcileRetries int

	// RedisURL enables the Redis-backed summary reconcile queue.
	RedisURL string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the process environment win.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		FrontendOrigins:      EnvCSV("CHAT_FRONTEND_ORIGIN", []string{"http://localhost:3000"}),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL:      EnvString("CHAT_DATABASE_URL", ""),
		DBMaxConns:       EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("CHAT_DB_MIN_CONNS", 0),
		DBSchema:         EnvString("CHAT_DB_SCHEMA", "marketchat"),
		DBEnsureSchema:   EnvBool("CHAT_DB_ENSURE_SCHEMA", false),
		ReconcileRetries: EnvInt("CHAT_WS_RECONCILE_ATTEMPTS", 5),

		RedisURL: EnvString("CHAT_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),
	}
}
