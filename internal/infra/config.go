package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv  string
	Port    string
	APIKey  string
	BaseURL string // dashboard backend base URL (workflow engine + image history)

	RemoteBaseURL string // synchronous remote image API
	RemoteModel   string

	ServeKey    string   // inbound API key for the studio's own surface, optional
	CORSOrigins []string // allowed frontend origins
	DemoBackend bool     // run the bundled fake backend in-process

	StoreBackend string // "sqlite" or "postgres"
	StorePath    string // sqlite file location
	DatabaseURL  string // postgres DSN, required when StoreBackend is postgres

	PageSize     int
	MonitorDelay time.Duration
	SuccessGrace time.Duration
	FailureGrace time.Duration
	ResumeMaxAge time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from the environment, reading a local .env
// file first when present, and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		Port:    getEnv("PORT", "8090"),
		APIKey:  os.Getenv("STUDIO_API_KEY"),
		BaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8000/api"),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", "http://localhost:8000/api/google-ai"),
		RemoteModel:   getEnv("REMOTE_MODEL", "gemini-2.5-flash-image"),

		ServeKey:    os.Getenv("STUDIO_SERVE_KEY"),
		CORSOrigins: splitList(os.Getenv("CORS_ORIGINS")),
		DemoBackend: getEnv("DEMO_BACKEND", "false") == "true",

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		StorePath:    getEnv("STORE_PATH", "./studio.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		PageSize:     getEnvInt("HISTORY_PAGE_SIZE", 20),
		MonitorDelay: getEnvDuration("MONITOR_DELAY", 300*time.Millisecond),
		SuccessGrace: getEnvDuration("SUCCESS_GRACE", 5*time.Second),
		FailureGrace: getEnvDuration("FAILURE_GRACE", 8*time.Second),
		ResumeMaxAge: getEnvDuration("RESUME_MAX_AGE", time.Hour),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.APIKey == "" {
		if !cfg.DemoBackend {
			return nil, fmt.Errorf("STUDIO_API_KEY is required")
		}
		cfg.APIKey = "demo"
	}

	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres store backend")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
