package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PlaceholderAPIKey is the value shipped in .env.example. It counts as unset.
const PlaceholderAPIKey = "your_google_api_key_here"

type Config struct {
	// Server
	Port         string
	Env          string
	StaticDir    string
	WriteTimeout time.Duration
	// TrustProxy lets X-Forwarded-For / X-Real-IP pick the client address.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	GeminiSlotWait       time.Duration

	// Rate limiting
	RateLimitPerMin int
	RedisURL        string

	// CORS
	CORSOrigins []string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "3000"),
		Env:                  getEnvOrDefault("ENV", "development"),
		StaticDir:            getEnvOrDefault("STATIC_DIR", "./public"),
		WriteTimeout:         time.Duration(getEnvAsIntOrDefault("HTTP_WRITE_TIMEOUT_SECONDS", 120)) * time.Second,
		TrustProxy:           getEnvAsBoolOrDefault("TRUST_PROXY", false),
		GeminiAPIKey:         getEnvOrDefault("GOOGLE_API_KEY", os.Getenv("GEMINI_API_KEY")),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-pro"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GeminiSlotWait:       time.Duration(getEnvAsIntOrDefault("GEMINI_SLOT_WAIT_SECONDS", 30)) * time.Second,
		RateLimitPerMin:      getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		CORSOrigins:          splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
	}

	if cfg.GeminiConcurrentReqs < 1 {
		cfg.GeminiConcurrentReqs = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	// A 429 for a request that never got a Gemini slot must be written
	// before the server's write deadline, with room left for the call itself.
	if cfg.GeminiSlotWait <= 0 || cfg.GeminiSlotWait >= cfg.WriteTimeout/2 {
		cfg.GeminiSlotWait = cfg.WriteTimeout / 4
	}

	return cfg
}

// APIKeyConfigured reports whether a real Gemini key is present.
func (c *Config) APIKeyConfigured() bool {
	return IsAPIKeyConfigured(c.GeminiAPIKey)
}

func IsAPIKeyConfigured(key string) bool {
	return key != "" && key != PlaceholderAPIKey
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
