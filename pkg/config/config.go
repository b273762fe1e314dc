// Package config loads environment-driven settings, optionally seeded
// from a .env file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the gateway.
type Config struct {
	Port string

	// Gemini defaults; the runtime configure endpoint can override them.
	GeminiAPIKey string
	GeminiModel  string

	// Risk limits file (YAML). Empty or missing means built-in defaults.
	RiskConfigPath string

	// Database. Empty disables persistence of risk metrics and the
	// signal audit log.
	DBPath string

	// Auth
	JWTSecret string

	// Paper simulator LTP cache staleness bound, seconds.
	LTPMaxAgeSec int

	Language string // "en" or "hi"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8000"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		RiskConfigPath: getEnv("RISK_CONFIG_PATH", ""),
		DBPath:         getEnv("DB_PATH", "./data/chartvision.db"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		LTPMaxAgeSec:   getEnvInt("LTP_MAX_AGE_SEC", 30),
		Language:       getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
