package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	FrontendURL    string
	JWTSecret      string

	// Redis backs cross-instance broadcast fan-out; optional.
	RedisURL      string
	RedisPassword string

	// Collaboration timeouts. IdleTimeout is informational: idle transitions
	// are driven by the client, not enforced here.
	SessionTimeout  time.Duration
	LockTTL         time.Duration
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
}

var AppConfig *Config

func LoadConfig() *Config {
	port := GetEnv("PORT", "8080")

	// Frontend & CORS
	frontendURL := GetEnv("FRONTEND_URL", "http://localhost:5173")
	allowedOriginsStr := GetEnv("ALLOWED_ORIGINS", "")

	// Build allowed origins list (Frontend URL + Localhost + CSV values)
	allowedOrigins := []string{
		frontendURL,
		"http://localhost:5173", // Local development
	}
	if allowedOriginsStr != "" {
		extras := strings.Split(allowedOriginsStr, ",")
		for _, origin := range extras {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	// Security
	jwtSecret := GetEnv("JWT_SECRET", "your-secret-key-change-this-in-production")

	AppConfig = &Config{
		Port:            port,
		AllowedOrigins:  allowedOrigins,
		FrontendURL:     frontendURL,
		JWTSecret:       jwtSecret,
		RedisURL:        GetEnv("REDIS_URL", ""),
		RedisPassword:   GetEnv("REDIS_PASSWORD", ""),
		SessionTimeout:  GetEnvAsDuration("SESSION_TIMEOUT_SECONDS", 60),
		LockTTL:         GetEnvAsDuration("LOCK_TTL_SECONDS", 120),
		IdleTimeout:     GetEnvAsDuration("IDLE_TIMEOUT_SECONDS", 300),
		JanitorInterval: GetEnvAsDuration("JANITOR_INTERVAL_SECONDS", 30),
	}

	return AppConfig
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvAsDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(GetEnvAsInt(key, defaultSeconds)) * time.Second
}
