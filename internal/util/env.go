package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

func GetEnv(key string) string {
	return os.Getenv(key)
}

func GetEnvString(key string, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return value
}

func GetEnvInt(key string, defaultValue int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logger.Warn("Invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

// GetEnvBool accepts the values understood by strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvDuration parses Go duration syntax such as "30m" or "1h30m".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		logger.Warn("Invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}
