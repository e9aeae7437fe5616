package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the demo configuration, loaded from the environment
type Config struct {
	// Size is the number of ranks in the group
	Size int `validate:"min=1"`

	// Arity is the spanning tree fan-out
	Arity int `validate:"min=1"`

	// Rounds is how many barrier rounds to run
	Rounds int `validate:"min=1"`

	// Transport selects the mesh or the WebSocket loopback group
	Transport string `validate:"oneof=mesh websocket"`

	// LogLevel and Pretty control log output
	LogLevel string `validate:"oneof=trace debug info warn error"`
	Pretty   bool

	// DebugAddr serves expvar and pprof when set
	DebugAddr string

	// StartTimeout bounds group linking in websocket mode
	StartTimeout time.Duration `validate:"min=1s"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Size:         getEnvAsInt("COLLECTIVE_SIZE", 4),
		Arity:        getEnvAsInt("COLLECTIVE_ARITY", 2),
		Rounds:       getEnvAsInt("COLLECTIVE_ROUNDS", 3),
		Transport:    getEnvWithDefault("COLLECTIVE_TRANSPORT", "mesh"),
		LogLevel:     getEnvWithDefault("COLLECTIVE_LOG_LEVEL", "info"),
		Pretty:       getEnvAsBool("COLLECTIVE_PRETTY", true),
		DebugAddr:    getEnvWithDefault("COLLECTIVE_DEBUG_ADDR", ""),
		StartTimeout: getEnvAsDuration("COLLECTIVE_START_TIMEOUT", 10*time.Second),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
