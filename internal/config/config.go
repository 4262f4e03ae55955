package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv    string
	Port      string
	EventsDir string
	RigsDir   string
	SecretKey string
	LogLevel  string
	LogFormat string

	SweepInterval    time.Duration
	MaxClientsPerRig int

	// Connection limits for the websocket endpoint.
	MaxConnsPerIP     int
	ConnectRatePerSec float64
	ConnectBurst      int
}

func Load() (*Config, error) {
	// Missing .env is fine, system env and defaults take over.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		EventsDir:         getEnv("EVENTS_DIR", "configs/events"),
		RigsDir:           getEnv("RIGS_DIR", "configs/rigs"),
		SecretKey:         getEnv("SECRET_KEY", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		SweepInterval:     time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		MaxClientsPerRig:  getEnvInt("MAX_CLIENTS_PER_RIG", 50),
		MaxConnsPerIP:     getEnvInt("MAX_CONNS_PER_IP", 20),
		ConnectRatePerSec: getEnvFloat("CONNECT_RATE_PER_SEC", 10),
		ConnectBurst:      getEnvInt("CONNECT_BURST", 10),
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}
	if cfg.SweepInterval < time.Second {
		return nil, fmt.Errorf("SWEEP_INTERVAL_SECONDS must be at least 1")
	}
	if cfg.MaxClientsPerRig < 1 {
		return nil, fmt.Errorf("MAX_CLIENTS_PER_RIG must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
