package config

import (
	"os"
	"strconv"

	"stakematch/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort   string
	JWTSecret string

	// Redis rate limiter for queue joins (optional, fail-open when unset)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional match archive
	DatabaseURL string

	// Chain gateway for stake locking / settlement lookups
	ChainGatewayURL string
	ChainAPIKey     string

	// Stake limits
	MinStake int64
	MaxStake int64

	LogLevel string
	LogJSON  bool
}

// Load reads configuration from the environment (.env supported in dev).
func Load() *Config {
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	minStake := int64(1)
	if v := os.Getenv("MIN_STAKE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			minStake = n
		}
	}

	maxStake := int64(100000)
	if v := os.Getenv("MAX_STAKE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxStake = n
		}
	}

	return &Config{
		AppPort:         port,
		JWTSecret:       jwtSecret,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         redisDB,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ChainGatewayURL: os.Getenv("CHAIN_GATEWAY_URL"),
		ChainAPIKey:     os.Getenv("CHAIN_API_KEY"),
		MinStake:        minStake,
		MaxStake:        maxStake,
		LogLevel:        envDefault("LOG_LEVEL", "info"),
		LogJSON:         os.Getenv("LOG_JSON") == "true",
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
