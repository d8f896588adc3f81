package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AllowedOrigin  string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	BranchID       string
	IdentitySecret string
	LogLevel       string
}

// Load reads configuration from the environment, after merging a local .env
// file when one exists. Set variables always win over .env values.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		BranchID:       getEnv("DEFAULT_BRANCH_ID", "main-branch"),
		IdentitySecret: strings.TrimSpace(os.Getenv("IDENTITY_SECRET")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
