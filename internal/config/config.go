package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser             string
	DBPassword         string
	DBName             string
	DBHost             string
	DBPort             string
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	BotToken           string
	HTTPAddr           string
	PredictionsPath    string
	PredictionCost     int64
	Cooldown           time.Duration
	LeaderboardLimit   int
	CreditAllowedCIDRs []string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "prediction_bot"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		BotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8000"),
		PredictionsPath:  getEnv("PREDICTIONS_PATH", "static/predictions.json"),
		PredictionCost:   getEnvInt64("PREDICTION_COST", 100),
		Cooldown:         time.Duration(getEnvInt64("COOLDOWN_HOURS", 24)) * time.Hour,
		LeaderboardLimit: int(getEnvInt64("LEADERBOARD_LIMIT", 10)),
		// Only local services may push star credits over HTTP.
		CreditAllowedCIDRs: []string{
			"127.0.0.0/8",
			"::1/128",
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s, using default %d", key, fallback)
	}
	return fallback
}
