package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	SeedAdminPassword     string
	LowStockThreshold     int
	StockCacheTTLSeconds  int
	AlertChannel          string
	ReportTimezone        string
	AppEnv                string
	LogLevel              string
	LogEncoding           string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		LowStockThreshold:     nonNegativeInt("LOW_STOCK_THRESHOLD", 10),
		StockCacheTTLSeconds:  positiveInt("STOCK_CACHE_TTL_SECONDS", 15),
		AlertChannel:          getEnv("ALERT_CHANNEL", "posledger:stock-alerts"),
		ReportTimezone:        getEnv("REPORT_TIMEZONE", "UTC"),
		AppEnv:                strings.ToLower(getEnv("APP_ENV", "production")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogEncoding:           getEnv("LOG_ENCODING", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func nonNegativeInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
