package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultAccessTokenExpiryMin  = 15
	DefaultRefreshTokenExpiryMin = 43200 // 30 days
	DefaultAppleTimeoutSeconds   = 10
	DefaultSignedURLExpirySec    = 86400
)

type Config struct {
	Env   string
	Port  string
	DBURL string

	AppleClientID       string
	AppleClientSecret   string
	AppleTimeoutSeconds int

	JWTSecret          string
	RefreshTokenPepper string
	ProviderTokenKey   string // 32 bytes, hex encoded

	AccessExpiryMin  int
	RefreshExpiryMin int

	S3Bucket             string
	S3Region             string
	S3AccessKeyID        string
	S3SecretAccessKey    string
	S3Endpoint           string
	S3SignedURLExpirySec int
}

func Load() *Config {
	env := getEnv("ENV", "development")
	loadEnvFile(env)

	return &Config{
		Env:   env,
		Port:  getEnv("PORT", "8080"),
		DBURL: mustGetEnv("DB_URL"),

		AppleClientID:       mustGetEnv("APPLE_CLIENT_ID"),
		AppleClientSecret:   mustGetEnv("APPLE_CLIENT_SECRET"),
		AppleTimeoutSeconds: getEnvAsInt("APPLE_TIMEOUT_SECONDS", DefaultAppleTimeoutSeconds),

		JWTSecret:          mustGetEnv("JWT_SECRET"),
		RefreshTokenPepper: mustGetEnv("REFRESH_TOKEN_PEPPER"),
		ProviderTokenKey:   mustGetEnv("PROVIDER_TOKEN_KEY"),

		AccessExpiryMin:  getEnvAsInt("ACCESS_TOKEN_EXPIRY", DefaultAccessTokenExpiryMin),
		RefreshExpiryMin: getEnvAsInt("REFRESH_TOKEN_EXPIRY", DefaultRefreshTokenExpiryMin),

		S3Bucket:             mustGetEnv("S3_BUCKET"),
		S3Region:             mustGetEnv("S3_REGION"),
		S3AccessKeyID:        mustGetEnv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:    mustGetEnv("S3_SECRET_ACCESS_KEY"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3SignedURLExpirySec: getEnvAsInt("S3_SIGNED_URL_EXPIRES_SECONDS", DefaultSignedURLExpirySec),
	}
}

// loadEnvFile loads config/.env.<env> if present. Real environment variables
// take precedence because godotenv never overwrites existing values.
func loadEnvFile(env string) {
	suffix := env
	if env == "development" {
		suffix = "dev"
	}
	path := filepath.Join("config", ".env."+suffix)
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			log.Printf("Failed to load %s: %v", path, err)
		}
	}
}

func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func mustGetEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Fatalf("Missing required environment variable: %s", key)
	return ""
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Invalid value for %s, using default %d", key, defaultVal)
		return defaultVal
	}
	return val
}
