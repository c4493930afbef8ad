package config

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Env  string
	Port int

	// mongo | postgres | memory
	StoreDriver string
	MongoURI    string
	MongoDB     string
	DBURL       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration

	AdminSetupKey    string
	MaxLoginAttempts int
	LockDuration     time.Duration
	BcryptCost       int

	LoginRateLimit     int
	LoginRateWindow    time.Duration
	RegisterRateLimit  int
	RegisterRateWindow time.Duration
	ProfileRateLimit   int
	ProfileRateWindow  time.Duration

	CORSAllowedOrigins []string

	OTelEndpoint    string
	OTelServiceName string
	OTelSampleRatio float64

	AdminEmail    string
	AdminPassword string
	AdminName     string
}

func Load() (Config, error) {
	cfg := Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 5000),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mongo")),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGO_DB", "ecommerce"),
		DBURL:       buildDBURL(),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTAccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 24*time.Hour),
		JWTRefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),

		AdminSetupKey:    os.Getenv("ADMIN_SETUP_KEY"),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockDuration:     getEnvDuration("LOCK_DURATION", 2*time.Hour),
		BcryptCost:       getEnvInt("BCRYPT_COST", 12),

		// above MAX_LOGIN_ATTEMPTS so a client can still hit the account lock
		LoginRateLimit:     getEnvInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:    getEnvDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
		RegisterRateLimit:  getEnvInt("REGISTER_RATE_LIMIT", 3),
		RegisterRateWindow: getEnvDuration("REGISTER_RATE_WINDOW", time.Hour),
		ProfileRateLimit:   getEnvInt("PROFILE_RATE_LIMIT", 20),
		ProfileRateWindow:  getEnvDuration("PROFILE_RATE_WINDOW", 15*time.Minute),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "storefront-api"),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     os.Getenv("ADMIN_NAME"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingJWTSecret
	}

	return cfg, nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "storefront")
	pass := getEnv("DB_PASSWORD", "storefront")
	name := getEnv("DB_NAME", "storefront")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// unparsable values fall back to the default
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fallback
		}
		return f
	}
	return fallback
}

// accepts Go durations ("90m") or plain seconds ("5400")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
