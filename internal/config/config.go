package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Port      string
	JWTSecret string
	LogLevel  string
	LogFormat string

	StorageDriver string
	MongoURI      string
	DBName        string
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string

	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreTimeout          time.Duration
	CacheTimeout          time.Duration
	UnreadCacheTTL        time.Duration
	ConversationsCacheTTL time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Port:      getEnv("PORT", "8081"),
		JWTSecret: getEnv("JWT_SECRET", "default-secret-key"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StorageDriver: getEnv("STORAGE_DRIVER", "mongo"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/"),
		DBName:        getEnv("DB_NAME", "Lost_and_Found"),
		DBUser:        getEnv("DB_USER", "root"),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "3306"),

		CacheDriver:   getEnv("CACHE_DRIVER", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StoreTimeout:          getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		CacheTimeout:          getEnvDuration("CACHE_TIMEOUT", 250*time.Millisecond),
		UnreadCacheTTL:        getEnvDuration("UNREAD_CACHE_TTL", time.Minute),
		ConversationsCacheTTL: getEnvDuration("CONVERSATIONS_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration falls back to defaultValue for unset, unparsable or
// non-positive values.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

type Logger struct {
	zerolog.Logger
}

func SetupLogger(cfg *Config) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger}
}
