package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aura-vibe/queue-sync/pkg/logger"
)

type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string

	// DBDriver is memory, mysql or sqlite.
	DBDriver      string
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	SQLitePath    string

	// An empty RedisHost disables the session cache.
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	SessionCacheTTL time.Duration

	// No brokers means events are not published.
	KafkaBrokers []string
	KafkaTopic   string

	// Roster cap per session; 0 disables it.
	MaxParticipants int

	WSSendBuffer   int
	WSWriteTimeout time.Duration
	WSPongTimeout  time.Duration
	WSPingPeriod   time.Duration
	WSReadLimit    int64

	Log logger.Config
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads envFiles (".env" when none are given) and then the environment.
// Variables already set in the environment win over the files.
func Load(envFiles ...string) (*Config, bool) {
	loaded := godotenv.Load(envFiles...) == nil

	return &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),

		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "memory")),
		MySQLHost:     getEnv("MYSQL_HOST", "127.0.0.1"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "queue_sync"),
		SQLitePath:    getEnv("SQLITE_PATH", "queue_sync.db"),

		RedisHost:       os.Getenv("REDIS_HOST"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		SessionCacheTTL: getEnvDuration("SESSION_CACHE_TTL", 24*time.Hour),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "session-queue-events"),

		MaxParticipants: getEnvInt("MAX_PARTICIPANTS", 50),

		WSSendBuffer:   getEnvInt("WS_SEND_BUFFER", 64),
		WSWriteTimeout: getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		WSPongTimeout:  getEnvDuration("WS_PONG_TIMEOUT", 60*time.Second),
		WSPingPeriod:   getEnvDuration("WS_PING_PERIOD", 30*time.Second),
		WSReadLimit:    int64(getEnvInt("WS_READ_LIMIT", 4096)),

		Log: logger.Config{
			Level:      logger.LogLevel(getEnv("LOG_LEVEL", "info")),
			OutputPath: os.Getenv("LOG_FILE"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}, loaded
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
