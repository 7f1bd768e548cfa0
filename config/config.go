package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppPort        string
	AppMode        string
	LogMode        string
	StoreDriver    string
	StoreTimeout   time.Duration
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBSSLMode      string
	ChangeChannel  string
	JWTSecret      string
	RedisEnabled   bool
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	PresenceGrace  time.Duration
	PresenceTTL    time.Duration
	HeartbeatEvery time.Duration
	PresenceSync   time.Duration
	MessageLimit   int
	MessageWindow  time.Duration
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3PresignTTL   time.Duration
	SeedOnStart    bool
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),
		AppMode:        getEnv("APP_MODE", "debug"),
		LogMode:        getEnv("LOG_MODE", "development"),
		StoreDriver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
		StoreTimeout:   getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "kindred_chat"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		ChangeChannel:  getEnv("CHANGE_CHANNEL", DefaultChangeChannel),
		JWTSecret:      getEnv("JWT_SECRET", "change-me"),
		RedisEnabled:   getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		PresenceGrace:  getEnvAsDuration("PRESENCE_GRACE", 1500*time.Millisecond),
		PresenceTTL:    getEnvAsDuration("PRESENCE_TTL", 90*time.Second),
		HeartbeatEvery: getEnvAsDuration("PRESENCE_HEARTBEAT", 30*time.Second),
		PresenceSync:   getEnvAsDuration("PRESENCE_SYNC", 30*time.Second),
		MessageLimit:   getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		MessageWindow:  getEnvAsDuration("MESSAGE_RATE_WINDOW", time.Minute),
		S3Region:       getEnv("S3_REGION", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3PresignTTL:   getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
		SeedOnStart:    getEnvAsBool("SEED_ON_START", false),
	}
}

// DefaultChangeChannel is the NOTIFY channel the change triggers fall back to.
const DefaultChangeChannel = "kindred_changes"

// DSN builds the Postgres connection string for the pgx driver. The change
// channel travels as a session setting so the triggers notify on it.
func (c *Config) DSN() string {
	dsn := "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=" + c.DBSSLMode + " TimeZone=UTC"
	if c.ChangeChannel != "" {
		dsn += " options='-c kindred.change_channel=" + c.ChangeChannel + "'"
	}
	return dsn
}

// S3Enabled reports whether attachment signing is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
