package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	JWTSecret  string
	// Logging
	LogLevel  string
	LogFormat string // text | json
	// Monitoring
	MonitoringInterval string // Go duration, push period of the websocket feed
	MinClientVersion   string // SEB clients below this fail the handshake integrity check
	IndicatorCacheSize string // exams whose indicator definitions are kept in memory
	// Demo data
	SeedDemoExam   string
	DemoExamSecret string
}

func Load() *Config {
	return &Config{
		Port:               getenv("PORT", "8080"),
		DBHost:             getenv("DB_HOST", "localhost"),
		DBPort:             getenv("DB_PORT", "5432"),
		DBUser:             getenv("DB_USER", "postgres"),
		DBPassword:         getenv("DB_PASSWORD", "postgres"),
		DBName:             getenv("DB_NAME", "seb_db"),
		DBSSLMode:          getenv("DB_SSLMODE", "disable"),
		JWTSecret:          getenv("JWT_SECRET", "supersecret_change_me"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
		MonitoringInterval: getenv("MONITORING_INTERVAL", "2s"),
		MinClientVersion:   getenv("MIN_CLIENT_VERSION", "3.0"),
		IndicatorCacheSize: getenv("INDICATOR_CACHE_SIZE", "128"),
		SeedDemoExam:       getenv("SEED_DEMO_EXAM", "false"),
		DemoExamSecret:     getenv("DEMO_EXAM_SECRET", "demo-secret"),
	}
}

// MonitoringIntervalDuration falls back to two seconds on unparsable or
// non-positive values.
func (c *Config) MonitoringIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.MonitoringInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

func (c *Config) IndicatorCacheEntries() int {
	n, err := strconv.Atoi(c.IndicatorCacheSize)
	if err != nil || n <= 0 {
		return 128
	}
	return n
}

func (c *Config) SeedDemo() bool {
	v := strings.ToLower(strings.TrimSpace(c.SeedDemoExam))
	return v == "true" || v == "1" || v == "yes"
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
