package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	AllowedOrigin string

	NayaxBaseURL  string
	NayaxActorID  string
	NayaxAPIToken string

	PollInterval       time.Duration
	DiscoveryInterval  time.Duration
	Timezone           string
	WeekStartDay       string
	IncludeRawInEvents bool
	DedupRetentionDays int

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventChannel  string

	AuthSecret            string
	OperatorUsername      string
	OperatorPassword      string
	AccessTokenTTLMinutes int
}

func Load() Config {
	pollSeconds := getInt("POLL_INTERVAL_SECONDS", 30)
	if pollSeconds < 10 {
		pollSeconds = 10
	}
	if pollSeconds > 300 {
		pollSeconds = 300
	}
	discoverySeconds := getInt("DISCOVERY_INTERVAL_SECONDS", 300)
	if discoverySeconds < 60 {
		discoverySeconds = 60
	}
	retentionDays := getInt("DEDUP_RETENTION_DAYS", 430)
	if retentionDays < 400 {
		// Retention must outlast the longest bucket window (last_year).
		retentionDays = 400
	}
	tokenTTL := getInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),

		NayaxBaseURL:  getEnv("NAYAX_BASE_URL", "https://lynx.nayax.com"),
		NayaxActorID:  strings.TrimSpace(os.Getenv("NAYAX_ACTOR_ID")),
		NayaxAPIToken: strings.TrimSpace(os.Getenv("NAYAX_API_TOKEN")),

		PollInterval:       time.Duration(pollSeconds) * time.Second,
		DiscoveryInterval:  time.Duration(discoverySeconds) * time.Second,
		Timezone:           getEnv("TIMEZONE", "UTC"),
		WeekStartDay:       strings.ToLower(getEnv("WEEK_START_DAY", "monday")),
		IncludeRawInEvents: getBool("INCLUDE_RAW_IN_EVENTS", true),
		DedupRetentionDays: retentionDays,

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		EventChannel:  getEnv("SALE_EVENT_CHANNEL", "nayax:sale"),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		OperatorUsername:      getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPassword:      strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

// Validate checks the settings without which the poller cannot start.
func (c Config) Validate() error {
	if c.NayaxActorID == "" {
		return fmt.Errorf("NAYAX_ACTOR_ID is required")
	}
	if c.NayaxAPIToken == "" {
		return fmt.Errorf("NAYAX_API_TOKEN is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
	}
	switch c.WeekStartDay {
	case "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday":
	default:
		return fmt.Errorf("WEEK_START_DAY %q is not a weekday name", c.WeekStartDay)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) DedupRetention() time.Duration {
	return time.Duration(c.DedupRetentionDays) * 24 * time.Hour
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}
