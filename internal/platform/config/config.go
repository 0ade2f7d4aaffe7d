package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MetadataCacheTTL bounds how long court metadata (states, districts, case
// types) stays cached before a fresh protocol lookup.
var MetadataCacheTTL = 12 * time.Hour

// App captures process-level configuration. Values come from environment
// variables so main stays lean; every knob has a development default.
type App struct {
	Addr string

	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	AlertTopic   string

	// EcourtsUID is the device identity presented to the mobile API during
	// authentication.
	EcourtsUID     string
	EcourtsBaseDC  string
	EcourtsBaseHC  string
	CaptchaURL     string
	CaptchaRetries int

	SourceTimeout   time.Duration
	SyncInterval    time.Duration
	RecheckInterval time.Duration

	ProtocolConcurrency int64
	ScrapedConcurrency  int64
}

// FromEnv builds an App config from environment variables.
func FromEnv() App {
	return App{
		Addr:         envOr("CASEWATCH_ADDR", ":8080"),
		PostgresDSN:  os.Getenv("CASEWATCH_POSTGRES_DSN"),
		RedisURL:     os.Getenv("CASEWATCH_REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("CASEWATCH_KAFKA_BROKERS")),
		AlertTopic:   envOr("CASEWATCH_ALERT_TOPIC", "casewatch.case-alerts"),

		EcourtsUID:     envOr("CASEWATCH_ECOURTS_UID", "3f91159bc5ba1090:in.gov.ecourts.eCourtsServices"),
		EcourtsBaseDC:  envOr("CASEWATCH_ECOURTS_BASE_DC", "https://app.ecourts.gov.in/ecourt_mobile_DC"),
		EcourtsBaseHC:  envOr("CASEWATCH_ECOURTS_BASE_HC", "https://app.ecourts.gov.in/ecourt_mobile_HC"),
		CaptchaURL:     os.Getenv("CASEWATCH_CAPTCHA_URL"),
		CaptchaRetries: envIntOr("CASEWATCH_CAPTCHA_RETRIES", 3),

		SourceTimeout:   envDurationOr("CASEWATCH_SOURCE_TIMEOUT", 30*time.Second),
		SyncInterval:    envDurationOr("CASEWATCH_SYNC_INTERVAL", time.Hour),
		RecheckInterval: envDurationOr("CASEWATCH_RECHECK_INTERVAL", 24*time.Hour),

		ProtocolConcurrency: int64(envIntOr("CASEWATCH_PROTOCOL_CONCURRENCY", 8)),
		ScrapedConcurrency:  int64(envIntOr("CASEWATCH_SCRAPED_CONCURRENCY", 2)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
