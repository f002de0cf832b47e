package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAuthSecret signs staff sessions when AUTH_SECRET is unset. It is
// only fit for local runs against the memory store.
const DefaultAuthSecret = "dev-secret"

type Config struct {
	Port         string
	DatabaseURL  string
	StoreKind    string
	Timezone     string
	SeedServices string

	AuthMode          string
	AuthSecret        string
	StaffPIN          string
	AdminPIN          string
	SessionTTL        time.Duration
	ForceCookieSecure string
	BasePath          string

	UniversityAPIURL  string
	UniversityAPIKey  string
	UniversityTimeout time.Duration
	RedisURL          string
	IdentityCacheTTL  time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
	StreamKeepAlive    time.Duration
	SubscriberBuffer   int
	NotifyTimeout      time.Duration

	AnnounceProvider     string
	AnnounceWebhookURL   string
	AnnounceWebhookToken string

	LogLevel  string
	LogFormat string

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("QUEUE_STORE", "postgres")
	v.SetDefault("QUEUE_TIMEZONE", "Asia/Bangkok")
	v.SetDefault("AUTH_MODE", "PIN")
	v.SetDefault("AUTH_SECRET", DefaultAuthSecret)
	v.SetDefault("SESSION_TTL_SECONDS", 8*60*60)
	v.SetDefault("UNIVERSITY_TIMEOUT_SECONDS", 5)
	v.SetDefault("IDENTITY_CACHE_TTL_SECONDS", 3600)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("STREAM_KEEPALIVE_SECONDS", 25)
	v.SetDefault("SUBSCRIBER_BUFFER", 16)
	v.SetDefault("NOTIFY_TIMEOUT_SECONDS", 5)
	v.SetDefault("ANNOUNCE_PROVIDER", "log")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := Config{
		Port:         v.GetString("PORT"),
		DatabaseURL:  v.GetString("DB_DSN"),
		StoreKind:    strings.ToLower(v.GetString("QUEUE_STORE")),
		Timezone:     v.GetString("QUEUE_TIMEZONE"),
		SeedServices: v.GetString("SEED_SERVICES"),

		AuthMode:          strings.ToUpper(v.GetString("AUTH_MODE")),
		AuthSecret:        v.GetString("AUTH_SECRET"),
		StaffPIN:          v.GetString("STAFF_PIN"),
		AdminPIN:          v.GetString("ADMIN_PIN"),
		SessionTTL:        readDurationSeconds(v, "SESSION_TTL_SECONDS"),
		ForceCookieSecure: v.GetString("FORCE_COOKIE_SECURE"),
		BasePath:          strings.TrimRight(v.GetString("BASE_PATH"), "/"),

		UniversityAPIURL:  v.GetString("UNIVERSITY_API_URL"),
		UniversityAPIKey:  v.GetString("UNIVERSITY_API_KEY"),
		UniversityTimeout: readDurationSeconds(v, "UNIVERSITY_TIMEOUT_SECONDS"),
		RedisURL:          v.GetString("REDIS_URL"),
		IdentityCacheTTL:  readDurationSeconds(v, "IDENTITY_CACHE_TTL_SECONDS"),

		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MIN"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),
		StreamKeepAlive:    readDurationSeconds(v, "STREAM_KEEPALIVE_SECONDS"),
		SubscriberBuffer:   v.GetInt("SUBSCRIBER_BUFFER"),
		NotifyTimeout:      readDurationSeconds(v, "NOTIFY_TIMEOUT_SECONDS"),

		AnnounceProvider:     v.GetString("ANNOUNCE_PROVIDER"),
		AnnounceWebhookURL:   v.GetString("ANNOUNCE_WEBHOOK_URL"),
		AnnounceWebhookToken: v.GetString("ANNOUNCE_WEBHOOK_TOKEN"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		OTLPEndpoint:     v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		TraceSampleRatio: v.GetFloat64("TRACE_SAMPLE_RATIO"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreKind {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DB_DSN is required when QUEUE_STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown QUEUE_STORE %q", c.StoreKind)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: QUEUE_TIMEZONE: %w", err)
	}
	return nil
}

// InsecureSecret reports whether a persistent deployment still signs
// sessions with DefaultAuthSecret.
func (c Config) InsecureSecret() bool {
	return c.AuthSecret == DefaultAuthSecret && c.StoreKind != "memory"
}

// Location returns the business timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Services parses SEED_SERVICES, a comma separated list of CODE:Name pairs.
func (c Config) Services() ([][2]string, error) {
	return ParseServices(c.SeedServices)
}

func ParseServices(raw string) ([][2]string, error) {
	var out [][2]string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		code, name, ok := strings.Cut(item, ":")
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if !ok || code == "" || name == "" {
			return nil, fmt.Errorf("config: bad service %q, want CODE:Name", item)
		}
		out = append(out, [2]string{code, name})
	}
	return out, nil
}

func readDurationSeconds(v *viper.Viper, key string) time.Duration {
	value := v.GetInt(key)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
