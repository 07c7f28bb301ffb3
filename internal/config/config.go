package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const DefaultBookingAPIURL = "https://abdullah-test.whitescastle.com"

type Config struct {
	HTTPAddr string
	LogLevel string

	BookingAPIURL     string
	BookingAPIToken   string
	BookingAPITimeout time.Duration

	PriceStandard int64
	PricePremium  int64

	SessionIdleTTL     time.Duration
	MirrorSyncInterval time.Duration
	OutboxInterval     time.Duration

	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	JWTSecret      string
	IdempotencyTTL time.Duration
	// RateLimit is requests per minute per caller; zero disables limiting.
	RateLimit int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		BookingAPIURL:   getenv("BOOKING_API_URL", DefaultBookingAPIURL),
		BookingAPIToken: os.Getenv("BOOKING_API_TOKEN"),
		CRDBDSN:         os.Getenv("CRDB_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getenv("MONGO_DB", "seatmap"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	var err error
	if cfg.BookingAPITimeout, err = duration("BOOKING_API_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTTL, err = duration("SESSION_IDLE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MirrorSyncInterval, err = duration("MIRROR_SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = duration("OUTBOX_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = nonNegative("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.PriceStandard, err = nonNegative("PRICE_STANDARD", 400); err != nil {
		return nil, err
	}
	if cfg.PricePremium, err = nonNegative("PRICE_PREMIUM", 700); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("config: %s must be positive, got %s", key, v)
	}
	return d, nil
}

// nonNegative parses a non-negative integer setting.
func nonNegative(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	p, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	if p < 0 {
		return 0, errors.Newf("config: %s must not be negative, got %d", key, p)
	}
	return p, nil
}
