// Package config loads worker and server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Execution modes.
const (
	ModePoll     = "poll"
	ModeBroker   = "broker"
	ModeLoopback = "loopback"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Poll configures the polling executor.
type Poll struct {
	ShutdownTimeout time.Duration
	MaxRetries      int
	Interval        time.Duration
}

// Subscriber configures the broker subscriber.
type Subscriber struct {
	Name            string
	Stream          string
	Subject         string
	BatchSize       int
	MaxWait         time.Duration
	AutoCreate      bool
	MaxRetries      int
	NakDelay        time.Duration
	MaxDeliver      int
	ShutdownTimeout time.Duration
}

// Publisher configures the broker publisher.
type Publisher struct {
	SubjectPrefix string
	Stream        string
}

// Loopback configures the loopback queue.
type Loopback struct {
	Capacity int
	Delay    time.Duration
}

// Config holds every setting.
type Config struct {
	Mode        string
	Store       string
	RedisAddr   string
	DatabaseURL string
	MetricsAddr string
	APIKey      string
	LogLevel    string

	Poll       Poll
	Subscriber Subscriber
	Publisher  Publisher
	Loopback   Loopback
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		Mode:        ModePoll,
		Store:       StoreMemory,
		RedisAddr:   "127.0.0.1:6379",
		MetricsAddr: ":8080",
		LogLevel:    "info",
		Poll: Poll{
			ShutdownTimeout: 10 * time.Second,
			MaxRetries:      3,
			Interval:        100 * time.Millisecond,
		},
		Subscriber: Subscriber{
			Name:            "tp-subscriber",
			Stream:          "tp-stream",
			Subject:         "transfers.>",
			BatchSize:       100,
			MaxWait:         100 * time.Millisecond,
			MaxRetries:      3,
			NakDelay:        time.Second,
			MaxDeliver:      10,
			ShutdownTimeout: 10 * time.Second,
		},
		Publisher: Publisher{
			SubjectPrefix: "transfers",
			Stream:        "tp-stream",
		},
		Loopback: Loopback{
			Capacity: 100,
			Delay:    50 * time.Millisecond,
		},
	}
}

// Load reads the configuration from the environment on top of Default and
// validates it.
func Load() (Config, error) {
	c := Default()
	r := reader{}

	r.text("STEPQ_MODE", &c.Mode)
	r.text("STEPQ_STORE", &c.Store)
	r.text("REDIS_ADDR", &c.RedisAddr)
	r.text("DATABASE_URL", &c.DatabaseURL)
	r.text("METRICS_ADDR", &c.MetricsAddr)
	r.text("API_KEY", &c.APIKey)
	r.text("LOG_LEVEL", &c.LogLevel)

	r.duration("STEPQ_POLL_SHUTDOWN_TIMEOUT", &c.Poll.ShutdownTimeout)
	r.integer("STEPQ_POLL_MAX_RETRIES", &c.Poll.MaxRetries)
	r.duration("STEPQ_POLL_INTERVAL", &c.Poll.Interval)

	r.text("STEPQ_SUB_NAME", &c.Subscriber.Name)
	r.text("STEPQ_SUB_STREAM", &c.Subscriber.Stream)
	r.text("STEPQ_SUB_SUBJECT", &c.Subscriber.Subject)
	r.integer("STEPQ_SUB_BATCH_SIZE", &c.Subscriber.BatchSize)
	r.duration("STEPQ_SUB_MAX_WAIT", &c.Subscriber.MaxWait)
	r.boolean("STEPQ_SUB_AUTO_CREATE", &c.Subscriber.AutoCreate)
	r.integer("STEPQ_SUB_MAX_RETRIES", &c.Subscriber.MaxRetries)
	r.duration("STEPQ_SUB_NAK_DELAY", &c.Subscriber.NakDelay)
	r.integer("STEPQ_SUB_MAX_DELIVER", &c.Subscriber.MaxDeliver)
	r.duration("STEPQ_SUB_SHUTDOWN_TIMEOUT", &c.Subscriber.ShutdownTimeout)

	r.text("STEPQ_PUB_SUBJECT_PREFIX", &c.Publisher.SubjectPrefix)
	r.text("STEPQ_PUB_STREAM", &c.Publisher.Stream)

	r.integer("STEPQ_LOOPBACK_CAPACITY", &c.Loopback.Capacity)
	r.duration("STEPQ_LOOPBACK_DELAY", &c.Loopback.Delay)

	if r.err != nil {
		return c, r.err
	}
	return c, c.Validate()
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Mode == ModePoll || c.Mode == ModeBroker || c.Mode == ModeLoopback, "unknown mode %q", c.Mode)
	check(c.Store == StoreMemory || c.Store == StoreRedis || c.Store == StorePostgres, "unknown store %q", c.Store)
	check(c.Store != StorePostgres || c.DatabaseURL != "", "DATABASE_URL is required for the postgres store")

	check(c.Poll.ShutdownTimeout > 0, "poll shutdown timeout must be positive")
	check(c.Poll.Interval > 0, "poll interval must be positive")
	check(c.Poll.MaxRetries >= 0, "poll max retries must not be negative")

	check(c.Subscriber.Name != "", "subscriber name is required")
	check(c.Subscriber.Stream != "", "subscriber stream is required")
	check(c.Subscriber.BatchSize > 0, "subscriber batch size must be positive")
	check(c.Subscriber.MaxWait > 0, "subscriber max wait must be positive")
	check(c.Subscriber.MaxRetries >= 0, "subscriber max retries must not be negative")
	check(c.Subscriber.NakDelay > 0, "subscriber nak delay must be positive")
	check(c.Subscriber.MaxDeliver >= 0, "subscriber max deliver must not be negative")
	check(c.Subscriber.ShutdownTimeout > 0, "subscriber shutdown timeout must be positive")

	check(c.Publisher.Stream != "", "publisher stream is required")
	check(c.Publisher.SubjectPrefix != "", "publisher subject prefix is required")

	check(c.Loopback.Capacity > 0, "loopback capacity must be positive")
	check(c.Loopback.Delay >= 0, "loopback delay must not be negative")

	return errors.Join(errs...)
}

// reader keeps the first parse error.
type reader struct {
	err error
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, value, err)
	}
}

func (r *reader) text(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (r *reader) integer(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *reader) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = b
}

func (r *reader) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = d
}
