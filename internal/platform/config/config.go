package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	liststrings "github.com/vishalp-65/patient-case-notes-system/pkg/platform/strings"
)

// Config is the full process configuration. main builds it once with FromEnv
// and hands each component only its own section.
type Config struct {
	Server        Server
	Log           Log
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	S3            S3Config
	Intake        IntakeConfig
	Gate          GateConfig
	Transcription TranscriptionConfig
	Auth          AuthConfig
	Outbox        OutboxConfig
	RateLimit     RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	Environment    string
	AllowedOrigins []string
}

// IsProduction reports whether the process runs with production defaults
// (JSON logs, required JWT key).
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

type Log struct {
	Level string
}

// PostgresConfig is empty URL when running fully in-memory.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	IntakeTopic   string
	AuditTopic    string
	ConsumerGroup string
}

type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

type IntakeConfig struct {
	AllowedMimeTypes []string
	MaxFileSizeBytes int64
}

type GateConfig struct {
	Threshold float64
}

// TranscriptionMode selects how results are awaited.
type TranscriptionMode string

const (
	ModePoll TranscriptionMode = "poll"
	ModePush TranscriptionMode = "push"
)

type TranscriptionConfig struct {
	BaseURL        string
	Mode           TranscriptionMode
	CallbackURL    string
	CallbackToken  string
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffFactor  float64
	BackoffCap     time.Duration
	PollInterval   time.Duration
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// RateLimitConfig bounds uploads per doctor. Zero UploadsPerWindow disables it.
type RateLimitConfig struct {
	UploadsPerWindow int
	Window           time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// Defaults returns the configuration used when no environment is set.
func Defaults() Config {
	return Config{
		Server: Server{Addr: ":8080", Environment: "development", AllowedOrigins: []string{"http://localhost:3000"}},
		Log:    Log{Level: "info"},
		Postgres: PostgresConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			IntakeTopic:   "case-notes.intake-completed",
			AuditTopic:    "case-notes.audit",
			ConsumerGroup: "case-notes-dispatcher",
		},
		S3: S3Config{Region: "eu-west-2"},
		Intake: IntakeConfig{
			AllowedMimeTypes: []string{"application/pdf", "image/png", "image/jpeg", "image/tiff"},
			MaxFileSizeBytes: 20 << 20,
		},
		Gate: GateConfig{Threshold: 0.85},
		Transcription: TranscriptionConfig{
			Mode:           ModePoll,
			RequestTimeout: 120 * time.Second,
			MaxAttempts:    3,
			BackoffBase:    time.Second,
			BackoffFactor:  2,
			BackoffCap:     30 * time.Second,
			PollInterval:   2 * time.Second,
		},
		Auth:      AuthConfig{JWTSigningKey: devSigningKey, Issuer: "patient-case-notes"},
		Outbox:    OutboxConfig{PollInterval: time.Second, BatchSize: 100},
		RateLimit: RateLimitConfig{UploadsPerWindow: 30, Window: time.Minute},
	}
}

// FromEnv overlays environment variables on Defaults and validates the result.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	r := reader{lookup: lookup}

	r.str("SERVER_ADDR", &cfg.Server.Addr)
	r.str("APP_ENV", &cfg.Server.Environment)
	r.list("CORS_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins, false)
	r.str("LOG_LEVEL", &cfg.Log.Level)

	r.str("DATABASE_URL", &cfg.Postgres.URL)
	r.int("DATABASE_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)
	r.int("DATABASE_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns)

	r.str("REDIS_URL", &cfg.Redis.URL)
	r.int("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	r.int("REDIS_MIN_IDLE_CONNS", &cfg.Redis.MinIdleConns)
	r.duration("REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout)
	r.duration("REDIS_READ_TIMEOUT", &cfg.Redis.ReadTimeout)
	r.duration("REDIS_WRITE_TIMEOUT", &cfg.Redis.WriteTimeout)

	r.list("KAFKA_BROKERS", &cfg.Kafka.Brokers, false)
	r.str("KAFKA_INTAKE_TOPIC", &cfg.Kafka.IntakeTopic)
	r.str("KAFKA_AUDIT_TOPIC", &cfg.Kafka.AuditTopic)
	r.str("KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)

	r.str("S3_BUCKET", &cfg.S3.Bucket)
	r.str("AWS_REGION", &cfg.S3.Region)
	r.str("S3_ENDPOINT", &cfg.S3.Endpoint)
	r.bool("S3_USE_PATH_STYLE", &cfg.S3.UsePathStyle)

	r.list("INTAKE_ALLOWED_MIME_TYPES", &cfg.Intake.AllowedMimeTypes, true)
	r.int64("INTAKE_MAX_FILE_SIZE_BYTES", &cfg.Intake.MaxFileSizeBytes)

	r.float("GATE_THRESHOLD", &cfg.Gate.Threshold)

	r.str("TRANSCRIPTION_BASE_URL", &cfg.Transcription.BaseURL)
	var mode string
	if r.str("TRANSCRIPTION_MODE", &mode) {
		cfg.Transcription.Mode = TranscriptionMode(mode)
	}
	r.str("TRANSCRIPTION_CALLBACK_URL", &cfg.Transcription.CallbackURL)
	r.str("TRANSCRIPTION_CALLBACK_TOKEN", &cfg.Transcription.CallbackToken)
	r.duration("TRANSCRIPTION_TIMEOUT", &cfg.Transcription.RequestTimeout)
	r.int("TRANSCRIPTION_MAX_ATTEMPTS", &cfg.Transcription.MaxAttempts)
	r.duration("TRANSCRIPTION_BACKOFF_BASE", &cfg.Transcription.BackoffBase)
	r.float("TRANSCRIPTION_BACKOFF_FACTOR", &cfg.Transcription.BackoffFactor)
	r.duration("TRANSCRIPTION_BACKOFF_CAP", &cfg.Transcription.BackoffCap)
	r.duration("TRANSCRIPTION_POLL_INTERVAL", &cfg.Transcription.PollInterval)

	r.str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	r.str("JWT_ISSUER", &cfg.Auth.Issuer)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval)
	r.int("OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize)

	r.int("RATELIMIT_UPLOADS_PER_WINDOW", &cfg.RateLimit.UploadsPerWindow)
	r.duration("RATELIMIT_WINDOW", &cfg.RateLimit.Window)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the components cannot run with.
func (c Config) Validate() error {
	var errs []error
	if t := c.Gate.Threshold; math.IsNaN(t) || t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("GATE_THRESHOLD must be within [0,1], got %v", t))
	}
	if len(c.Intake.AllowedMimeTypes) == 0 {
		errs = append(errs, errors.New("INTAKE_ALLOWED_MIME_TYPES must not be empty"))
	}
	if c.Intake.MaxFileSizeBytes <= 0 {
		errs = append(errs, errors.New("INTAKE_MAX_FILE_SIZE_BYTES must be positive"))
	}
	t := c.Transcription
	if t.MaxAttempts <= 0 {
		errs = append(errs, errors.New("TRANSCRIPTION_MAX_ATTEMPTS must be positive"))
	}
	if t.RequestTimeout <= 0 {
		errs = append(errs, errors.New("TRANSCRIPTION_TIMEOUT must be positive"))
	}
	if t.BackoffBase <= 0 || t.BackoffCap < t.BackoffBase || t.BackoffFactor < 1 {
		errs = append(errs, errors.New("transcription backoff requires base > 0, factor >= 1 and cap >= base"))
	}
	if t.Mode != ModePoll && t.Mode != ModePush {
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_MODE must be poll or push, got %q", t.Mode))
	}
	if t.Mode == ModePoll && t.PollInterval <= 0 {
		errs = append(errs, errors.New("TRANSCRIPTION_POLL_INTERVAL must be positive in poll mode"))
	}
	if t.Mode == ModePush && (t.CallbackToken == "" || t.CallbackURL == "") {
		errs = append(errs, errors.New("TRANSCRIPTION_CALLBACK_URL and TRANSCRIPTION_CALLBACK_TOKEN are required in push mode"))
	}
	if c.Server.IsProduction() && c.Auth.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.RateLimit.UploadsPerWindow < 0 {
		errs = append(errs, errors.New("RATELIMIT_UPLOADS_PER_WINDOW must not be negative"))
	}
	if c.RateLimit.UploadsPerWindow > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATELIMIT_WINDOW must be positive when uploads are limited"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *reader) str(key string, dst *string) bool {
	if v, ok := r.get(key); ok {
		*dst = v
		return true
	}
	return false
}

func (r *reader) list(key string, dst *[]string, lower bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	if lower {
		*dst = liststrings.SplitListLower(v)
	} else {
		*dst = liststrings.SplitList(v)
	}
}

func (r *reader) int(key string, dst *int) {
	if v, ok := r.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *reader) int64(key string, dst *int64) {
	if v, ok := r.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *reader) float(key string, dst *float64) {
	if v, ok := r.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (r *reader) bool(key string, dst *bool) {
	if v, ok := r.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (r *reader) duration(key string, dst *time.Duration) {
	if v, ok := r.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
