package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Workflow   WorkflowConfig
	Classifier ClassifierConfig
	Mailer     MailerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// WorkflowConfig tunes the triage pipeline and its retry driver.
type WorkflowConfig struct {
	MaxAttempts        int
	BackoffSeconds     int
	BackoffStrategy    string
	StepTimeoutSeconds int
	MaxInFlightRuns    int
}

// ClassifierConfig configures the AI classification call.
type ClassifierConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// MailerConfig holds SMTP settings for assignment notifications. An
// empty host switches the mailer to a log-only stub.
type MailerConfig struct {
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	From     string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-triage"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Workflow: WorkflowConfig{
			MaxAttempts:        getEnvAsInt("TRIAGE_MAX_ATTEMPTS", 3),
			BackoffSeconds:     getEnvAsInt("TRIAGE_BACKOFF_SECONDS", 2),
			BackoffStrategy:    getEnv("TRIAGE_BACKOFF_STRATEGY", "exponential"),
			StepTimeoutSeconds: getEnvAsInt("TRIAGE_STEP_TIMEOUT_SECONDS", 30),
			MaxInFlightRuns:    getEnvAsInt("TRIAGE_MAX_IN_FLIGHT_RUNS", 32),
		},
		Classifier: ClassifierConfig{
			APIKey:         os.Getenv("CLASSIFIER_API_KEY"),
			BaseURL:        os.Getenv("CLASSIFIER_BASE_URL"),
			Model:          getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: getEnvAsInt("CLASSIFIER_TIMEOUT_SECONDS", 20),
		},
		Mailer: MailerConfig{
			SMTPHost: os.Getenv("SMTP_HOST"),
			SMTPPort: getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "noreply@example.com"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// StepTimeout returns the per-call bound for workflow steps.
func (w WorkflowConfig) StepTimeout() time.Duration {
	if w.StepTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(w.StepTimeoutSeconds) * time.Second
}

// Timeout returns the classifier call bound.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
