package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"warranty_worker/pkg/apperr"
)

// Run modes.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
	ModeEval   = "eval"
)

// Mail providers.
const (
	MailGmail = "gmail"
	MailLog   = "log"
)

// Queue modes: the poller hands emails to an in-process pool or to a Redis stream.
const (
	QueuePool   = "pool"
	QueueStream = "stream"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage
	DatabaseURL        string
	RedisURL           string
	MongoDBURL         string
	MongoDBName        string
	ReplyRetentionDays int

	// JWT
	JWTSecret          string
	RateLimitPerMinute int

	// LLM
	LLMProvider     string
	LLMAPIKey       string
	LLMBaseURL      string
	LLMModel        string
	LLMMaxTokens    int
	LLMTemperature  float64
	LLMTimeoutSec   int
	LLMMergePrompts bool

	// Warranty and ticket APIs
	WarrantyAPIURL      string
	WarrantyAPIKey      string
	WarrantyTimeoutSec  int
	WarrantyCacheTTLMin int
	TicketAPIURL        string
	TicketAPIKey        string
	TicketTimeoutSec    int
	TicketPriority      string

	// Mail
	MailProvider        string
	GoogleClientID      string
	GoogleClientSecret  string
	GmailRefreshToken   string
	GmailQuery          string
	GmailProcessedLabel string
	SendTimeoutSec      int

	// Pipeline
	ProcessingTargetSec int
	FastPathThreshold   float64
	AmbiguityThreshold  float64
	PatternConfidence   float64
	MinBodyLength       int

	// Worker
	WorkerID        string
	QueueMode       string
	PollIntervalSec int
	PollBatchSize   int
	WorkerPoolSize  int
	ClaimTTLMin     int

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Eval
	EvalTargetAccuracy float64
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Storage
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		MongoDBURL:         getEnv("MONGODB_URL", ""),
		MongoDBName:        getEnv("MONGODB_DATABASE", "warranty"),
		ReplyRetentionDays: getEnvInt("REPLY_RETENTION_DAYS", 180),

		// JWT
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		LLMAPIKey:       getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:    getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:  getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeoutSec:   getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMergePrompts: getEnvBool("LLM_MERGE_PROMPTS", false),

		// Warranty and ticket APIs
		WarrantyAPIURL:      getEnv("WARRANTY_API_URL", ""),
		WarrantyAPIKey:      getEnv("WARRANTY_API_KEY", ""),
		WarrantyTimeoutSec:  getEnvInt("WARRANTY_TIMEOUT_SEC", 10),
		WarrantyCacheTTLMin: getEnvInt("WARRANTY_CACHE_TTL_MIN", 60),
		TicketAPIURL:        getEnv("TICKET_API_URL", ""),
		TicketAPIKey:        getEnv("TICKET_API_KEY", ""),
		TicketTimeoutSec:    getEnvInt("TICKET_TIMEOUT_SEC", 10),
		TicketPriority:      getEnv("TICKET_PRIORITY", "normal"),

		// Mail
		MailProvider:        getEnv("MAIL_PROVIDER", MailLog),
		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GmailRefreshToken:   getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailQuery:          getEnv("GMAIL_QUERY", ""),
		GmailProcessedLabel: getEnv("GMAIL_PROCESSED_LABEL", ""),
		SendTimeoutSec:      getEnvInt("SEND_TIMEOUT_SEC", 15),

		// Pipeline
		ProcessingTargetSec: getEnvInt("PROCESSING_TARGET_SEC", 60),
		FastPathThreshold:   getEnvFloat("DETECTOR_FAST_PATH_THRESHOLD", 0.8),
		AmbiguityThreshold:  getEnvFloat("DETECTOR_AMBIGUITY_THRESHOLD", 0.6),
		PatternConfidence:   getEnvFloat("SERIAL_PATTERN_CONFIDENCE", 0.95),
		MinBodyLength:       getEnvInt("DETECTOR_MIN_BODY_LENGTH", 20),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		QueueMode:       getEnv("QUEUE_MODE", QueuePool),
		PollIntervalSec: getEnvInt("POLL_INTERVAL_SEC", 30),
		PollBatchSize:   getEnvInt("POLL_BATCH_SIZE", 10),
		WorkerPoolSize:  getEnvInt("WORKER_POOL_SIZE", 4),
		ClaimTTLMin:     getEnvInt("CLAIM_TTL_MIN", 10),

		// Consumer (Redis Stream)
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),

		// Eval
		EvalTargetAccuracy: getEnvFloat("EVAL_TARGET_ACCURACY", 0.9),
	}, nil
}

// Validate reports the settings mode cannot run without.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeAPI, ModeWorker, ModeAll, ModeEval:
	default:
		add("unknown mode %q", mode)
	}

	if !inUnitRange(c.FastPathThreshold) || !inUnitRange(c.AmbiguityThreshold) || !inUnitRange(c.PatternConfidence) {
		add("detector thresholds and pattern confidence must be within [0,1]")
	}
	if c.PatternConfidence < 0.9 {
		add("SERIAL_PATTERN_CONFIDENCE must be at least 0.9")
	}
	if c.AmbiguityThreshold > c.FastPathThreshold {
		add("DETECTOR_AMBIGUITY_THRESHOLD must not exceed DETECTOR_FAST_PATH_THRESHOLD")
	}
	if c.EvalTargetAccuracy < 0 || c.EvalTargetAccuracy > 1 {
		add("EVAL_TARGET_ACCURACY must be within [0,1]")
	}

	if mode == ModeEval {
		return joinProblems(problems)
	}

	// api and worker both run the pipeline against the real collaborators
	if c.WarrantyAPIURL == "" {
		add("WARRANTY_API_URL is required")
	}
	if c.TicketAPIURL == "" {
		add("TICKET_API_URL is required")
	}

	switch strings.ToLower(c.LLMProvider) {
	case "", "openai":
		if c.LLMAPIKey == "" {
			add("OPENAI_API_KEY is required for LLM_PROVIDER=openai")
		}
	case "openai-compatible":
		if c.LLMBaseURL == "" {
			add("LLM_BASE_URL is required for LLM_PROVIDER=openai-compatible")
		}
	case "none":
		add("LLM_PROVIDER=none is only supported in eval mode; replies are drafted by the LLM")
	default:
		add("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.MailProvider {
	case MailGmail:
		if c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GmailRefreshToken == "" {
			add("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GMAIL_REFRESH_TOKEN are required for MAIL_PROVIDER=gmail")
		}
	case MailLog:
		if c.IsProduction() {
			add("MAIL_PROVIDER=log is not allowed in production")
		}
	default:
		add("unknown MAIL_PROVIDER %q", c.MailProvider)
	}

	if mode == ModeAPI || mode == ModeAll {
		if c.JWTSecret == "" && !c.IsDevelopment() {
			add("JWT_SECRET is required outside development")
		}
	}

	if mode == ModeWorker || mode == ModeAll {
		if c.MailProvider != MailGmail {
			add("worker mode polls Gmail and needs MAIL_PROVIDER=gmail")
		}
		switch c.QueueMode {
		case QueuePool:
		case QueueStream:
			if c.RedisURL == "" {
				add("REDIS_URL is required for QUEUE_MODE=stream")
			}
		default:
			add("unknown QUEUE_MODE %q", c.QueueMode)
		}
		if c.PollIntervalSec <= 0 || c.PollBatchSize <= 0 || c.WorkerPoolSize <= 0 {
			add("POLL_INTERVAL_SEC, POLL_BATCH_SIZE and WORKER_POOL_SIZE must be positive")
		}
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return apperr.ConfigError(strings.Join(problems, "; "))
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// Seconds converts an integer setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
