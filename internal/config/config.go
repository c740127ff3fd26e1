package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// SMS provider (Telnyx-compatible V2 API)
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string

	// Email providers
	EmailProvider    string
	SendGridAPIKey   string
	SendGridFromName string
	SESFromEmail     string

	// Inbound processing queue
	UseMemoryQueue      bool
	InboundQueueURL     string
	WorkerCount         int
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Redis (settings cache)
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	SettingsCacheTTL time.Duration

	// Suggestion service (external LLM surface)
	SuggestBaseURL string
	SuggestTimeout time.Duration

	// Auto-reply gate defaults
	ConfidenceThreshold float64
	QuietHoursStart     string
	QuietHoursEnd       string
	EscalationIntents   []string

	// Reminder scheduler
	ReminderTickInterval time.Duration
	ReminderGraceWindow  time.Duration

	// Outbound retry policy
	SendRetryMaxAttempts int
	SendRetryBaseDelay   time.Duration

	// Credit costs per billable action
	CostAIReply     int64
	CostManualReply int64
	CostReminder    int64

	// Staff alert bot integration
	AlertBotURL        string
	AlertRatePerMinute int

	// Webhook surface rate limiting
	WebhookRatePerSecond float64
	WebhookBurst         int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName: getEnv("SENDGRID_FROM_NAME", "Stayloop"),
		SESFromEmail:     getEnv("SES_FROM_EMAIL", ""),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		SettingsCacheTTL: getEnvAsDuration("SETTINGS_CACHE_TTL", 30*time.Second),

		SuggestBaseURL: getEnv("SUGGEST_BASE_URL", ""),
		SuggestTimeout: getEnvAsDuration("SUGGEST_TIMEOUT", 15*time.Second),

		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.6),
		QuietHoursStart:     getEnv("QUIET_HOURS_START", ""),
		QuietHoursEnd:       getEnv("QUIET_HOURS_END", ""),
		EscalationIntents:   getEnvAsList("ESCALATION_INTENTS", "complaint,refund_request,emergency"),

		ReminderTickInterval: getEnvAsDuration("REMINDER_TICK_INTERVAL", time.Minute),
		ReminderGraceWindow:  getEnvAsDuration("REMINDER_GRACE_WINDOW", time.Hour),

		SendRetryMaxAttempts: getEnvAsInt("SEND_RETRY_MAX_ATTEMPTS", 5),
		SendRetryBaseDelay:   getEnvAsDuration("SEND_RETRY_BASE_DELAY", 5*time.Minute),

		CostAIReply:     int64(getEnvAsInt("COST_AI_REPLY", 2)),
		CostManualReply: int64(getEnvAsInt("COST_MANUAL_REPLY", 1)),
		CostReminder:    int64(getEnvAsInt("COST_REMINDER", 2)),

		AlertBotURL:        getEnv("ALERT_BOT_URL", ""),
		AlertRatePerMinute: getEnvAsInt("ALERT_RATE_PER_MINUTE", 10),

		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 20),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 40),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}
