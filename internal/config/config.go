package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Telephony provider (Twilio-compatible) credentials
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// AI receptionist media stream (wss endpoint the provider connects to)
	ReceptionistStreamURL string
	MaxRecordingSeconds   int

	// Speech-to-text engine
	OpenAIAPIKey      string
	WhisperModel      string
	TranscribeTimeout time.Duration

	// AWS (Bedrock extraction, S3 recording archive, SES alerts)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// LLM extraction
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Recording archive
	RecordingsBucket string
	RecordingURLTTL  time.Duration

	// Reminder engine
	ReminderInterval   time.Duration
	ReminderBatchSize  int
	ReminderMaxRetries int
	ReminderRetryDelay time.Duration

	// Coordination
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// API auth
	APIJWTSecret string

	// Owner alert email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
	AlertEmail        string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		ReceptionistStreamURL: getEnv("RECEPTIONIST_STREAM_URL", ""),
		MaxRecordingSeconds:   getEnvAsInt("MAX_RECORDING_SECONDS", 180),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		WhisperModel:      getEnv("WHISPER_MODEL", "whisper-1"),
		TranscribeTimeout: getEnvAsDuration("TRANSCRIBE_TIMEOUT", 60*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		RecordingsBucket: getEnv("RECORDINGS_BUCKET", ""),
		RecordingURLTTL:  getEnvAsDuration("RECORDING_URL_TTL", 24*time.Hour),

		ReminderInterval:   getEnvAsDuration("REMINDER_INTERVAL", time.Minute),
		ReminderBatchSize:  getEnvAsInt("REMINDER_BATCH_SIZE", 100),
		ReminderMaxRetries: getEnvAsInt("REMINDER_MAX_RETRIES", 3),
		ReminderRetryDelay: getEnvAsDuration("REMINDER_RETRY_DELAY", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		EmailProvider:     getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		AlertEmail:        getEnv("ALERT_EMAIL", ""),
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
