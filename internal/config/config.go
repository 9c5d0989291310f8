package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Clinic CRM REST API
	CRMBaseURL     string
	CRMAPIKey      string
	CRMTimeout     time.Duration
	DefaultClinic  int
	SlotWindowDays int

	// Step interpreter (NLU classifier)
	OpenAIAPIKey       string
	OpenAIModel        string
	InterpreterTimeout time.Duration

	// Messaging transport sidecar (userbot bridge)
	TransportBaseURL string
	ModeratorPhones  []string

	// Doctor roster shown alongside appointment offers
	LiveQueueDoctors       []string
	AppointmentOnlyDoctors []string

	// Conversation session storage
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration
	HistoryLimit  int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CRMBaseURL:     strings.TrimRight(getEnv("CRM_BASE_URL", ""), "/"),
		CRMAPIKey:      getEnv("CRM_API_KEY", ""),
		CRMTimeout:     getEnvAsDuration("CRM_TIMEOUT", 30*time.Second),
		DefaultClinic:  getEnvAsInt("CRM_DEFAULT_CLINIC_ID", 1),
		SlotWindowDays: getEnvAsInt("SLOT_WINDOW_DAYS", 14),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		InterpreterTimeout: getEnvAsDuration("INTERPRETER_TIMEOUT", 15*time.Second),

		TransportBaseURL: strings.TrimRight(getEnv("TRANSPORT_BASE_URL", ""), "/"),
		ModeratorPhones:  getEnvAsList("MODERATOR_PHONES"),

		LiveQueueDoctors:       getEnvAsList("LIVE_QUEUE_DOCTORS"),
		AppointmentOnlyDoctors: getEnvAsList("APPOINTMENT_ONLY_DOCTORS"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 6*time.Hour),
		HistoryLimit:  getEnvAsInt("HISTORY_LIMIT", 12),
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

// getEnvAsList splits a comma-separated environment variable into trimmed values.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
