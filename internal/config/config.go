// Package config provides application configuration for both the edge
// server and the central router.
//
// Configuration is loaded from environment variables with sensible
// defaults, following the environment surface enumerated in the chat
// fabric specification: admin API location and secrets, table store
// credentials, push/email settings, and logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AWSConfig holds credentials/region for the durable table store.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// TableNames holds the five durable-table identifiers named in the spec.
type TableNames struct {
	Session         string
	ChatRoom        string
	ChatMessage     string
	LastMessageRead string
	CustomData      string
}

// EmailConfig holds SMTP settings for the admin alert channel.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// LogConfig controls file-based logging, mirroring the spec's
// LOG_FILE_DIRECTORY/LOG_FILE_NAME surface.
type LogConfig struct {
	Dir  string
	Name string
}

// Config holds all application configuration shared by cmd/edge and
// cmd/router; each binary reads only the fields relevant to its role.
type Config struct {
	Port string

	// ServerIdentifier identifies this process to its peers: an edge's
	// identifier is advertised in the X-WEBSOCKET-SERVER-IDENTIFIER
	// header; a router's identifier is what the admin API hands back
	// from GET chat-central-router/.
	ServerIdentifier string

	ChatAPIURL                  string
	ChatAPIInternalSecret       string
	CentralRouterInternalSecret string
	ManagerSecret               string

	AWS    AWSConfig
	Tables TableNames

	MaxDynamoMessageLimit   int
	LastMessageReadLimit    int
	FCMNotificationInterval time.Duration

	Admins []string
	Email  EmailConfig
	Log    LogConfig

	DBPath string
	Debug  bool

	RouterDiscoveryInterval time.Duration
	SettingsRefreshInterval time.Duration
	StatusPingInterval      time.Duration
	PerformancePingInterval time.Duration
	InitializationTimeout   time.Duration
	AntiSpamWindow          time.Duration
	AntiSpamLimit           int

	Retry RetryConfig
}

// RetryConfig bounds the exponential backoff applied to store and
// admin-API calls.
type RetryConfig struct {
	MaxElapsedTime time.Duration
	InitialDelay   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		ServerIdentifier: getEnv("SERVER_IDENTIFIER", uuid.NewString()),

		ChatAPIURL:                  getEnv("CHAT_API_URL", "http://localhost:8000"),
		ChatAPIInternalSecret:       getEnv("CHAT_API_INTERNAL_SECRET", ""),
		CentralRouterInternalSecret: getEnv("CENTRAL_ROUTER_INTERNAL_SECRET", ""),
		ManagerSecret:               getEnv("MANAGER_SECRET", ""),

		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Tables: TableNames{
			Session:         getEnv("SESSION_TABLE_NAME", "session"),
			ChatRoom:        getEnv("CHAT_ROOM_TABLE_NAME", "chat_room"),
			ChatMessage:     getEnv("CHAT_MESSAGE_TABLE_NAME", "chat_message"),
			LastMessageRead: getEnv("LAST_MESSAGE_READ_TABLE_NAME", "last_message_read"),
			CustomData:      getEnv("CUSTOM_DATA_TABLE_NAME", "custom_data"),
		},

		MaxDynamoMessageLimit:   getEnvInt("MAX_DYNAMO_MESSAGE_LIMIT", 20),
		LastMessageReadLimit:    getEnvInt("LAST_MESSAGE_READ_LIMIT", 100),
		FCMNotificationInterval: getEnvDuration("FCM_NOTIFICATION_SEC_INTERVAL_DURATION", 0),

		Admins: splitAndTrim(getEnv("ADMINS", "")),
		Email: EmailConfig{
			Host:     getEnv("EMAIL_HOST", ""),
			Port:     getEnvInt("EMAIL_PORT", 587),
			User:     getEnv("EMAIL_HOST_USER", ""),
			Password: getEnv("EMAIL_HOST_PASSWORD", ""),
		},
		Log: LogConfig{
			Dir:  getEnv("LOG_FILE_DIRECTORY", "./logs"),
			Name: getEnv("LOG_FILE_NAME", "chatfabric.log"),
		},

		DBPath: getEnv("DB_PATH", "./data/chatfabric.db"),
		Debug:  getEnvBool("DEBUG", false),

		RouterDiscoveryInterval: 120 * time.Second,
		SettingsRefreshInterval: 900 * time.Second,
		StatusPingInterval:      300 * time.Second,
		PerformancePingInterval: 300 * time.Second,
		InitializationTimeout:   5 * time.Minute,
		AntiSpamWindow:          60 * time.Second,
		AntiSpamLimit:           300,

		Retry: RetryConfig{
			MaxElapsedTime: getEnvDuration("RETRY_MAX_ELAPSED", 5*time.Second),
			InitialDelay:   getEnvDuration("RETRY_INITIAL_DELAY", 50*time.Millisecond),
		},
	}

	if secs := getEnvInt("FCM_NOTIFICATION_SEC_INTERVAL", 30); cfg.FCMNotificationInterval == 0 {
		cfg.FCMNotificationInterval = time.Duration(secs) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ChatAPIURL == "" {
		return fmt.Errorf("CHAT_API_URL cannot be empty")
	}
	if c.MaxDynamoMessageLimit <= 0 {
		return fmt.Errorf("MAX_DYNAMO_MESSAGE_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Debug
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
