package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment          string
	EncryptionKeyBase64  string
	DBHost               string
	DBPort               string
	DBUsername           string
	DBPassword           string
	DBName               string
	DBSSLMode            string
	IMAPServerHostname   string
	IMAPUseTLS           bool
	InboxFolderName      string
	SentFolderName       string
	DraftsFolderName     string
	IdleTimeout          time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectTries    int
	SweepInterval        time.Duration
	ViewWindowSize       int
	ClassifierURL        string
	ClassifierAPIKey     string
	SMTPServerHostname   string
	DirectSendReplies    bool
	OAuthClientID        string
	OAuthClientSecret    string
	OAuthTokenURL        string
	TokenRefreshCooldown time.Duration
	DashboardAPIKey      string
	MaxConnsPerTenant    int
	Port                 string
	LogLevel             string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("INBOXSIFT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:          env,
		EncryptionKeyBase64:  os.Getenv("INBOXSIFT_ENCRYPTION_KEY_BASE64"),
		DBHost:               getEnvOrDefault("INBOXSIFT_DB_HOST", "localhost"),
		DBPort:               getEnvOrDefault("INBOXSIFT_DB_PORT", "5432"),
		DBUsername:           getEnvOrDefault("INBOXSIFT_DB_USER", "inboxsift"),
		DBPassword:           os.Getenv("INBOXSIFT_DB_PASSWORD"),
		DBName:               getEnvOrDefault("INBOXSIFT_DB_NAME", "inboxsift"),
		DBSSLMode:            getEnvOrDefault("INBOXSIFT_DB_SSLMODE", "disable"),
		IMAPServerHostname:   getEnvOrDefault("INBOXSIFT_IMAP_SERVER", "imap.gmail.com:993"),
		IMAPUseTLS:           getEnvBool("INBOXSIFT_IMAP_TLS", true),
		InboxFolderName:      getEnvOrDefault("INBOXSIFT_INBOX_FOLDER", "INBOX"),
		SentFolderName:       getEnvOrDefault("INBOXSIFT_SENT_FOLDER", "[Gmail]/Sent Mail"),
		DraftsFolderName:     getEnvOrDefault("INBOXSIFT_DRAFTS_FOLDER", "[Gmail]/Drafts"),
		IdleTimeout:          getEnvDuration("INBOXSIFT_IDLE_TIMEOUT", 5*time.Minute),
		ReconnectBaseDelay:   getEnvDuration("INBOXSIFT_RECONNECT_DELAY", 10*time.Second),
		MaxReconnectTries:    getEnvInt("INBOXSIFT_MAX_RECONNECT_TRIES", 5),
		SweepInterval:        getEnvDuration("INBOXSIFT_SWEEP_INTERVAL", 60*time.Second),
		ViewWindowSize:       getEnvInt("INBOXSIFT_VIEW_WINDOW", 10),
		ClassifierURL:        os.Getenv("INBOXSIFT_CLASSIFIER_URL"),
		ClassifierAPIKey:     os.Getenv("INBOXSIFT_CLASSIFIER_API_KEY"),
		SMTPServerHostname:   getEnvOrDefault("INBOXSIFT_SMTP_SERVER", "smtp.gmail.com:587"),
		DirectSendReplies:    getEnvBool("INBOXSIFT_DIRECT_SEND", false),
		OAuthClientID:        os.Getenv("INBOXSIFT_OAUTH_CLIENT_ID"),
		OAuthClientSecret:    os.Getenv("INBOXSIFT_OAUTH_CLIENT_SECRET"),
		OAuthTokenURL:        getEnvOrDefault("INBOXSIFT_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		TokenRefreshCooldown: getEnvDuration("INBOXSIFT_TOKEN_REFRESH_COOLDOWN", 5*time.Minute),
		DashboardAPIKey:      os.Getenv("INBOXSIFT_DASHBOARD_API_KEY"),
		MaxConnsPerTenant:    getEnvInt("INBOXSIFT_MAX_WS_CONNECTIONS", 10),
		Port:                 getEnvOrDefault("PORT", "8080"),
		LogLevel:             getEnvOrDefault("INBOXSIFT_LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("INBOXSIFT_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("INBOXSIFT_DB_PASSWORD is required")
	}

	if c.ViewWindowSize <= 0 {
		return fmt.Errorf("INBOXSIFT_VIEW_WINDOW must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
