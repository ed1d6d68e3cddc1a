package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEmailAPIBaseURL = "https://api.sender.net/v2"
	DefaultSMSAPIBaseURL   = "https://api.callhub.io/v1"
	DefaultSMSAPIBaseURLV2 = "https://api.callhub.io/v2"
	DefaultDNCListName     = "Texting Opt-Outs"
	DefaultDonationChannel = "actblue"
)

const (
	defaultSyncWorkers    = 2
	defaultHTTPTimeoutSec = 20
	defaultLogMaxSizeMB   = 100
)

type Config struct {
	// http server
	Port           string
	AllowedOrigins []string

	// database path
	DatabasePath string

	// logging
	LogFile      string // empty logs to stdout only
	LogLevel     string
	LogMaxSizeMB int

	// donation webhook (HTTP Basic credentials and the dues form filter)
	WebhookUsername string
	WebhookPassword string
	DuesFormID      string
	DonationChannel string

	// email platform
	EmailAPIToken   string
	EmailAPIBaseURL string

	// SMS platform
	SMSAPIToken     string
	SMSAPIBaseURL   string
	SMSAPIBaseURLV2 string // tagging lives on the v2 API
	SMSDNCListID    string
	SMSDNCListName  string

	// group assignment mapping file (YAML)
	GroupsFile string
	Assignment GroupAssignment

	// admin API and self-service form tokens
	AdminJWTSecret  string
	FormTokenSecret string

	// behaviour
	ProvisionAccounts bool
	SyncWorkers       int
	HTTPTimeout       time.Duration

	// operator alerts (optional)
	MailjetPublicKey  string
	MailjetPrivateKey string
	AlertSender       string
	AlertRecipient    string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBool(envVar string) bool {
	b, _ := strconv.ParseBool(os.Getenv(envVar))
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	dbPath := getEnvOrDefault("DATABASE_PATH", "membersync.db")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Config{}, fmt.Errorf("failed to create database directory '%s': %w", dir, err)
		}
	}

	cfg := Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		AllowedOrigins:    splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		DatabasePath:      dbPath,
		LogFile:           os.Getenv("LOG_FILE"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogMaxSizeMB:      getEnvIntOrDefault("LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
		WebhookUsername:   os.Getenv("DONATION_WEBHOOK_USERNAME"),
		WebhookPassword:   os.Getenv("DONATION_WEBHOOK_PASSWORD"),
		DuesFormID:        os.Getenv("DUES_FORM_ID"),
		DonationChannel:   getEnvOrDefault("DONATION_CHANNEL", DefaultDonationChannel),
		EmailAPIToken:     os.Getenv("EMAIL_API_TOKEN"),
		EmailAPIBaseURL:   getEnvOrDefault("EMAIL_API_BASE_URL", DefaultEmailAPIBaseURL),
		SMSAPIToken:       os.Getenv("SMS_API_TOKEN"),
		SMSAPIBaseURL:     getEnvOrDefault("SMS_API_BASE_URL", DefaultSMSAPIBaseURL),
		SMSAPIBaseURLV2:   getEnvOrDefault("SMS_API_BASE_URL_V2", DefaultSMSAPIBaseURLV2),
		SMSDNCListID:      os.Getenv("SMS_DNC_LIST_ID"),
		SMSDNCListName:    getEnvOrDefault("SMS_DNC_LIST_NAME", DefaultDNCListName),
		GroupsFile:        os.Getenv("GROUPS_FILE"),
		AdminJWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),
		FormTokenSecret:   os.Getenv("FORM_TOKEN_SECRET"),
		ProvisionAccounts: getEnvBool("PROVISION_ACCOUNTS"),
		SyncWorkers:       getEnvIntOrDefault("SYNC_WORKERS", defaultSyncWorkers),
		HTTPTimeout:       time.Duration(getEnvIntOrDefault("HTTP_TIMEOUT_SECONDS", defaultHTTPTimeoutSec)) * time.Second,
		MailjetPublicKey:  os.Getenv("MAILJET_PUBLIC_KEY"),
		MailjetPrivateKey: os.Getenv("MAILJET_PRIVATE_KEY"),
		AlertSender:       os.Getenv("ALERT_SENDER"),
		AlertRecipient:    os.Getenv("ALERT_RECIPIENT"),
	}

	if cfg.GroupsFile != "" {
		groups, err := LoadGroups(cfg.GroupsFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to load group assignment from '%s': %w", cfg.GroupsFile, err)
		}
		cfg.Assignment = groups
	}

	if cfg.FormTokenSecret == "" {
		cfg.FormTokenSecret = cfg.AdminJWTSecret
	}

	return cfg, nil
}
