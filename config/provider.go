package config

import "time"

// Provider supplies the settings the orchestrators read at call time. The
// admin configuration collaborator owns the values; the service only reads
// them, so a Provider may be backed by anything that can answer these.
type Provider interface {
	EmailPlatform() EmailPlatformSettings
	SMSPlatform() SMSPlatformSettings
	Groups() GroupAssignment
	DonationWebhook() WebhookSettings
}

type EmailPlatformSettings struct {
	APIToken string
	BaseURL  string
	Timeout  time.Duration
}

// Configured reports whether a credential is present.
func (s EmailPlatformSettings) Configured() bool { return s.APIToken != "" }

type SMSPlatformSettings struct {
	APIToken    string
	BaseURL     string
	BaseURLV2   string
	DNCListID   string
	DNCListName string
	Timeout     time.Duration
}

// Configured reports whether a credential is present.
func (s SMSPlatformSettings) Configured() bool { return s.APIToken != "" }

type WebhookSettings struct {
	Username   string
	Password   string
	DuesFormID string
	Channel    string
}

// Configured reports whether both shared secrets are present.
func (s WebhookSettings) Configured() bool { return s.Username != "" && s.Password != "" }

var _ Provider = Config{}

func (c Config) EmailPlatform() EmailPlatformSettings {
	return EmailPlatformSettings{APIToken: c.EmailAPIToken, BaseURL: c.EmailAPIBaseURL, Timeout: c.HTTPTimeout}
}

func (c Config) SMSPlatform() SMSPlatformSettings {
	return SMSPlatformSettings{
		APIToken:    c.SMSAPIToken,
		BaseURL:     c.SMSAPIBaseURL,
		BaseURLV2:   c.SMSAPIBaseURLV2,
		DNCListID:   c.SMSDNCListID,
		DNCListName: c.SMSDNCListName,
		Timeout:     c.HTTPTimeout,
	}
}

func (c Config) Groups() GroupAssignment { return c.Assignment }

func (c Config) DonationWebhook() WebhookSettings {
	return WebhookSettings{
		Username:   c.WebhookUsername,
		Password:   c.WebhookPassword,
		DuesFormID: c.DuesFormID,
		Channel:    c.DonationChannel,
	}
}
