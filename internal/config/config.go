package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "RELAYDESK"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "relaydesk.db"
	defaultLogLevel     = "info"

	defaultTokenTTLMinutes       = 30
	defaultFirstContactTolerance = 5
	defaultDedupWindowMinutes    = 15
	defaultHeartbeatSeconds      = 30
	defaultUpdatesMaxBatch       = 100
	defaultPurgeIntervalMinutes  = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	WebhookSecret           string
	WebhookAllowUnsigned    bool
	FirstContactTolerance   time.Duration
	NotificationDedupWindow time.Duration
	StreamHeartbeat         time.Duration
	UpdatesMaxBatch         int
	NotificationPurgeEvery  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("webhook.allow_unsigned", false)
	configViper.SetDefault("webhook.first_contact_tolerance_seconds", defaultFirstContactTolerance)
	configViper.SetDefault("notifications.dedup_window_minutes", defaultDedupWindowMinutes)
	configViper.SetDefault("notifications.purge_interval_minutes", defaultPurgeIntervalMinutes)
	configViper.SetDefault("stream.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("updates.max_batch", defaultUpdatesMaxBatch)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		WebhookSecret:           configViper.GetString("webhook.secret"),
		WebhookAllowUnsigned:    configViper.GetBool("webhook.allow_unsigned"),
		FirstContactTolerance:   time.Duration(configViper.GetInt("webhook.first_contact_tolerance_seconds")) * time.Second,
		NotificationDedupWindow: time.Duration(configViper.GetInt("notifications.dedup_window_minutes")) * time.Minute,
		StreamHeartbeat:         time.Duration(configViper.GetInt("stream.heartbeat_seconds")) * time.Second,
		UpdatesMaxBatch:         configViper.GetInt("updates.max_batch"),
		NotificationPurgeEvery:  time.Duration(configViper.GetInt("notifications.purge_interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" && !c.WebhookAllowUnsigned {
		return fmt.Errorf("webhook.secret is empty; set webhook.allow_unsigned=true to accept unsigned deliveries")
	}
	if c.FirstContactTolerance < 0 {
		return fmt.Errorf("webhook.first_contact_tolerance_seconds must not be negative")
	}
	if c.NotificationDedupWindow <= 0 {
		return fmt.Errorf("notifications.dedup_window_minutes must be positive")
	}
	if c.StreamHeartbeat <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be positive")
	}
	if c.UpdatesMaxBatch <= 0 {
		return fmt.Errorf("updates.max_batch must be positive")
	}
	return nil
}
