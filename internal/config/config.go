package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "PULSE"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "pulse.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 30
	defaultRefreshIntervalMin = 5
)

// AppConfig captures runtime configuration for the notification service.
type AppConfig struct {
	HTTPAddress     string
	SigningSecret   string
	TokenTTL        time.Duration
	DatabasePath    string
	LogLevel        string
	CRMBaseURL      string
	CRMAPIToken     string
	RefreshInterval time.Duration
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
	configViper.SetDefault("notify.refresh_interval_minutes", defaultRefreshIntervalMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		CRMBaseURL:      configViper.GetString("crm.base_url"),
		CRMAPIToken:     configViper.GetString("crm.api_token"),
		RefreshInterval: time.Duration(configViper.GetInt("notify.refresh_interval_minutes")) * time.Minute,
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
	if strings.TrimSpace(c.CRMBaseURL) == "" {
		return fmt.Errorf("crm.base_url is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("notify.refresh_interval_minutes must be positive")
	}
	return nil
}
