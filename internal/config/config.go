package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "PULSEBOARD"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "pulseboard.db"
	defaultLogLevel       = "info"
	defaultServerURL      = "http://127.0.0.1:8080"
	defaultLocationRadius = 250.0
)

// AppConfig captures runtime configuration for the CLI and the
// development backend.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	ServerURL       string
	UserID          string
	UserName        string
	UserEmoji       string
	UserPhotoURL    string
	LocationRadiusM float64
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
	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("location.radius_m", defaultLocationRadius)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		ServerURL:       configViper.GetString("server.url"),
		UserID:          configViper.GetString("user.id"),
		UserName:        configViper.GetString("user.name"),
		UserEmoji:       configViper.GetString("user.emoji"),
		UserPhotoURL:    configViper.GetString("user.photo_url"),
		LocationRadiusM: configViper.GetFloat64("location.radius_m"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.LocationRadiusM < 0 {
		return fmt.Errorf("location.radius_m must not be negative")
	}
	return nil
}

// WebsocketURL derives the push endpoint from the configured server URL.
func (c AppConfig) WebsocketURL() string {
	url := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
