package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`

	RequestTimeoutSeconds   int   `mapstructure:"request_timeout_seconds"`
	HandshakeTimeoutSeconds int   `mapstructure:"handshake_timeout_seconds"`
	PresenceTimeoutSeconds  int   `mapstructure:"presence_timeout_seconds"`
	ReconnectCapSeconds     int   `mapstructure:"reconnect_cap_seconds"`
	MaxAttachmentBytes      int64 `mapstructure:"max_attachment_bytes"`
	PageSize                int   `mapstructure:"page_size"`
	Development             bool  `mapstructure:"development"`

	// Derived
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	PresenceTimeout  time.Duration
	ReconnectCap     time.Duration
}

// Load reads configuration from an optional file plus CHAT_* environment
// overrides (CHAT_BASE_URL, CHAT_WS_URL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("ws_url", "ws://localhost:8080/ws")
	v.SetDefault("request_timeout_seconds", 15)
	v.SetDefault("handshake_timeout_seconds", 10)
	v.SetDefault("presence_timeout_seconds", 3)
	v.SetDefault("reconnect_cap_seconds", 30)
	v.SetDefault("max_attachment_bytes", 16<<20)
	v.SetDefault("page_size", 50)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.derive()
	return &cfg, nil
}

// Default returns the built-in configuration, used by tests and as a base for
// programmatic overrides.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

func (c *Config) derive() {
	c.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	c.HandshakeTimeout = time.Duration(c.HandshakeTimeoutSeconds) * time.Second
	c.PresenceTimeout = time.Duration(c.PresenceTimeoutSeconds) * time.Second
	c.ReconnectCap = time.Duration(c.ReconnectCapSeconds) * time.Second
}

// Derive recomputes duration fields after programmatic changes to the
// *_Seconds values.
func (c *Config) Derive() { c.derive() }
