package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ICEServer is a STUN or TURN server handed to the peer connection.
type ICEServer struct {
	URLs       []string `toml:"urls" mapstructure:"urls" validate:"required,min=1,dive,required"`
	Username   string   `toml:"username,omitempty" mapstructure:"username"`
	Credential string   `toml:"credential,omitempty" mapstructure:"credential"`
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session" mapstructure:"default_session"`

	ServerURL string `toml:"server_url" mapstructure:"server_url" validate:"required,url"`
	UserID    string `toml:"user_id" mapstructure:"user_id" validate:"required"`
	Token     string `toml:"token,omitempty" mapstructure:"token"`

	ICEServers []ICEServer `toml:"ice_servers,omitempty" mapstructure:"ice_servers" validate:"dive"`

	PageSize           int           `toml:"page_size" mapstructure:"page_size" validate:"gte=1"`
	AckTimeout         time.Duration `toml:"ack_timeout" mapstructure:"ack_timeout" validate:"gt=0"`
	ReconnectBaseDelay time.Duration `toml:"reconnect_base_delay" mapstructure:"reconnect_base_delay" validate:"gt=0"`
	ReconnectMaxDelay  time.Duration `toml:"reconnect_max_delay" mapstructure:"reconnect_max_delay" validate:"gtefield=ReconnectBaseDelay"`
	SendRate           float64       `toml:"send_rate" mapstructure:"send_rate" validate:"gte=0"`
	SendBurst          int           `toml:"send_burst" mapstructure:"send_burst" validate:"gte=1"`

	MetricsAddr string `toml:"metrics_addr,omitempty" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	LogLevel    string `toml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns a Config with defaults for everything but the server
// and user.
func Default() *Config {
	return &Config{
		DefaultSession:     "main",
		ICEServers:         []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		PageSize:           50,
		AckTimeout:         30 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		SendRate:           20,
		SendBurst:          40,
		LogLevel:           "info",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads config from the given path, with CHATSYNC_* environment
// variables taking precedence over the file. Returns error if the file is
// missing.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("default_session", d.DefaultSession)
	v.SetDefault("server_url", "")
	v.SetDefault("user_id", "")
	v.SetDefault("token", "")
	v.SetDefault("ice_servers", d.ICEServers)
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("ack_timeout", d.AckTimeout)
	v.SetDefault("reconnect_base_delay", d.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", d.ReconnectMaxDelay)
	v.SetDefault("send_rate", d.SendRate)
	v.SetDefault("send_burst", d.SendBurst)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields the daemon needs to run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
