// Package config loads ESP's server/client configuration via viper, the
// way _examples/firestige-Otus/internal/config does: a struct tagged
// with `mapstructure`, defaults set before unmarshal, environment
// overrides layered on top of a YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is ESP server configuration (spec §6's "server-exposed
// control knobs").
type ServerConfig struct {
	Listen string `mapstructure:"listen"`

	BroadcastHz          float64       `mapstructure:"broadcast_hz"`
	RetransmitTimeout     time.Duration `mapstructure:"retransmit_timeout"`
	RetryCap              int           `mapstructure:"retry_cap"`
	RedundancyK           int           `mapstructure:"redundancy_k"`
	ReassemblyTimeout     time.Duration `mapstructure:"reassembly_timeout"`
	RequiredPlayers       int           `mapstructure:"required_players"`
	UpdatesWindow         int           `mapstructure:"updates_window"`

	// Duration is the optional wall-clock lifetime after which the
	// server shuts down gracefully (spec §5's "duration" parameter). A
	// zero value means run until interrupted.
	Duration time.Duration `mapstructure:"duration"`

	Shards int `mapstructure:"shards"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ClientConfig is ESP client runtime configuration.
type ClientConfig struct {
	ServerAddr string        `mapstructure:"server_addr"`
	Duration   time.Duration `mapstructure:"duration"`
	Log        LogConfig     `mapstructure:"log"`
}

// LogConfig controls the logrus setup (internal/log).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus HTTP endpoint (internal/metrics).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("espd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/esp")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":9999")
	v.SetDefault("broadcast_hz", 21.0)
	v.SetDefault("retransmit_timeout", 100*time.Millisecond)
	v.SetDefault("retry_cap", 5)
	v.SetDefault("redundancy_k", 3)
	v.SetDefault("reassembly_timeout", 5*time.Second)
	v.SetDefault("required_players", 4)
	v.SetDefault("updates_window", 10)
	v.SetDefault("duration", 0)
	v.SetDefault("shards", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

func clientDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "127.0.0.1:9999")
	v.SetDefault("duration", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadServer reads path (if non-empty) plus environment overrides into a
// ServerConfig. A missing config file is tolerated — defaults apply.
func LoadServer(path string) (*ServerConfig, error) {
	v := newViper(path)
	serverDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads client configuration symmetrically to LoadServer.
func LoadClient(path string) (*ClientConfig, error) {
	v := newViper(path)
	if path == "" {
		v.SetConfigName("espc")
	}
	clientDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	return &cfg, nil
}

func (cfg *ServerConfig) validate() error {
	if cfg.RequiredPlayers <= 0 || cfg.RequiredPlayers > 255 {
		return fmt.Errorf("config: required_players must be in [1, 255], got %d", cfg.RequiredPlayers)
	}
	if cfg.RetryCap <= 0 {
		return fmt.Errorf("config: retry_cap must be positive, got %d", cfg.RetryCap)
	}
	if cfg.Shards <= 0 {
		return fmt.Errorf("config: shards must be positive, got %d", cfg.Shards)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}
