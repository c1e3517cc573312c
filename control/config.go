// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Layered configuration: defaults, optional YAML file, HIOLOAD_* environment
// variables and command-line flags, in increasing priority.

package control

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. HIOLOAD_SERVER_PORT.
const EnvPrefix = "HIOLOAD"

// ErrInvalidConfig marks a configuration that loaded but failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings is the decoded configuration tree.
type Settings struct {
	Server  ServerSettings  `mapstructure:"server"`
	Log     LogSettings     `mapstructure:"log"`
	Relay   RelaySettings   `mapstructure:"relay"`
	Tracing TracingSettings `mapstructure:"tracing"`
}

type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxPayload      uint64        `mapstructure:"max_payload"`
	ReadBuffer      int           `mapstructure:"read_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	StrictVersion   bool          `mapstructure:"strict_version"`
}

// Addr is host:port for net.Listen.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RelaySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type TracingSettings struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var defaults = map[string]any{
	"server.host":             "",
	"server.port":             3000,
	"server.max_connections":  0,
	"server.max_payload":      16 << 20,
	"server.read_buffer":      4096,
	"server.shutdown_timeout": "10s",
	"server.write_timeout":    "10s",
	"server.strict_version":   false,
	"log.level":               "info",
	"log.format":              "json",
	"log.file":                "",
	"log.max_size_mb":         100,
	"log.max_backups":         3,
	"log.max_age_days":        7,
	"log.compress":            false,
	"relay.enabled":           false,
	"relay.addr":              "localhost:6379",
	"relay.channel":           "hioload:broadcast",
	"tracing.enabled":         false,
	"tracing.sample_ratio":    1.0,
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":            "server.host",
	"port":            "server.port",
	"max-connections": "server.max_connections",
	"max-payload":     "server.max_payload",
	"strict-version":  "server.strict_version",
	"write-timeout":   "server.write_timeout",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"relay":           "relay.enabled",
	"relay-addr":      "relay.addr",
	"relay-channel":   "relay.channel",
	"tracing":         "tracing.enabled",
}

// RegisterFlags defines the command-line flags understood by LoadConfig.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("host", "", "listen host")
	fs.IntP("port", "p", 3000, "listen port")
	fs.Int("max-connections", 0, "connection limit (0 = unbounded)")
	fs.Uint64("max-payload", 16<<20, "largest accepted frame payload in bytes")
	fs.Bool("strict-version", false, "require Sec-WebSocket-Version: 13")
	fs.Duration("write-timeout", 10*time.Second, "deadline for each write to a peer")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "json", "log format: json or console")
	fs.String("log-file", "", "rotated log file path")
	fs.Bool("relay", false, "fan out through Redis pub/sub")
	fs.String("relay-addr", "localhost:6379", "Redis address")
	fs.String("relay-channel", "hioload:broadcast", "Redis channel")
	fs.Bool("tracing", false, "export broadcast spans to stdout")
}

// LoadConfig builds a viper instance from every source and decodes it.
// path may be empty; flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*Settings, *viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return s, v, nil
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects values the server cannot run with.
func (s *Settings) Validate() error {
	switch {
	case s.Server.Port < 0 || s.Server.Port > 65535:
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, s.Server.Port)
	case s.Server.MaxConnections < 0:
		return fmt.Errorf("%w: server.max_connections must not be negative", ErrInvalidConfig)
	case s.Server.MaxPayload == 0:
		return fmt.Errorf("%w: server.max_payload must be positive", ErrInvalidConfig)
	case s.Server.ShutdownTimeout < 0:
		return fmt.Errorf("%w: server.shutdown_timeout must not be negative", ErrInvalidConfig)
	case s.Server.WriteTimeout < 0:
		return fmt.Errorf("%w: server.write_timeout must not be negative", ErrInvalidConfig)
	case s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0, 1]", ErrInvalidConfig)
	case s.Relay.Enabled && s.Relay.Addr == "":
		return fmt.Errorf("%w: relay.addr is required when relay is enabled", ErrInvalidConfig)
	}
	return nil
}
