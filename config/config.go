// Package config loads host configuration from a TOML file and ACTORSYNC_*
// environment variables.
//
// Precedence, lowest first: built-in defaults, the TOML file, the
// environment, then command-line flags applied by the binaries.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DefaultBindAddress      = "0.0.0.0"
	DefaultPort             = 7777
	DefaultTickRate         = 64
	DefaultBootstrapTimeout = 5 * time.Second
	DefaultBufferSize       = 256
)

// LogConfig configures logging.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Format     string `env:"LOG_FORMAT"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS"`
	Compress   bool   `env:"LOG_COMPRESS"`
}

// Config holds the settings shared by the server and client binaries. The
// client dials BindAddress:Port; the server listens on it.
type Config struct {
	BindAddress      string        `env:"BIND_ADDRESS"`
	Port             int           `env:"PORT"`
	TickRate         int           `env:"TICK_RATE"`
	BootstrapTimeout time.Duration `env:"BOOTSTRAP_TIMEOUT"`
	SendBuffer       int           `env:"SEND_BUFFER"`
	ReceiveBuffer    int           `env:"RECEIVE_BUFFER"`
	Log              LogConfig
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BindAddress:      DefaultBindAddress,
		Port:             DefaultPort,
		TickRate:         DefaultTickRate,
		BootstrapTimeout: DefaultBootstrapTimeout,
		SendBuffer:       DefaultBufferSize,
		ReceiveBuffer:    DefaultBufferSize,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Address returns BindAddress:Port.
func (c Config) Address() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// TickInterval returns the duration of one tick.
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(c.TickRate)
}

type fileLogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type fileConfig struct {
	BindAddress      string        `toml:"bind_address"`
	Port             int           `toml:"port"`
	TickRate         int           `toml:"tick_rate"`
	BootstrapTimeout string        `toml:"bootstrap_timeout"`
	SendBuffer       int           `toml:"send_buffer"`
	ReceiveBuffer    int           `toml:"receive_buffer"`
	Log              fileLogConfig `toml:"log"`
}

// Load returns the defaults overlaid with every key defined in the TOML file
// at path. Keys the file leaves out keep their defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("bind_address") {
		cfg.BindAddress = strings.TrimSpace(raw.BindAddress)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("tick_rate") {
		cfg.TickRate = raw.TickRate
	}
	if meta.IsDefined("bootstrap_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BootstrapTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse bootstrap_timeout: %w", err)
		}
		cfg.BootstrapTimeout = d
	}
	if meta.IsDefined("send_buffer") {
		cfg.SendBuffer = raw.SendBuffer
	}
	if meta.IsDefined("receive_buffer") {
		cfg.ReceiveBuffer = raw.ReceiveBuffer
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "max_size_mb") {
		cfg.Log.MaxSizeMB = raw.Log.MaxSizeMB
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age_days") {
		cfg.Log.MaxAgeDays = raw.Log.MaxAgeDays
	}
	if meta.IsDefined("log", "compress") {
		cfg.Log.Compress = raw.Log.Compress
	}

	return cfg, nil
}

// EnvPrefix namespaces every environment override.
const EnvPrefix = "ACTORSYNC_"

// ApplyEnv overrides cfg with any ACTORSYNC_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnvFrom is ApplyEnv with an explicit environment, for tests.
func ApplyEnvFrom(cfg *Config, environment map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environment}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true,
	"error": true, "fatal": true, "panic": true,
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BindAddress) == "" {
		errs = append(errs, errors.New("bind_address is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate %d must be between 1 and 1000", c.TickRate))
	}
	if c.BootstrapTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bootstrap_timeout %s must be positive", c.BootstrapTimeout))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer %d must be positive", c.SendBuffer))
	}
	if c.ReceiveBuffer <= 0 {
		errs = append(errs, fmt.Errorf("receive_buffer %d must be positive", c.ReceiveBuffer))
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not a log level", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}
