// Package config defines the portscope configuration file model, its
// defaults and validation.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete portscope configuration
type Config struct {
	Scanning ScanningConfig `yaml:"scanning" json:"scanning" mapstructure:"scanning"`
	Services ServicesConfig `yaml:"services" json:"services" mapstructure:"services"`
	Resolver ResolverConfig `yaml:"resolver" json:"resolver" mapstructure:"resolver"`
	Database DatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`
	API      APIConfig      `yaml:"api" json:"api" mapstructure:"api"`
	Logging  logging.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
}

// ScanningConfig holds scan engine defaults
type ScanningConfig struct {
	// Default port specification when none is given
	DefaultPorts string `yaml:"default_ports" json:"default_ports" mapstructure:"default_ports" validate:"required"`

	// Default probe technique
	DefaultTechnique string `yaml:"default_technique" json:"default_technique" mapstructure:"default_technique" validate:"oneof=connect tcp syn fin xmas null udp"`

	// Maximum simultaneous in-flight probes per session
	Concurrency int `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency" validate:"min=1,max=65535"`

	// Per-probe response timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// Drain window after cancellation; zero means the probe timeout
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period" mapstructure:"grace_period" validate:"gte=0"`

	// Number of targets scanned at once in batch mode
	Parallel int `yaml:"parallel" json:"parallel" mapstructure:"parallel" validate:"min=1,max=256"`

	// Send protocol-specific payloads on well-known UDP ports
	UDPPayloads bool `yaml:"udp_payloads" json:"udp_payloads" mapstructure:"udp_payloads"`
}

// ServicesConfig holds post-scan service detection settings
type ServicesConfig struct {
	Detection     bool          `yaml:"detection" json:"detection" mapstructure:"detection"`
	BannerGrab    bool          `yaml:"banner_grab" json:"banner_grab" mapstructure:"banner_grab"`
	TLSInspection bool          `yaml:"tls_inspection" json:"tls_inspection" mapstructure:"tls_inspection"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	Concurrency   int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency" validate:"min=1,max=1024"`
}

// ResolverConfig selects how hostnames are resolved
type ResolverConfig struct {
	// DNS server as host:port; empty uses the system resolver
	Server     string        `yaml:"server" json:"server" mapstructure:"server" validate:"omitempty,hostname_port"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	PreferIPv6 bool          `yaml:"prefer_ipv6" json:"prefer_ipv6" mapstructure:"prefer_ipv6"`
}

// DatabaseConfig enables session persistence
type DatabaseConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	db.Config `yaml:",inline" mapstructure:",squash"`
}

// APIConfig holds API server settings
type APIConfig struct {
	ListenAddr         string        `yaml:"listen_addr" json:"listen_addr" mapstructure:"listen_addr" validate:"required"`
	Port               int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`
	MaxConcurrentScans int           `yaml:"max_concurrent_scans" json:"max_concurrent_scans" mapstructure:"max_concurrent_scans" validate:"min=1"`
	MaxRequestSize     int64         `yaml:"max_request_size" json:"max_request_size" mapstructure:"max_request_size" validate:"min=1"`
	CORS               CORSConfig    `yaml:"cors" json:"cors" mapstructure:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers" mapstructure:"allowed_headers"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			DefaultPorts:     "1-1024",
			DefaultTechnique: "connect",
			Concurrency:      100,
			Timeout:          time.Second,
			GracePeriod:      0,
			Parallel:         4,
			UDPPayloads:      true,
		},
		Services: ServicesConfig{
			Detection:     false,
			BannerGrab:    false,
			TLSInspection: false,
			Timeout:       3 * time.Second,
			Concurrency:   20,
		},
		Resolver: ResolverConfig{
			Timeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled: false,
			Config:  db.DefaultConfig(),
		},
		API: APIConfig{
			ListenAddr:         "127.0.0.1",
			Port:               8080,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        60 * time.Second,
			MaxConcurrentScans: 8,
			MaxRequestSize:     1024 * 1024, // 1MB
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON so both extensions share one decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml key names so errors point at the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q validation", fe.Tag()), field, fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return errors.ErrConfigMissing("database.host")
		}
		if c.Database.Database == "" {
			return errors.ErrConfigMissing("database.database")
		}
		if c.Database.Username == "" {
			return errors.ErrConfigMissing("database.username")
		}
	}

	return nil
}

// GraceOrTimeout returns the cancellation grace period, falling back to
// the probe timeout when unset.
func (s ScanningConfig) GraceOrTimeout() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return s.Timeout
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
