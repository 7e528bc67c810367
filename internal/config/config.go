package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/goccy/go-yaml"

	"hostrun/internal/execution"
)

// Config mirrors the YAML host inventory shape.
type Config struct {
	Defaults Defaults        `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Hosts    map[string]Host `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Logging  *LoggingConfig  `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// Defaults apply to every command unless overridden on the command line.
type Defaults struct {
	// Timeout is the wall-clock limit per command, as a Go duration
	// string. Empty or "0" means wait indefinitely.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Grace is the SIGTERM-to-SIGKILL window for timed-out local commands.
	Grace string `yaml:"grace,omitempty" json:"grace,omitempty"`
	// LockFile enables the single-instance lock when set.
	LockFile string `yaml:"lock_file,omitempty" json:"lock_file,omitempty"`
}

// LoggingConfig holds the logging configuration. If no path is provided,
// logs are written to stdout.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warning,enum=error,enum=critical"`
	Path  string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Host is a remote host commands can be sent to.
type Host struct {
	IP          string `yaml:"ip" json:"ip"`
	Port        int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	KeyFile     string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	KeyPassword string `yaml:"key_password,omitempty" json:"key_password,omitempty"`
}

// Address renders the host as a dialable host:port.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = execution.DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", h.IP, port)
}

// Credentials converts the host entry into execution credentials.
func (h Host) Credentials() execution.Credentials {
	return execution.Credentials{
		Username:    h.Username,
		Password:    h.Password,
		KeyFile:     h.KeyFile,
		KeyPassword: h.KeyPassword,
	}
}

// Timeout parses the default timeout; zero when unset.
func (c *Config) Timeout() (time.Duration, error) {
	return parseOptionalDuration(c.Defaults.Timeout)
}

// Grace parses the default termination grace; zero when unset.
func (c *Config) Grace() (time.Duration, error) {
	return parseOptionalDuration(c.Defaults.Grace)
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ParseYAML loads and validates configuration using strict decoding.
func ParseYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict()); err != nil {
		return nil, err
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validateConfig(cfg *Config) error {
	var errs []string

	for _, field := range []struct{ name, value string }{
		{"defaults.timeout", cfg.Defaults.Timeout},
		{"defaults.grace", cfg.Defaults.Grace},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Sprintf("%s must be a non-negative duration", field.name))
		}
	}

	for alias, host := range cfg.Hosts {
		if strings.TrimSpace(alias) == "" {
			errs = append(errs, "host alias must not be empty")
		}
		if strings.TrimSpace(host.IP) == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s.ip must be set", alias))
		}
		if strings.TrimSpace(host.Username) == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s.username must be set", alias))
		}
		if strings.TrimSpace(host.KeyFile) == "" && host.Password == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s must set key_file or password", alias))
		}
		if host.Port < 0 || host.Port > 65535 {
			errs = append(errs, fmt.Sprintf("hosts.%s.port must be between 0 and 65535", alias))
		}
	}

	if cfg.Logging != nil && strings.TrimSpace(cfg.Logging.Level) != "" {
		switch strings.ToLower(cfg.Logging.Level) {
		case "critical", "error", "warning", "info", "debug":
			// ok
		default:
			errs = append(errs, "logging.level must be one of [critical, error, warning, info, debug]")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func GetDefaultConfigFile() string {
	return string(defaultConfigFile)
}

//go:embed files/default_hosts.yaml
var defaultConfigFile []byte
