// Package config loads and validates the scanstreams configuration: broker
// connection settings, which stages a process runs, and the ambient
// logging and metrics setup. Configuration is a YAML file with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/scanstreams/errors"
)

// Config is the complete configuration for one scanstreams process
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Stages  StagesConfig  `yaml:"stages"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig defines the NATS connection settings
type BrokerConfig struct {
	URL           string        `yaml:"url"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	Token         string        `yaml:"token,omitempty"`
	MaxReconnects int           `yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `yaml:"reconnect_wait,omitempty"`
}

// StageConfig defines one stage's runtime settings
type StageConfig struct {
	Enabled bool `yaml:"enabled"`
	Workers int  `yaml:"workers,omitempty"`
}

// StagesConfig selects which stages this process runs. A single process can
// run any subset; a full deployment usually spreads stages across
// processes and scales the converter and matcher horizontally.
type StagesConfig struct {
	Explorer  StageConfig `yaml:"explorer"`
	Converter StageConfig `yaml:"converter"`
	Matcher   StageConfig `yaml:"matcher"`
	Tagger    StageConfig `yaml:"tagger"`
	Exporter  StageConfig `yaml:"exporter"`

	// DiscoveryRate caps handle enumeration per second; 0 means unlimited
	DiscoveryRate float64 `yaml:"discovery_rate,omitempty"`
	// DumpPath appends exported results to a JSONL file when set
	DumpPath string `yaml:"dump_path,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port,omitempty"`
}

// LoggingConfig defines log output settings
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Default returns the configuration a process starts from before the file
// and environment are applied: every stage enabled with one worker,
// metrics on the conventional port.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Stages: StagesConfig{
			Explorer:  StageConfig{Enabled: true, Workers: 1},
			Converter: StageConfig{Enabled: true, Workers: 4},
			Matcher:   StageConfig{Enabled: true, Workers: 4},
			Tagger:    StageConfig{Enabled: true, Workers: 2},
			Exporter:  StageConfig{Enabled: true, Workers: 1},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with SCANSTREAMS_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("SCANSTREAMS_BROKER_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv("SCANSTREAMS_BROKER_USERNAME"); v != "" {
		c.Broker.Username = v
	}
	if v := os.Getenv("SCANSTREAMS_BROKER_PASSWORD"); v != "" {
		c.Broker.Password = v
	}
	if v := os.Getenv("SCANSTREAMS_BROKER_TOKEN"); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv("SCANSTREAMS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Metrics.Port = port
		}
	}
	if v := os.Getenv("SCANSTREAMS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for values that would fail later in a
// less obvious way.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: broker.url", errors.ErrMissingConfig),
			"Config", "Validate", "check broker")
	}
	if c.Broker.MaxReconnects < -1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: broker.max_reconnects must be >= -1", errors.ErrInvalidConfig),
			"Config", "Validate", "check broker")
	}

	for name, stage := range c.enabledStages() {
		if stage.Workers < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: stages.%s.workers must be >= 0", errors.ErrInvalidConfig, name),
				"Config", "Validate", "check stages")
		}
	}

	if c.Stages.DiscoveryRate < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stages.discovery_rate must be >= 0", errors.ErrInvalidConfig),
			"Config", "Validate", "check stages")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics.port out of range", errors.ErrInvalidConfig),
			"Config", "Validate", "check metrics")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: logging.level %q", errors.ErrInvalidConfig, c.Logging.Level),
			"Config", "Validate", "check logging")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: logging.format %q", errors.ErrInvalidConfig, c.Logging.Format),
			"Config", "Validate", "check logging")
	}

	return nil
}

func (c *Config) enabledStages() map[string]StageConfig {
	all := map[string]StageConfig{
		"explorer":  c.Stages.Explorer,
		"converter": c.Stages.Converter,
		"matcher":   c.Stages.Matcher,
		"tagger":    c.Stages.Tagger,
		"exporter":  c.Stages.Exporter,
	}
	enabled := map[string]StageConfig{}
	for name, stage := range all {
		if stage.Enabled {
			enabled[name] = stage
		}
	}
	return enabled
}

// AnyStageEnabled reports whether this process has anything to run
func (c *Config) AnyStageEnabled() bool {
	return len(c.enabledStages()) > 0
}
