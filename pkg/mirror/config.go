// Copyright 2024-2026 Aiku AI

package mirror

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Duration is a yaml-friendly time.Duration ("10s", "1m", "1h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the full mirror configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Target     TargetConfig     `yaml:"target"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Formatting FormattingConfig `yaml:"formatting"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SourceConfig locates the source gateway and the mirrored channel.
type SourceConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	Channel    string `yaml:"channel"`
}

// TargetConfig holds the target instance credentials.
type TargetConfig struct {
	Instance    string `yaml:"instance"`
	AccessToken string `yaml:"access_token"`
}

// DatabaseConfig selects the persistent store.
type DatabaseConfig struct {
	URI string `yaml:"uri"`
}

// MetricsConfig controls the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// PipelineConfig tunes the ordering and delivery machinery.
type PipelineConfig struct {
	GroupFlushDelay      Duration `yaml:"group_flush_delay"`
	RetryCooldown        Duration `yaml:"retry_cooldown"`
	AttachmentRetries    int      `yaml:"attachment_retries"`
	AttachmentRetryDelay Duration `yaml:"attachment_retry_delay"`
	WatchdogThreshold    Duration `yaml:"watchdog_threshold"`
	PublicLimitCount     int      `yaml:"public_limit_count"`
	PublicLimitWindow    Duration `yaml:"public_limit_window"`
	Locale               string   `yaml:"locale"`
	NormalVisibility     string   `yaml:"normal_visibility"`
	ElevatedVisibility   string   `yaml:"elevated_visibility"`
	MaxDescriptionLength int      `yaml:"max_description_length"`
}

// FormattingConfig drives content composition and classification.
type FormattingConfig struct {
	// LinkBase is the prefix for deterministic fallback links, e.g.
	// "https://t.me/meduzalive".
	LinkBase          string   `yaml:"link_base"`
	JunkPatterns      []string `yaml:"junk_patterns"`
	ImportantPatterns []string `yaml:"important_patterns"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URI: "file:chanmirror.db?_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"},
		Metrics:  MetricsConfig{Listen: ":9321"},
		Pipeline: PipelineConfig{
			GroupFlushDelay:      Duration(10 * time.Second),
			RetryCooldown:        Duration(time.Minute),
			AttachmentRetries:    15,
			AttachmentRetryDelay: Duration(20 * time.Second),
			WatchdogThreshold:    Duration(90 * time.Minute),
			PublicLimitCount:     3,
			PublicLimitWindow:    Duration(time.Hour),
			Locale:               "ru",
			NormalVisibility:     string(VisibilityUnlisted),
			ElevatedVisibility:   string(VisibilityPublic),
			MaxDescriptionLength: 1500,
		},
		Logging: LoggingConfig{Level: "info", Pretty: true},
	}
}

// LoadConfig reads, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := defaultConfig()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Source.GatewayURL == "" {
		return fmt.Errorf("source.gateway_url is required")
	}
	if c.Source.Channel == "" {
		return fmt.Errorf("source.channel is required")
	}
	if c.Target.Instance == "" {
		return fmt.Errorf("target.instance is required")
	}
	if c.Target.AccessToken == "" {
		return fmt.Errorf("target.access_token is required")
	}
	if c.Pipeline.GroupFlushDelay.D() <= 0 {
		return fmt.Errorf("pipeline.group_flush_delay must be positive")
	}
	if c.Pipeline.PublicLimitCount <= 0 || c.Pipeline.PublicLimitWindow.D() <= 0 {
		return fmt.Errorf("pipeline.public_limit_count and public_limit_window must be positive")
	}
	switch Visibility(c.Pipeline.NormalVisibility) {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
	default:
		return fmt.Errorf("pipeline.normal_visibility %q is not a valid visibility", c.Pipeline.NormalVisibility)
	}
	switch Visibility(c.Pipeline.ElevatedVisibility) {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
	default:
		return fmt.Errorf("pipeline.elevated_visibility %q is not a valid visibility", c.Pipeline.ElevatedVisibility)
	}
	return nil
}
