package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Export       ExportConfig      `yaml:"export"`
	Chat         ChatConfig        `yaml:"chat"`
	Workspace    Workspace         `yaml:"workspace"`
	Attachments  Attachments       `yaml:"attachments"`
	Migration    Migration         `yaml:"migration"`
	SpaceMapping map[string]string `yaml:"space_mapping"`
	LogLevel     string            `yaml:"log_level"`
}

// ExportConfig locates the exported workspace archive on disk
type ExportConfig struct {
	Root string `yaml:"root"`
}

// ChatConfig configures the destination messaging API
type ChatConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	// UserTokens maps internal emails to per-user tokens for delegated
	// sends. Identities without a token fall back to the admin client.
	UserTokens map[string]string `yaml:"user_tokens"`
}

// Workspace describes the identity mapping between source and destination
type Workspace struct {
	AdminEmail string `yaml:"admin_email"`
	Domain     string `yaml:"domain"`
	// UserOverrides maps source user IDs to destination emails, taking
	// precedence over the emails in the export's user list.
	UserOverrides map[string]string `yaml:"user_overrides"`
}

// Attachments configures the S3-compatible staging store for files
type Attachments struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// Migration represents migration-specific configuration
type Migration struct {
	Concurrency        int     `yaml:"concurrency"`
	DryRun             bool    `yaml:"dry_run"`
	Resume             bool    `yaml:"resume"`
	Validate           bool    `yaml:"validate"`
	IgnoreBots         bool    `yaml:"ignore_bots"`
	SpacePrefix        string  `yaml:"space_prefix"`
	SendThrottleMs     int     `yaml:"send_throttle_ms"`
	MembershipDelayMs  int     `yaml:"membership_delay_ms"`
	MaxFailurePercent  float64 `yaml:"max_failure_percent"`
	DeleteSpacesOnErrs bool    `yaml:"delete_spaces_on_errors"`
	Checkpoint         string  `yaml:"checkpoint"`
	ShowProgress       bool    `yaml:"show_progress"`
	MetricsAddr        string  `yaml:"metrics_addr"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Migration: Migration{
			Concurrency:       4,
			IgnoreBots:        true,
			SpacePrefix:       "Slack #",
			SendThrottleMs:    50,
			MembershipDelayMs: 100,
			MaxFailurePercent: 10,
			Checkpoint:        "./checkpoint.db",
			ShowProgress:      true,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("export-root") {
		cfg.Export.Root, _ = flags.GetString("export-root")
	}

	if flags.Changed("chat-endpoint") {
		cfg.Chat.Endpoint, _ = flags.GetString("chat-endpoint")
	}
	if flags.Changed("chat-token") {
		cfg.Chat.Token, _ = flags.GetString("chat-token")
	}

	if flags.Changed("admin-email") {
		cfg.Workspace.AdminEmail, _ = flags.GetString("admin-email")
	}
	if flags.Changed("domain") {
		cfg.Workspace.Domain, _ = flags.GetString("domain")
	}

	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("dry-run") {
		cfg.Migration.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("resume") {
		cfg.Migration.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("validate") {
		cfg.Migration.Validate, _ = flags.GetBool("validate")
	}
	if flags.Changed("ignore-bots") {
		cfg.Migration.IgnoreBots, _ = flags.GetBool("ignore-bots")
	}
	if flags.Changed("space-prefix") {
		cfg.Migration.SpacePrefix, _ = flags.GetString("space-prefix")
	}
	if flags.Changed("send-throttle-ms") {
		cfg.Migration.SendThrottleMs, _ = flags.GetInt("send-throttle-ms")
	}
	if flags.Changed("membership-delay-ms") {
		cfg.Migration.MembershipDelayMs, _ = flags.GetInt("membership-delay-ms")
	}
	if flags.Changed("max-failure-percent") {
		cfg.Migration.MaxFailurePercent, _ = flags.GetFloat64("max-failure-percent")
	}
	if flags.Changed("delete-spaces-on-errors") {
		cfg.Migration.DeleteSpacesOnErrs, _ = flags.GetBool("delete-spaces-on-errors")
	}
	if flags.Changed("checkpoint") {
		cfg.Migration.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("show-progress") {
		cfg.Migration.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("metrics-addr") {
		cfg.Migration.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Export.Root == "" {
		return fmt.Errorf("export root is required")
	}
	if c.Workspace.AdminEmail == "" {
		return fmt.Errorf("admin email is required")
	}
	if c.Workspace.Domain == "" {
		return fmt.Errorf("workspace domain is required")
	}

	// Dry-run and validation modes never touch the API, so the endpoint and
	// token are only needed for a real run.
	if !c.Migration.DryRun && !c.Migration.Validate {
		if c.Chat.Endpoint == "" {
			return fmt.Errorf("chat endpoint is required")
		}
		if c.Chat.Token == "" {
			return fmt.Errorf("chat token is required")
		}
	}

	if c.Attachments.Enabled {
		if c.Attachments.Endpoint == "" {
			return fmt.Errorf("attachments endpoint is required")
		}
		if c.Attachments.Bucket == "" {
			return fmt.Errorf("attachments bucket is required")
		}
	}

	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Migration.MaxFailurePercent < 0 || c.Migration.MaxFailurePercent > 100 {
		return fmt.Errorf("max failure percent must be between 0 and 100")
	}

	return nil
}
