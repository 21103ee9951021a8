// Package config provides configuration management for the agent bridge
// daemon: environment variables, an optional config file, and validated
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	Catalogue CatalogueConfig `mapstructure:"catalogue"`
	Bus       BusConfig       `mapstructure:"bus"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AuthToken is the shared bearer token WebSocket clients must present
	// in their auth message. Empty accepts any token, for local
	// development only.
	AuthToken string `mapstructure:"authToken"`
}

// ApprovalConfig holds the approval manager's policy knobs.
type ApprovalConfig struct {
	// Threshold is the minimum risk level that requires routing to a
	// client: one of low, medium, high, critical.
	Threshold string `mapstructure:"threshold"`
	// RequireClient, when true, falls through to "ask" instead of routing
	// to a nonexistent client.
	RequireClient bool `mapstructure:"requireClient"`
	// TimeoutSeconds is how long a routed approval waits before resolving
	// itself with "ask".
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// Timeout returns the approval timeout as a time.Duration.
func (a ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// AdaptersConfig holds per-adapter enablement and filesystem roots.
type AdaptersConfig struct {
	ClaudeCode ClaudeCodeConfig `mapstructure:"claudeCode"`
	ACP        ACPConfig        `mapstructure:"acp"`
}

// ClaudeCodeConfig configures the reference (JSONL) adapter.
type ClaudeCodeConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SessionRoot string `mapstructure:"sessionRoot"`
	BinaryPath  string `mapstructure:"binaryPath"`
	Sandbox     struct {
		Enabled bool   `mapstructure:"enabled"`
		Image   string `mapstructure:"image"`
	} `mapstructure:"sandbox"`
}

// ACPConfig configures the Agent Client Protocol adapter.
type ACPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BinaryPath string `mapstructure:"binaryPath"`
}

// CatalogueConfig selects the session catalogue backend.
type CatalogueConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// BusConfig selects the cross-instance event relay backend.
type BusConfig struct {
	// NATSURL, when set, enables the NATS relay; empty disables it.
	NATSURL string `mapstructure:"natsUrl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads configuration from environment variables, an optional config
// file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given directory (or default
// locations if empty).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("agentbridge")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentbridge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7710)
	v.SetDefault("server.authToken", "")

	v.SetDefault("approval.threshold", "medium")
	v.SetDefault("approval.requireClient", false)
	v.SetDefault("approval.timeoutSeconds", 290)

	v.SetDefault("adapters.claudeCode.enabled", true)
	v.SetDefault("adapters.claudeCode.sessionRoot", "~/.claude/projects")
	v.SetDefault("adapters.claudeCode.binaryPath", "claude")
	v.SetDefault("adapters.claudeCode.sandbox.enabled", false)
	v.SetDefault("adapters.claudeCode.sandbox.image", "")

	v.SetDefault("adapters.acp.enabled", false)
	v.SetDefault("adapters.acp.binaryPath", "")

	v.SetDefault("catalogue.driver", "memory")
	v.SetDefault("catalogue.dsn", "")

	v.SetDefault("bus.natsUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

var validRiskLevels = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !validRiskLevels[strings.ToLower(cfg.Approval.Threshold)] {
		errs = append(errs, "approval.threshold must be one of: low, medium, high, critical")
	}
	if cfg.Approval.TimeoutSeconds <= 0 {
		errs = append(errs, "approval.timeoutSeconds must be positive")
	}
	if cfg.Catalogue.Driver != "memory" && cfg.Catalogue.Driver != "postgres" {
		errs = append(errs, "catalogue.driver must be one of: memory, postgres")
	}
	if cfg.Catalogue.Driver == "postgres" && cfg.Catalogue.DSN == "" {
		errs = append(errs, "catalogue.dsn is required when catalogue.driver is postgres")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
