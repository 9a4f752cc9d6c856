package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	AuditDSN      string          `yaml:"audit_dsn"`
	KeystorePath  string          `yaml:"keystore"`
	PolicyFile    string          `yaml:"policy_file"`
	Environment   string          `yaml:"environment"`
	Log           LogConfig       `yaml:"log"`
	Engines       []EngineConfig  `yaml:"engines"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// LogConfig controls the optional rotating log sink. When File is empty,
// logs go to stdout only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EngineConfig describes one external execution engine endpoint. The ID must
// match the engine identifier recorded in vault parameters.
type EngineConfig struct {
	ID        string   `yaml:"id"`
	URL       string   `yaml:"url"`
	Timeout   Duration `yaml:"timeout"`
	AuthToken string   `yaml:"auth_token"`
}

// TelemetryConfig tunes the OTLP trace exporter.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8645"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.AuditDSN == "" {
		cfg.AuditDSN = "audit.db"
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = "vault-owner.keystore"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 64
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}
	for i := range cfg.Engines {
		if cfg.Engines[i].Timeout.Duration <= 0 {
			cfg.Engines[i].Timeout.Duration = 10 * time.Second
		}
	}
}

func validate(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Engines))
	for _, eng := range cfg.Engines {
		if eng.ID == "" {
			return fmt.Errorf("engine id required")
		}
		if eng.URL == "" {
			return fmt.Errorf("engine %s: url required", eng.ID)
		}
		if _, dup := seen[eng.ID]; dup {
			return fmt.Errorf("engine %s: duplicate id", eng.ID)
		}
		seen[eng.ID] = struct{}{}
	}
	return nil
}
