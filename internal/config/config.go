package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Nats        NatsConfig        `yaml:"nats"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Corrections CorrectionsConfig `yaml:"corrections"`
	Output      OutputConfig      `yaml:"output"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type NatsConfig struct {
	URL string `yaml:"url"`
}

type CatalogConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type CorrectionsConfig struct {
	Dir string `yaml:"dir"`
}

type OutputConfig struct {
	Dir             string `yaml:"dir"`
	ColumnMaxSizeMB int    `yaml:"column_max_size_mb"`
}

type ExecutorConfig struct {
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	Workers        int  `yaml:"workers"`
	Retries        int  `yaml:"retries"`
	ChunkSize      int  `yaml:"chunk_size"`
	SkipBadFiles   bool `yaml:"skip_bad_files"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Executor.PollIntervalMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Nats: NatsConfig{
			URL: "nats://localhost:4222",
		},
		Catalog: CatalogConfig{
			URL: "http://localhost:9290",
		},
		Output: OutputConfig{
			Dir:             "output",
			ColumnMaxSizeMB: 256,
		},
		Executor: ExecutorConfig{
			PollIntervalMs: 5000,
			Workers:        4,
			Retries:        2,
			ChunkSize:      100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ESPRESSO_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("ESPRESSO_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("ESPRESSO_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("ESPRESSO_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ESPRESSO_NATS_URL"); v != "" {
		cfg.Nats.URL = v
	}
	if v := os.Getenv("ESPRESSO_CATALOG_URL"); v != "" {
		cfg.Catalog.URL = v
	}
	if v := os.Getenv("ESPRESSO_CATALOG_TOKEN"); v != "" {
		cfg.Catalog.Token = v
	}
	if v := os.Getenv("ESPRESSO_CORRECTIONS_DIR"); v != "" {
		cfg.Corrections.Dir = v
	}
	if v := os.Getenv("ESPRESSO_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("ESPRESSO_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.PollIntervalMs = n
		}
	}
	if v := os.Getenv("ESPRESSO_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.Workers = n
		}
	}
	if v := os.Getenv("ESPRESSO_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.ChunkSize = n
		}
	}
	if v := os.Getenv("ESPRESSO_SKIP_BAD_FILES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Executor.SkipBadFiles = b
		}
	}
	if v := os.Getenv("ESPRESSO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
