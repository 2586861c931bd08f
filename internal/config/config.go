package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. A double underscore descends into a
// section: FLOWOPS_REDIS__URL sets redis.url.
const EnvPrefix = "FLOWOPS_"

// Config is the process configuration shared by every binary.
type Config struct {
	ParamPrefix        string        `koanf:"param_prefix"`
	TicketsTable       string        `koanf:"tickets_table"`
	ConversationsTable string        `koanf:"conversations_table"`
	AgentConfigTable   string        `koanf:"agent_config_table"`
	AlertTopicARN      string        `koanf:"alert_topic_arn"`
	SummaryModel       string        `koanf:"summary_model"`
	OpenAIBaseURL      string        `koanf:"openai_base_url"`
	ParamCacheTTL      time.Duration `koanf:"param_cache_ttl"`
	LogLevel           string        `koanf:"log_level"`
	Redis              RedisConfig   `koanf:"redis"`
	NATS               NATSConfig    `koanf:"nats"`
	Dev                DevConfig     `koanf:"dev"`
}

type RedisConfig struct {
	URL            string        `koanf:"url"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// DevConfig is read only by the local server.
type DevConfig struct {
	Addr           string   `koanf:"addr"`
	JWTSecret      string   `koanf:"jwt_secret"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		ParamPrefix:   "/flowops",
		ParamCacheTTL: 5 * time.Minute,
		LogLevel:      "info",
		Redis:         RedisConfig{IdempotencyTTL: 24 * time.Hour},
		NATS:          NATSConfig{SubjectPrefix: "flowops.alerts"},
		Dev: DevConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load starts from Default, overlays the YAML file at path when path is set
// and the file exists, then overlays FLOWOPS_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: access %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the settings every deployed binary needs.
func (c *Config) Validate() error {
	var errs []error
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("param_prefix is required"))
	}
	if c.TicketsTable == "" {
		errs = append(errs, errors.New("tickets_table is required"))
	}
	if c.ConversationsTable == "" {
		errs = append(errs, errors.New("conversations_table is required"))
	}
	if c.AgentConfigTable == "" {
		errs = append(errs, errors.New("agent_config_table is required"))
	}
	if c.ParamCacheTTL < 0 {
		errs = append(errs, errors.New("param_cache_ttl must be non-negative"))
	}
	if c.Redis.IdempotencyTTL < 0 {
		errs = append(errs, errors.New("redis.idempotency_ttl must be non-negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}
