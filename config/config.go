// Package config loads the runtime configuration from file and environment.
// Environment variables use the SIFT_ prefix with underscores for nesting
// (SIFT_SERVER_PORT, SIFT_STORAGE_REDIS_ADDR).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Agent     AgentConfig     `mapstructure:"agent"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type GeneralConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type AgentConfig struct {
	MaxIterations       int     `mapstructure:"max_iterations"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	UseLLMPlanner       bool    `mapstructure:"use_llm_planner"`
}

type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PlanTTL  time.Duration `mapstructure:"plan_ttl"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads the optional config file and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.confidence_threshold", 0.9)
	v.SetDefault("agent.use_llm_planner", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.plan_ttl", 24*time.Hour)
	v.SetDefault("telemetry.enabled", true)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.ConfidenceThreshold <= 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("agent.confidence_threshold must be in (0,1]")
	}
	if c.Agent.UseLLMPlanner && c.LLM.APIKey == "" {
		return fmt.Errorf("llm planner enabled but llm.api_key is empty")
	}
	if c.Storage.Postgres.Enabled && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("postgres enabled but storage.postgres.dsn is empty")
	}
	return nil
}

// Addr is the host:port the server binds.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
