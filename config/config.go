// File: config/config.go

package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/promptforge/promptd/utils"
)

// Config holds every runtime knob of the promptd server. Values come from the
// environment, then functional options applied on top.
type Config struct {
	Host string `env:"PROMPTD_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PROMPTD_PORT" envDefault:"8080" validate:"min=1,max=65535"`

	// Upstream LLM endpoint (OpenAI-compatible chat completions).
	Provider    string        `env:"PROMPTD_LLM_PROVIDER" envDefault:"openai"`
	Endpoint    string        `env:"PROMPTD_LLM_ENDPOINT" envDefault:"https://api.openai.com/v1/chat/completions" validate:"required,url"`
	Timeout     time.Duration `env:"PROMPTD_LLM_TIMEOUT" envDefault:"60s"`
	Temperature float64       `env:"PROMPTD_LLM_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"PROMPTD_LLM_MAX_TOKENS" envDefault:"4096"`

	// ScoringModel grades execution outputs. Its circuit-breaker key is the
	// model name, so it never shares breaker state with a chat model.
	ScoringModel string `env:"PROMPTD_SCORING_MODEL" envDefault:"gpt-4o-mini" validate:"required"`

	// Evaluation fan-out width.
	EvalParallelism int `env:"PROMPTD_EVAL_PARALLELISM" envDefault:"8" validate:"min=1"`

	// Circuit breaker: trip after BreakerFailures consecutive failures, stay
	// open for BreakerCooldown before allowing a single probe.
	BreakerFailures uint32        `env:"PROMPTD_BREAKER_FAILURES" envDefault:"5" validate:"min=1"`
	BreakerCooldown time.Duration `env:"PROMPTD_BREAKER_COOLDOWN" envDefault:"30s"`

	// Outbound rate limit. Zero disables limiting.
	RequestsPerSecond float64 `env:"PROMPTD_REQUESTS_PER_SECOND" envDefault:"0"`

	// JWTSecret gates persistence; anonymous runs are served but not stored.
	JWTSecret string `env:"PROMPTD_JWT_SECRET"`

	LogLevel utils.LogLevel `env:"PROMPTD_LOG_LEVEL" envDefault:"INFO"`
}

var validate = validator.New()

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

type ConfigOption func(*Config)

func NewConfig(opts ...ConfigOption) *Config {
	cfg := &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Provider:        "openai",
		Endpoint:        "https://api.openai.com/v1/chat/completions",
		Timeout:         60 * time.Second,
		Temperature:     0.7,
		MaxTokens:       4096,
		ScoringModel:    "gpt-4o-mini",
		EvalParallelism: 8,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		LogLevel:        utils.LogLevelInfo,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func SetHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

func SetPort(port int) ConfigOption {
	return func(c *Config) {
		c.Port = port
	}
}

func SetEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

func SetProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetScoringModel(model string) ConfigOption {
	return func(c *Config) {
		c.ScoringModel = model
	}
}

func SetEvalParallelism(n int) ConfigOption {
	return func(c *Config) {
		c.EvalParallelism = n
	}
}

func SetBreakerFailures(n uint32) ConfigOption {
	return func(c *Config) {
		c.BreakerFailures = n
	}
}

func SetBreakerCooldown(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.BreakerCooldown = d
	}
}

func SetRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

func SetJWTSecret(secret string) ConfigOption {
	return func(c *Config) {
		c.JWTSecret = secret
	}
}

func SetLogLevel(level utils.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}
