package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Mapstructure tags are used to map environment variables and config file keys.
type Config struct {
	// Server Configuration
	ServerAddress     string        `mapstructure:"SERVER_ADDRESS"`     // e.g., ":8080"
	AppEnv            string        `mapstructure:"APP_ENV"`            // "production" switches gin to release mode
	CORSAllowOrigins  string        `mapstructure:"CORS_ALLOW_ORIGINS"` // comma separated, "*" allows all
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogFormat         string        `mapstructure:"LOG_FORMAT"` // text, json or logfmt
	StreamIdleTimeout time.Duration `mapstructure:"STREAM_IDLE_TIMEOUT"`

	// Provider Configuration
	GroqKey             string  `mapstructure:"GROQ_API_KEY"`
	DeepSeekKey         string  `mapstructure:"DEEPSEEK_API_KEY"`
	OpenRouterKey       string  `mapstructure:"OPENROUTER_API_KEY"`
	ChimeraKey          string  `mapstructure:"CHIMERA_API_KEY"` // legacy fallback for OpenRouter
	GeminiKey           string  `mapstructure:"GEMINI_API_KEY"`
	OpenAIKey           string  `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL       string  `mapstructure:"OPENAI_BASE_URL"`
	ProviderMaxTokens   int     `mapstructure:"PROVIDER_MAX_TOKENS"`
	ProviderTemperature float32 `mapstructure:"PROVIDER_TEMPERATURE"`
	GeminiMaxTokens     int     `mapstructure:"GEMINI_MAX_TOKENS"`

	// Persistence Configuration
	StoreBackend    string `mapstructure:"STORE_BACKEND"` // memory, redis or postgres
	StoreMemorySize int    `mapstructure:"STORE_MEMORY_SIZE"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	PostgresDSN     string `mapstructure:"POSTGRES_DSN"`

	// Deployment Tools Configuration
	DeployOutputDir      string `mapstructure:"DEPLOY_OUTPUT_DIR"`      // where exported projects are written
	DeployPublishCommand string `mapstructure:"DEPLOY_PUBLISH_COMMAND"` // optional, run with the project dir as last argument

	// Tracing Configuration
	OTelEnabled    bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint   string  `mapstructure:"OTEL_ENDPOINT"`
	OTelSampleRate float64 `mapstructure:"OTEL_SAMPLE_RATE"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("STREAM_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("PROVIDER_MAX_TOKENS", 4000)
	v.SetDefault("PROVIDER_TEMPERATURE", 0.7)
	v.SetDefault("GEMINI_MAX_TOKENS", 8000)
	v.SetDefault("STORE_BACKEND", StoreMemory)
	v.SetDefault("STORE_MEMORY_SIZE", 1024)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("DEPLOY_OUTPUT_DIR", "tmp/deploy")
	v.SetDefault("OTEL_SAMPLE_RATE", 1.0)

	// AutomaticEnv only resolves keys viper already knows about; register
	// the rest so Unmarshal sees them.
	for _, key := range []string{
		"GROQ_API_KEY", "DEEPSEEK_API_KEY", "OPENROUTER_API_KEY", "CHIMERA_API_KEY",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"REDIS_PASSWORD", "REDIS_DB", "POSTGRES_DSN",
		"DEPLOY_PUBLISH_COMMAND", "OTEL_ENABLED", "OTEL_ENDPOINT",
	} {
		v.SetDefault(key, "")
	}
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)     // Path to look for the config file in
	v.SetConfigName("config") // Name of config file (without extension)
	v.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	v.AutomaticEnv() // Read environment variables that match keys

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Info("Config file ('config.yaml') not found, relying solely on environment variables.")
		} else {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Info("Using configuration file", "path", v.ConfigFileUsed())
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects settings the server cannot start with and warns about
// ones that only disable features.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.GroqKey == "" && c.DeepSeekKey == "" && c.OpenRouterKey == "" && c.ChimeraKey == "" &&
		c.GeminiKey == "" && c.OpenAIKey == "" {
		log.Warn("No provider API keys are set; every generation request will fail.")
	}
	if c.StreamIdleTimeout < 0 {
		c.StreamIdleTimeout = 0
	}
	return nil
}

// OpenRouterAPIKey prefers the OpenRouter key over the legacy one.
func (c Config) OpenRouterAPIKey() string {
	if c.OpenRouterKey != "" {
		return c.OpenRouterKey
	}
	return c.ChimeraKey
}

// AllowedOrigins splits CORS_ALLOW_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
