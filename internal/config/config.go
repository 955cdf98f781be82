package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// OracleConfig selects the classification backend.
type OracleConfig struct {
	Backend     string  `yaml:"backend" mapstructure:"backend"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	// Probe runs the local AcroForm probe on each document.
	Probe bool `yaml:"probe" mapstructure:"probe"`
	// BreakerThreshold is the number of consecutive failed requests after
	// which remaining documents are failed without calling the service.
	// Zero, the default, disables the breaker.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// OpenAIConfig holds OpenAI (or compatible) API settings.
type OpenAIConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxTextChars int    `yaml:"max_text_chars" mapstructure:"max_text_chars"`
}

// FetchConfig configures document downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// LimitsConfig bounds run size.
type LimitsConfig struct {
	MaxURLs          int   `yaml:"max_urls" mapstructure:"max_urls"`
	MaxDocumentBytes int64 `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
}

// ReportConfig configures the spreadsheet export.
type ReportConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StorageConfig configures S3-compatible report publishing.
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint     string `yaml:"endpoint" mapstructure:"endpoint"`
	Region       string `yaml:"region" mapstructure:"region"`
	Bucket       string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey    string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey    string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Prefix       string `yaml:"prefix" mapstructure:"prefix"`
	LinkTTLHours int    `yaml:"link_ttl_hours" mapstructure:"link_ttl_hours"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORMDETECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("oracle.backend", "anthropic")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.probe", true)
	v.SetDefault("oracle.breaker_threshold", 0)
	v.SetDefault("oracle.breaker_cooldown_secs", 60)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.max_retries", 0)
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.max_text_chars", 20000)
	v.SetDefault("fetch.user_agent", "form-detector/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("limits.max_urls", 200)
	v.SetDefault("limits.max_document_bytes", 32<<20)
	v.SetDefault("report.path", "PDF_Analysis_Report.xlsx")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "form-detector-reports")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.prefix", "runs/")
	v.SetDefault("storage.link_ttl_hours", 24)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
