package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs before it does any network
// work. Mode is one of analyze, serve, mcp or runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "mcp":
		errs = append(errs, c.validateOracle()...)
		errs = append(errs, c.validateLimits()...)
	case "serve":
		errs = append(errs, c.validateOracle()...)
		errs = append(errs, c.validateLimits()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "runs":
		if c.Store.Driver == "none" {
			errs = append(errs, "store.driver is none; run history is not persisted")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateStore()...)
	if c.Storage.Enabled {
		errs = append(errs, c.validateStorage()...)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateOracle() []string {
	var errs []string
	switch c.Oracle.Backend {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required (FORMDETECT_ANTHROPIC_KEY)")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			errs = append(errs, "openai.key is required (FORMDETECT_OPENAI_KEY)")
		}
	default:
		errs = append(errs, "oracle.backend must be anthropic or openai")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 1 {
		errs = append(errs, "oracle.temperature must be between 0 and 1")
	}
	if c.Oracle.BreakerThreshold < 0 {
		errs = append(errs, "oracle.breaker_threshold must be >= 0")
	}
	if c.Anthropic.MaxRetries < 0 {
		errs = append(errs, "anthropic.max_retries must be >= 0")
	}
	return errs
}

func (c *Config) validateLimits() []string {
	var errs []string
	if c.Limits.MaxURLs < 0 {
		errs = append(errs, "limits.max_urls must be >= 0")
	}
	if c.Limits.MaxDocumentBytes <= 0 {
		errs = append(errs, "limits.max_document_bytes must be > 0")
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite", "none":
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
		return nil
	default:
		return []string{"store.driver must be sqlite, postgres or none"}
	}
}

func (c *Config) validateStorage() []string {
	var errs []string
	if c.Storage.Endpoint == "" {
		errs = append(errs, "storage.endpoint is required when storage is enabled")
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket is required when storage is enabled")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		errs = append(errs, "storage.access_key and storage.secret_key are required when storage is enabled")
	}
	return errs
}
