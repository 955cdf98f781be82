package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/form-detector/internal/classifier"
	"github.com/sells-group/form-detector/internal/cost"
	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/pipeline"
	"github.com/sells-group/form-detector/internal/report"
	"github.com/sells-group/form-detector/internal/store"
	anthropicpkg "github.com/sells-group/form-detector/pkg/anthropic"
)

// appEnv holds the clients and the pipeline shared by analyze, serve and mcp.
type appEnv struct {
	Store     store.Store // nil when store.driver is none
	Fetcher   *fetcher.HTTPFetcher
	Pipeline  *pipeline.Pipeline
	Publisher *report.Publisher // nil unless storage is enabled
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens the store, builds the classifier
// and the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, observers ...pipeline.Observer) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	c, err := initClassifier()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	pub, err := initPublisher()
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}

	f := newFetcher()
	opts := pipeline.Options{
		Probe:     cfg.Oracle.Probe,
		Observers: observers,
		Costs:     cost.NewCalculator(cost.DefaultRates()),
	}
	if st != nil {
		opts.Recorder = st
	}

	return &appEnv{
		Store:     st,
		Fetcher:   f,
		Pipeline:  pipeline.New(f, c, opts),
		Publisher: pub,
	}, nil
}

// initStore opens the configured run store. It returns nil for the none
// driver.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "form-detector.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "none":
		zap.L().Debug("store driver is none, runs are not persisted")
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initClassifier builds the configured backend, behind a breaker unless
// oracle.breaker_threshold is zero.
func initClassifier() (classifier.Classifier, error) {
	c, err := newBackend()
	if err != nil {
		return nil, err
	}
	if cfg.Oracle.BreakerThreshold > 0 {
		return classifier.NewGuarded(c, cfg.Oracle.BreakerThreshold,
			time.Duration(cfg.Oracle.BreakerCooldownSecs)*time.Second), nil
	}
	return c, nil
}

func newBackend() (classifier.Classifier, error) {
	switch cfg.Oracle.Backend {
	case "anthropic":
		client := anthropicpkg.NewClient(cfg.Anthropic.Key,
			anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL),
			anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries),
		)
		return classifier.NewAnthropic(client, classifier.AnthropicOptions{
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Temperature: cfg.Oracle.Temperature,
		}), nil
	case "openai":
		client := classifier.NewOpenAIClient(cfg.OpenAI.Key, cfg.OpenAI.BaseURL)
		return classifier.NewOpenAI(client, classifier.OpenAIOptions{
			Model:        cfg.OpenAI.Model,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Temperature:  float32(cfg.Oracle.Temperature),
			MaxTextChars: cfg.OpenAI.MaxTextChars,
		}), nil
	default:
		return nil, eris.Errorf("unsupported oracle backend: %s", cfg.Oracle.Backend)
	}
}

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBytes:    cfg.Limits.MaxDocumentBytes,
		RatePerHost: rate.Limit(cfg.Fetch.RatePerHost),
		Burst:       cfg.Fetch.Burst,
	})
}

// initPublisher returns nil when storage is disabled.
func initPublisher() (*report.Publisher, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	pcfg := report.PublisherConfig{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Prefix:    cfg.Storage.Prefix,
		LinkTTL:   time.Duration(cfg.Storage.LinkTTLHours) * time.Hour,
	}
	client, err := report.NewMinioClient(pcfg)
	if err != nil {
		return nil, err
	}
	return report.NewPublisher(client, pcfg), nil
}
