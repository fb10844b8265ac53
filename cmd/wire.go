package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/metrics"
	"github.com/support934/smartgecode-saas/internal/notify"
	"github.com/support934/smartgecode-saas/internal/quota"
	"github.com/support934/smartgecode-saas/internal/resilience"
	"github.com/support934/smartgecode-saas/internal/store"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "smartgeocode.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and applies the schema.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromConfig(cfg.Batch.RetryAttempts, cfg.Batch.RetryBackoffMs)
}

// newGeocoder builds the provider client. Every caller in the process
// shares its limiter.
func newGeocoder(m *metrics.Metrics) geocode.Client {
	return geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocoder.BaseURL),
		geocode.WithContactEmail(cfg.Geocoder.ContactEmail),
		geocode.WithUserAgent(cfg.Geocoder.UserAgent),
		geocode.WithTimeout(cfg.Geocoder.Timeout),
		geocode.WithLimiter(geocode.NewLimiter(cfg.Geocoder.Interval)),
		geocode.WithMetrics(m),
	)
}

// loadPolicy layers the policy file and inline limits over the defaults.
func loadPolicy() (quota.Policy, error) {
	policy := quota.DefaultPolicy()
	if cfg.Quota.PolicyFile != "" {
		p, err := quota.LoadPolicyFile(cfg.Quota.PolicyFile)
		if err != nil {
			return quota.Policy{}, err
		}
		policy = p
	}
	return policy.WithOverrides(cfg.Quota.Limits), nil
}

func newGuard(st store.Store) (*quota.Guard, error) {
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	return quota.NewGuard(st, st,
		quota.WithPolicy(policy),
		quota.WithTrackAnonymous(cfg.Quota.TrackAnonymous),
		quota.WithRetry(retryConfig()),
	), nil
}

// newNotifier returns the configured sinks and a func releasing them.
func newNotifier() (notify.Notifier, func()) {
	var (
		sinks   notify.Multi
		closers []func() error
	)
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Batch.NotifyTimeout))
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		k := notify.NewKafka(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				zap.L().Warn("close notifier", zap.Error(err))
			}
		}
	}

	switch len(sinks) {
	case 0:
		return notify.Nop{}, cleanup
	case 1:
		return sinks[0], cleanup
	default:
		return sinks, cleanup
	}
}

func engineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentJobs: cfg.Batch.MaxConcurrentJobs,
		RowDelay:          cfg.Batch.RowDelay,
		PreviewRows:       cfg.Batch.PreviewRows,
		NotifyTimeout:     cfg.Batch.NotifyTimeout,
		Retry:             retryConfig(),
	}
}
