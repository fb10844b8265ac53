// Package quota enforces per-user monthly lookup ceilings.
package quota

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/resilience"
)

// MonthLayout formats the month bucket a lookup counts against.
const MonthLayout = "2006-01"

// Usage is the persisted counter for one key and month.
type Usage struct {
	Count int
	Tier  Tier
}

// Store persists monthly counters. AddUsage must be a single atomic upsert:
// create the row with tier if absent, otherwise add delta, and return the
// new count.
type Store interface {
	GetUsage(ctx context.Context, key, month string) (Usage, bool, error)
	AddUsage(ctx context.Context, key, month string, delta int, tier Tier) (int, error)
}

// TierSource reads a user's current subscription status.
type TierSource interface {
	SubscriptionTier(ctx context.Context, userID int64) (string, error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithPolicy sets the tier ceilings.
func WithPolicy(p Policy) Option {
	return func(g *Guard) {
		g.policy = p
	}
}

// WithClock sets the clock used to pick the month bucket.
func WithClock(c clockwork.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithTrackAnonymous counts anonymous callers by fingerprint instead of
// letting each request start from zero.
func WithTrackAnonymous(on bool) Option {
	return func(g *Guard) {
		g.trackAnonymous = on
	}
}

// WithRetry sets the retry policy for store calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Guard) {
		g.retry = cfg
	}
}

// Guard answers whether a key may perform more lookups this month and
// records the ones performed.
type Guard struct {
	store          Store
	tiers          TierSource
	policy         Policy
	clock          clockwork.Clock
	trackAnonymous bool
	retry          resilience.RetryConfig
}

// NewGuard creates a Guard. tiers may be nil, in which case every user is
// on the policy's default tier.
func NewGuard(store Store, tiers TierSource, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		tiers:  tiers,
		policy: DefaultPolicy(),
		clock:  clockwork.NewRealClock(),
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Month returns the current month bucket in UTC.
func (g *Guard) Month() string {
	return g.clock.Now().UTC().Format(MonthLayout)
}

// tracked reports whether lookups for k are persisted.
func (g *Guard) tracked(k Key) bool {
	if !k.Anonymous() {
		return true
	}
	return g.trackAnonymous && k.Fingerprint != ""
}

// tier derives the current tier for k. Missing users and read errors map
// to the default tier.
func (g *Guard) tier(ctx context.Context, k Key) Tier {
	if k.Anonymous() || g.tiers == nil {
		return g.policy.DefaultTier
	}
	raw, err := g.tiers.SubscriptionTier(ctx, k.UserID)
	if err != nil {
		zap.L().Debug("quota: tier lookup failed, using default",
			zap.Int64("user_id", k.UserID),
			zap.Error(err),
		)
		return g.policy.DefaultTier
	}
	return NormalizeTier(raw)
}

// current returns the usage and ceiling for k this month.
func (g *Guard) current(ctx context.Context, k Key) (used, limit int, err error) {
	if !g.tracked(k) {
		return 0, g.policy.Limit(g.tier(ctx, k)), nil
	}

	var (
		u     Usage
		found bool
	)
	err = resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		var gerr error
		u, found, gerr = g.store.GetUsage(ctx, k.String(), g.Month())
		return gerr
	})
	if err != nil {
		return 0, g.policy.Limit(g.tier(ctx, k)), eris.Wrap(err, "quota: get usage")
	}
	if !found {
		return 0, g.policy.Limit(g.tier(ctx, k)), nil
	}
	return u.Count, g.policy.Limit(u.Tier), nil
}

// Check reports whether k may perform n more lookups this month. A usage
// read failure is returned rather than treated as a denial.
func (g *Guard) Check(ctx context.Context, k Key, n int) (bool, error) {
	used, limit, err := g.current(ctx, k)
	if err != nil {
		return false, err
	}
	return used+n <= limit, nil
}

// CanPerform reports whether k may perform n more lookups this month.
// A store failure denies.
func (g *Guard) CanPerform(ctx context.Context, k Key, n int) bool {
	ok, err := g.Check(ctx, k, n)
	if err != nil {
		zap.L().Warn("quota: check failed, denying",
			zap.String("key", k.String()),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Increment records n lookups for k. Untracked anonymous keys are a no-op.
func (g *Guard) Increment(ctx context.Context, k Key, n int) error {
	if n <= 0 || !g.tracked(k) {
		return nil
	}

	month := g.Month()
	// The tier only matters when the upsert creates the month's row.
	tier := g.policy.DefaultTier
	if _, found, err := g.store.GetUsage(ctx, k.String(), month); err != nil || !found {
		tier = g.tier(ctx, k)
	}

	var count int
	err := resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		var aerr error
		count, aerr = g.store.AddUsage(ctx, k.String(), month, n, tier)
		return aerr
	})
	if err != nil {
		return eris.Wrapf(err, "quota: add usage for %s", k.String())
	}

	zap.L().Debug("quota: usage recorded",
		zap.String("key", k.String()),
		zap.String("month", month),
		zap.Int("count", count),
	)
	return nil
}

// Usage reports used and limit for k this month. It never fails: store
// errors are logged and reported as zero usage.
func (g *Guard) Usage(ctx context.Context, k Key) (used, limit int) {
	used, limit, err := g.current(ctx, k)
	if err != nil {
		zap.L().Warn("quota: usage read failed", zap.String("key", k.String()), zap.Error(err))
		return 0, limit
	}
	return used, limit
}
