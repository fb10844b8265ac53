// Package waterfall resolves an address record to coordinates by trying a
// fixed sequence of progressively looser queries.
package waterfall

import (
	"context"

	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

// step builds the query for one strategy, returning ok=false when the
// strategy does not apply to the record.
type step struct {
	strategy model.MatchType
	query    func(rec model.AddressRecord) (string, bool)
}

// steps are tried in order; the first success wins.
var steps = []step{
	{model.MatchLandmarkContext, func(r model.AddressRecord) (string, bool) {
		return geocode.BuildQuery(r.Landmark(), r.City(), r.State(), r.Country()), r.Landmark() != ""
	}},
	{model.MatchAddressContext, func(r model.AddressRecord) (string, bool) {
		return geocode.BuildQuery(r.Address(), r.City(), r.State(), r.Country()), r.Address() != ""
	}},
	{model.MatchLandmarkOnly, func(r model.AddressRecord) (string, bool) {
		return r.Landmark(), r.Landmark() != ""
	}},
	{model.MatchAddressOnly, func(r model.AddressRecord) (string, bool) {
		return r.Address(), r.Address() != ""
	}},
	{model.MatchCityFallback, func(r model.AddressRecord) (string, bool) {
		return geocode.BuildQuery("", r.City(), r.State(), r.Country()), true
	}},
}

// Resolver runs the waterfall against a geocode client.
type Resolver struct {
	client geocode.Client
}

// NewResolver creates a resolver backed by client.
func NewResolver(client geocode.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve tries each applicable strategy in order and stops at the first
// success. Records with neither address nor landmark resolve to skipped
// without any lookup. When nothing matches, the last attempted result is
// returned with match type none.
func (r *Resolver) Resolve(ctx context.Context, rec model.AddressRecord) Resolution {
	if !rec.Attemptable() {
		return Resolution{
			Result:    geocode.Result{Status: model.RowStatusSkipped},
			MatchType: model.MatchNone,
		}
	}

	var res Resolution
	last := geocode.Result{Status: model.RowStatusError, Failure: geocode.FailureNoMatch}
	for _, s := range steps {
		q, ok := s.query(rec)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			zap.L().Debug("waterfall: cancelled",
				zap.String("strategy", string(s.strategy)),
				zap.Error(err),
			)
			res.Result = geocode.Result{Status: model.RowStatusError, Failure: geocode.FailureTransport, Query: q}
			res.MatchType = model.MatchNone
			return res
		}

		out := r.client.Lookup(ctx, q)
		res.Attempts = append(res.Attempts, Attempt{Strategy: s.strategy, Query: q, Result: out})
		if out.Matched() {
			res.Result = out
			res.MatchType = s.strategy
			return res
		}
		// A skipped fallback (no city/state/country) keeps the previous
		// error so the row does not flip to skipped.
		if out.Status != model.RowStatusSkipped {
			last = out
		}
	}

	res.Result = last
	res.MatchType = model.MatchNone
	return res
}
