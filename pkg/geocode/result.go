package geocode

import (
	"strconv"

	"github.com/support934/smartgecode-saas/internal/model"
)

// Failure tags why a lookup did not succeed. It is kept for diagnostics and
// collapses to the single "error" row status at the CSV boundary.
type Failure string

const (
	FailureNone        Failure = ""
	FailureTransport   Failure = "transport"
	FailureRateLimited Failure = "rate_limited"
	FailureNoMatch     Failure = "no_match"
	FailureMalformed   Failure = "malformed"
)

// Result is the outcome of one query attempt.
type Result struct {
	Status           model.RowStatus `json:"status"`
	Latitude         float64         `json:"lat"`
	Longitude        float64         `json:"lng"`
	FormattedAddress string          `json:"formatted_address,omitempty"`
	Failure          Failure         `json:"failure,omitempty"`
	Query            string          `json:"-"`

	// RawLat and RawLng are the coordinates exactly as the provider sent
	// them. Empty when the result did not come from a provider response.
	RawLat string `json:"-"`
	RawLng string `json:"-"`
}

// Matched reports whether the lookup succeeded.
func (r Result) Matched() bool {
	return r.Status == model.RowStatusSuccess
}

// LatString returns the latitude as the provider wrote it, falling back to
// the shortest representation that round-trips.
func (r Result) LatString() string {
	return r.coord(r.RawLat, r.Latitude)
}

// LngString is the longitude counterpart of LatString.
func (r Result) LngString() string {
	return r.coord(r.RawLng, r.Longitude)
}

func (r Result) coord(raw string, v float64) string {
	if !r.Matched() {
		return ""
	}
	if raw != "" {
		return raw
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func skipped(query string) Result {
	return Result{Status: model.RowStatusSkipped, Query: query}
}

func failed(query string, f Failure) Result {
	return Result{Status: model.RowStatusError, Failure: f, Query: query}
}
