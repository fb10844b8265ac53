// Package geocode resolves free-text queries to coordinates through a
// Nominatim-compatible search endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/support934/smartgecode-saas/internal/metrics"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/resilience"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultInterval is the minimum spacing between provider requests
	// required by the Nominatim usage policy.
	DefaultInterval = time.Second

	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "smartgeocode/1.0"
	maxBodyBytes     = 1 << 20
)

// Client geocodes a single query string. Implementations never return an
// error: every failure is folded into Result.Status.
type Client interface {
	Lookup(ctx context.Context, query string) Result
}

// Option configures the Nominatim client.
type Option func(*nominatim)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *nominatim) {
		n.httpClient = hc
	}
}

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(n *nominatim) {
		if u != "" {
			n.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithContactEmail sets the email parameter sent with every request.
func WithContactEmail(email string) Option {
	return func(n *nominatim) {
		n.email = email
	}
}

// WithUserAgent sets the identifying User-Agent header.
func WithUserAgent(ua string) Option {
	return func(n *nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(n *nominatim) {
		if d > 0 {
			n.httpClient.Timeout = d
		}
	}
}

// WithLimiter shares a process-wide limiter so every caller, across all jobs,
// stays under one provider request budget.
func WithLimiter(l *rate.Limiter) Option {
	return func(n *nominatim) {
		if l != nil {
			n.limiter = l
		}
	}
}

// WithMetrics records lookup outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *nominatim) {
		n.metrics = m
	}
}

// NewLimiter returns a limiter admitting one request per interval with no burst.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

type nominatim struct {
	httpClient *http.Client
	baseURL    string
	email      string
	userAgent  string
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewClient creates a Nominatim client with the given options.
func NewClient(opts ...Option) Client {
	n := &nominatim{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		limiter:    NewLimiter(DefaultInterval),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// searchResult is one element of the Nominatim JSON array.
type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Lookup issues at most one request for query.
func (n *nominatim) Lookup(ctx context.Context, query string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		n.metrics.ObserveLookup(string(model.RowStatusSkipped), 0)
		return skipped(query)
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return n.fail(query, FailureTransport, 0, err)
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	if n.email != "" {
		params.Set("email", n.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return n.fail(query, FailureTransport, 0, err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return n.fail(query, FailureTransport, elapsed, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		f := FailureTransport
		if resilience.IsRateLimitStatus(resp.StatusCode) {
			f = FailureRateLimited
		}
		return n.fail(query, f, elapsed, nil, zap.Int("status", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return n.fail(query, FailureTransport, elapsed, err)
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return n.fail(query, FailureMalformed, elapsed, err)
	}
	if len(results) == 0 {
		return n.fail(query, FailureNoMatch, elapsed, nil)
	}

	first := results[0]
	rawLat, rawLon := strings.TrimSpace(first.Lat), strings.TrimSpace(first.Lon)
	lat, latErr := strconv.ParseFloat(rawLat, 64)
	lon, lonErr := strconv.ParseFloat(rawLon, 64)
	if latErr != nil || lonErr != nil {
		return n.fail(query, FailureMalformed, elapsed, nil,
			zap.String("lat", first.Lat), zap.String("lon", first.Lon))
	}

	n.metrics.ObserveLookup(string(model.RowStatusSuccess), elapsed)
	return Result{
		Status:           model.RowStatusSuccess,
		Latitude:         lat,
		Longitude:        lon,
		RawLat:           rawLat,
		RawLng:           rawLon,
		FormattedAddress: first.DisplayName,
		Query:            query,
	}
}

func (n *nominatim) fail(query string, f Failure, elapsed time.Duration, err error, fields ...zap.Field) Result {
	n.metrics.ObserveLookup(string(f), elapsed)
	zap.L().Debug("geocode: lookup failed",
		append([]zap.Field{
			zap.String("query", query),
			zap.String("failure", string(f)),
			zap.Error(err),
		}, fields...)...,
	)
	return failed(query, f)
}
