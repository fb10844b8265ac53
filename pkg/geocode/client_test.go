package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/support934/smartgecode-saas/internal/metrics"
	"github.com/support934/smartgecode-saas/internal/model"
)

func TestLookup_Success(t *testing.T) {
	var gotQuery, gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"lat":"48.8582602","lon":"2.2944990543196","display_name":"Tour Eiffel, Paris, France"},{"lat":"1","lon":"1","display_name":"second"}]`)
	}))
	defer srv.Close()

	c := NewClient(
		WithBaseURL(srv.URL),
		WithLimiter(newTestLimiter()),
		WithContactEmail("ops@example.com"),
		WithUserAgent("smartgeocode-test"),
	)

	res := c.Lookup(context.Background(), "Eiffel Tower, Paris, France")
	require.True(t, res.Matched())
	assert.Equal(t, model.RowStatusSuccess, res.Status)
	assert.InDelta(t, 48.8582602, res.Latitude, 1e-9)
	assert.Equal(t, "48.8582602", res.LatString())
	assert.Equal(t, "2.2944990543196", res.LngString())
	assert.Equal(t, "Tour Eiffel, Paris, France", res.FormattedAddress)
	assert.Equal(t, FailureNone, res.Failure)

	assert.Equal(t, "/search", gotPath)
	assert.Contains(t, gotQuery, "format=json")
	assert.Contains(t, gotQuery, "limit=1")
	assert.Contains(t, gotQuery, "email=ops%40example.com")
	assert.Contains(t, gotQuery, "q=Eiffel+Tower%2C+Paris%2C+France")
	assert.Equal(t, "smartgeocode-test", gotUA)
}

func TestLookup_EmptyQuerySkipsWithoutRequest(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `[]`)

	c := NewClient(WithBaseURL(srv.URL), WithLimiter(newTestLimiter()))
	res := c.Lookup(context.Background(), "   ")

	assert.Equal(t, model.RowStatusSkipped, res.Status)
	assert.Equal(t, int32(0), calls.Load())
}

func TestLookup_FailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Failure
	}{
		{"no match", http.StatusOK, `[]`, FailureNoMatch},
		{"throttled", http.StatusTooManyRequests, `{"error":"slow down"}`, FailureRateLimited},
		{"unavailable", http.StatusServiceUnavailable, ``, FailureRateLimited},
		{"server error", http.StatusInternalServerError, ``, FailureTransport},
		{"bad json", http.StatusOK, `<html>oops</html>`, FailureMalformed},
		{"bad coordinates", http.StatusOK, `[{"lat":"north","lon":"2.1","display_name":"x"}]`, FailureMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := countingServer(t, tt.status, tt.body)
			c := NewClient(WithBaseURL(srv.URL), WithLimiter(newTestLimiter()))

			res := c.Lookup(context.Background(), "somewhere")
			assert.Equal(t, model.RowStatusError, res.Status)
			assert.Equal(t, tt.want, res.Failure)
			assert.Empty(t, res.LatString())
			assert.Equal(t, int32(1), calls.Load(), "exactly one request per lookup")
		})
	}
}

func TestLookup_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(WithBaseURL(url), WithLimiter(newTestLimiter()))
	res := c.Lookup(context.Background(), "anywhere")
	assert.Equal(t, model.RowStatusError, res.Status)
	assert.Equal(t, FailureTransport, res.Failure)
}

func TestLookup_CancelledWhileWaitingForLimiter(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `[]`)
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	c := NewClient(WithBaseURL(srv.URL), WithLimiter(limiter))

	// First call consumes the only token.
	_ = c.Lookup(context.Background(), "first")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := c.Lookup(ctx, "second")

	assert.Equal(t, FailureTransport, res.Failure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_SharedLimiterSpacesRequests(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `[{"lat":"1.5","lon":"2.5","display_name":"x"}]`)
	limiter := NewLimiter(25 * time.Millisecond)
	a := NewClient(WithBaseURL(srv.URL), WithLimiter(limiter))
	b := NewClient(WithBaseURL(srv.URL), WithLimiter(limiter))

	start := time.Now()
	a.Lookup(context.Background(), "one")
	b.Lookup(context.Background(), "two")
	a.Lookup(context.Background(), "three")

	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLookup_DefaultBaseURLRewritten(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `[{"lat":"-33.8567844","lon":"151.213108","display_name":"Sydney Opera House"}]`)

	c := NewClient(
		WithHTTPClient(newRewriteClient(srv.URL, DefaultBaseURL)),
		WithLimiter(newTestLimiter()),
	)
	res := c.Lookup(context.Background(), "Sydney Opera House")
	require.True(t, res.Matched())
	assert.Equal(t, "-33.8567844", res.LatString())
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_RecordsMetrics(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, `[]`)
	m := metrics.NewForTesting()
	c := NewClient(WithBaseURL(srv.URL), WithLimiter(newTestLimiter()), WithMetrics(m))

	c.Lookup(context.Background(), "nowhere")
	c.Lookup(context.Background(), "")

	assert.Equal(t, 1.0, counterValue(t, m, string(FailureNoMatch)))
	assert.Equal(t, 1.0, counterValue(t, m, string(model.RowStatusSkipped)))
}

func TestNewLimiter_ZeroIntervalIsUnlimited(t *testing.T) {
	l := NewLimiter(0)
	assert.Equal(t, rate.Inf, l.Limit())
}

func counterValue(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.GeocodeRequests.WithLabelValues(outcome).Write(&out))
	return out.GetCounter().GetValue()
}

func TestLookup_KeepsProviderCoordinateText(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK,
		`[{"lat":"37.42247640","lon":"-122.08560000","display_name":"Googleplex"}]`)

	c := NewClient(WithBaseURL(srv.URL), WithLimiter(newTestLimiter()))
	res := c.Lookup(context.Background(), "Googleplex")
	require.True(t, res.Matched())
	assert.Equal(t, "37.42247640", res.LatString())
	assert.Equal(t, "-122.08560000", res.LngString())
	assert.InDelta(t, 37.4224764, res.Latitude, 1e-9)
}

func TestResult_Coordinates(t *testing.T) {
	computed := Result{Status: model.RowStatusSuccess, Latitude: 0, Longitude: 12.5}
	assert.Equal(t, "0", computed.LatString())
	assert.Equal(t, "12.5", computed.LngString())

	b, err := json.Marshal(computed)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"lat":0`)
	assert.Contains(t, string(b), `"lng":12.5`)

	miss := Result{Status: model.RowStatusError, RawLat: "1.0", RawLng: "2.0"}
	assert.Empty(t, miss.LatString())
	assert.Empty(t, miss.LngString())
}
