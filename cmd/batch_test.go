package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support934/smartgecode-saas/internal/config"
	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/export"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

type stubClient map[string]geocode.Result

func (s stubClient) Lookup(_ context.Context, q string) geocode.Result {
	if r, ok := s[q]; ok {
		return r
	}
	return geocode.Result{Status: model.RowStatusError, Failure: geocode.FailureNoMatch, Query: q}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "batch.db")},
		Geocoder: config.GeocoderConfig{
			BaseURL: "http://127.0.0.1:1",
		},
		Batch: config.BatchConfig{MaxConcurrentJobs: 1, RetryAttempts: 1},
	}
}

func writeInput(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addresses.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

var eiffel = geocode.Result{
	Status:           model.RowStatusSuccess,
	Latitude:         48.8582599,
	Longitude:        2.2945006,
	FormattedAddress: "Tour Eiffel, 5, Avenue Anatole France, Paris",
}

func TestRunBatch_WritesCSV(t *testing.T) {
	cfg = testConfig(t)
	in := writeInput(t, "landmark,city,country\nEiffel Tower,Paris,France\n,,Narnia\n")
	out := filepath.Join(t.TempDir(), "results.csv")

	err := runBatch(context.Background(), batchOptions{In: in, Out: out, Format: "csv"},
		stubClient{"Eiffel Tower, Paris, France": eiffel})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	rows, err := export.DecodeCSV(string(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.MatchLandmarkContext, rows[0].MatchType)
	assert.Equal(t, "48.8582599", rows[0].Latitude)
	assert.Equal(t, model.RowStatusSkipped, rows[1].Status)
}

func TestRunBatch_WritesGeoJSON(t *testing.T) {
	cfg = testConfig(t)
	in := writeInput(t, "landmark,city,country\nEiffel Tower,Paris,France\n")
	out := filepath.Join(t.TempDir(), "results.geojson")

	err := runBatch(context.Background(), batchOptions{In: in, Out: out, Format: engine.FormatGeoJSON},
		stubClient{"Eiffel Tower, Paris, France": eiffel})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
	assert.Contains(t, string(data), "2.2945006")
}

func TestRunBatch_InputErrors(t *testing.T) {
	cfg = testConfig(t)

	err := runBatch(context.Background(), batchOptions{In: filepath.Join(t.TempDir(), "nope.csv")}, stubClient{})
	assert.Error(t, err)

	err = runBatch(context.Background(), batchOptions{In: writeInput(t, "city\nParis\n")}, stubClient{})
	var ve *engine.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRunBatch_QuotaExceeded(t *testing.T) {
	cfg = testConfig(t)
	cfg.Quota.Limits = map[string]int{"free": 1}

	err := runBatch(context.Background(), batchOptions{In: writeInput(t, "address\na\nb\n")}, stubClient{})
	var qe *engine.QuotaExceededError
	assert.ErrorAs(t, err, &qe)
}

func TestGeocodeCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Eiffel Tower", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"lat":"48.8582599","lon":"2.2945006","display_name":"Tour Eiffel"}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(origDir) //nolint:errcheck

	t.Setenv("SMARTGEOCODE_GEOCODER_BASE_URL", srv.URL)
	t.Setenv("SMARTGEOCODE_GEOCODER_INTERVAL", "0s")
	t.Setenv("SMARTGEOCODE_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"geocode", "Eiffel", "Tower"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.Contains(out.String(), `"formatted_address": "Tour Eiffel"`), out.String())
	assert.Contains(t, out.String(), `"status": "success"`)
}
