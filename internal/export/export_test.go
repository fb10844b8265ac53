package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support934/smartgecode-saas/internal/model"
)

var sampleRows = []model.ResultRow{
	{
		Input:            `Joe's "Diner" 5 Main St, Suite 2`,
		Latitude:         "40.7127281",
		Longitude:        "-74.0060152",
		FormattedAddress: "5, Main Street, New York",
		Status:           model.RowStatusSuccess,
		MatchType:        model.MatchAddressContext,
	},
	{Input: "", Status: model.RowStatusSkipped, MatchType: model.MatchNone},
	model.LimitHitRow(),
}

func TestEncodeCSV_ExactBytes(t *testing.T) {
	got := EncodeCSV(sampleRows[:2])
	want := "input_address,lat,lng,formatted_address,status,match_type\n" +
		`"Joe's ""Diner"" 5 Main St, Suite 2","40.7127281","-74.0060152","5, Main Street, New York","success","address_context"` + "\n" +
		`"","","","","skipped","none"` + "\n"
	assert.Equal(t, want, got)
}

func TestEncodeCSV_EmptyIsHeaderOnly(t *testing.T) {
	assert.Equal(t, Header, EncodeCSV(nil))
}

func TestEncodeRow_MatchesEncodeCSVLine(t *testing.T) {
	full := EncodeCSV(sampleRows)
	assert.Equal(t, Header+EncodeRow(sampleRows[0])+EncodeRow(sampleRows[1])+EncodeRow(sampleRows[2]), full)
}

func TestEncodeCSV_ReadableByStandardParser(t *testing.T) {
	r := csv.NewReader(strings.NewReader(EncodeCSV(sampleRows)))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, sampleRows[0].Input, records[1][0])
	assert.Equal(t, sampleRows[0].FormattedAddress, records[1][3])
	assert.Equal(t, "limit_hit", records[3][5])
}

func TestDecodeCSV_RoundTrip(t *testing.T) {
	rows, err := DecodeCSV(EncodeCSV(sampleRows))
	require.NoError(t, err)
	assert.Equal(t, sampleRows, rows)
}

func TestDecodeCSV_Empty(t *testing.T) {
	rows, err := DecodeCSV("")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = DecodeCSV(Header)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeCSV_BadHeader(t *testing.T) {
	_, err := DecodeCSV("a,b,c,d,e,f\n")
	assert.Error(t, err)
}

func TestEncodeGeoJSON(t *testing.T) {
	b, err := EncodeGeoJSON(sampleRows)
	require.NoError(t, err)

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]string `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	f := doc.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{-74.0060152, 40.7127281}, f.Geometry.Coordinates)
	assert.Equal(t, "address_context", f.Properties["match_type"])
}
