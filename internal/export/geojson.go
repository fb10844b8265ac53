package export

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/support934/smartgecode-saas/internal/model"
)

// EncodeGeoJSON renders the successful rows as a FeatureCollection of points.
// Rows without usable coordinates are left out.
func EncodeGeoJSON(rows []model.ResultRow) ([]byte, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for i, r := range rows {
		if r.Status != model.RowStatusSuccess {
			continue
		}
		lat, latErr := strconv.ParseFloat(r.Latitude, 64)
		lng, lngErr := strconv.ParseFloat(r.Longitude, 64)
		if latErr != nil || lngErr != nil {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.Itoa(i + 1),
			Geometry: geom.NewPointFlat(geom.XY, []float64{lng, lat}),
			Properties: map[string]any{
				"input_address":     r.Input,
				"formatted_address": r.FormattedAddress,
				"match_type":        string(r.MatchType),
			},
		})
	}

	b, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal geojson")
	}
	return b, nil
}
