// Package export encodes batch result rows as CSV and GeoJSON.
package export

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/support934/smartgecode-saas/internal/model"
)

// Header is the first line of every results file.
const Header = "input_address,lat,lng,formatted_address,status,match_type\n"

// Columns are the header keys in output order.
var Columns = []string{"input_address", "lat", "lng", "formatted_address", "status", "match_type"}

// EncodeRow renders one row with every field double-quoted and a trailing
// newline.
func EncodeRow(r model.ResultRow) string {
	var b strings.Builder
	writeRow(&b, r)
	return b.String()
}

// EncodeCSV renders the header followed by rows.
func EncodeCSV(rows []model.ResultRow) string {
	var b strings.Builder
	b.WriteString(Header)
	for _, r := range rows {
		writeRow(&b, r)
	}
	return b.String()
}

func writeRow(b *strings.Builder, r model.ResultRow) {
	fields := [...]string{
		r.Input,
		r.Latitude,
		r.Longitude,
		r.FormattedAddress,
		string(r.Status),
		string(r.MatchType),
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

// DecodeCSV parses a results buffer back into rows. An empty buffer yields
// no rows.
func DecodeCSV(data string) ([]model.ResultRow, error) {
	if data == "" {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = len(Columns)

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "export: read header")
	}
	if strings.Join(header, ",")+"\n" != Header {
		return nil, eris.Errorf("export: unexpected header %q", strings.Join(header, ","))
	}

	var rows []model.ResultRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "export: read row")
		}
		rows = append(rows, model.ResultRow{
			Input:            rec[0],
			Latitude:         rec[1],
			Longitude:        rec[2],
			FormattedAddress: rec[3],
			Status:           model.RowStatus(rec[4]),
			MatchType:        model.MatchType(rec[5]),
		})
	}
	return rows, nil
}
