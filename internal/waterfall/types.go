package waterfall

import (
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

// Attempt is one query sent (or skipped) during resolution.
type Attempt struct {
	Strategy model.MatchType `json:"strategy"`
	Query    string          `json:"query"`
	Result   geocode.Result  `json:"result"`
}

// Resolution is the outcome of running the waterfall for one record.
type Resolution struct {
	Result    geocode.Result  `json:"result"`
	MatchType model.MatchType `json:"match_type"`
	Attempts  []Attempt       `json:"attempts,omitempty"`
}

// Row converts the resolution into the persisted result row for rec.
func (r Resolution) Row(rec model.AddressRecord) model.ResultRow {
	return model.ResultRow{
		Input:            rec.Input(),
		Latitude:         r.Result.LatString(),
		Longitude:        r.Result.LngString(),
		FormattedAddress: r.Result.FormattedAddress,
		Status:           r.Result.Status,
		MatchType:        r.MatchType,
	}
}
