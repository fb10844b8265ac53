package model

// RowStatus is the outcome recorded for one output row.
type RowStatus string

const (
	RowStatusSuccess RowStatus = "success"
	RowStatusError   RowStatus = "error"
	RowStatusSkipped RowStatus = "skipped"
)

// MatchType names the waterfall strategy that produced a row's result.
type MatchType string

const (
	MatchLandmarkContext MatchType = "landmark_context"
	MatchAddressContext  MatchType = "address_context"
	MatchLandmarkOnly    MatchType = "landmark_only"
	MatchAddressOnly     MatchType = "address_only"
	MatchCityFallback    MatchType = "city_fallback"
	MatchNone            MatchType = "none"
	MatchLimitHit        MatchType = "limit_hit"
)

// LimitHitMessage is written into the sentinel row when quota runs out mid-batch.
const LimitHitMessage = "Monthly lookup limit reached; remaining rows were not processed"

// ResultRow is one row of batch output. Rows are appended, never edited.
type ResultRow struct {
	Input            string    `json:"address"`
	Latitude         string    `json:"lat"`
	Longitude        string    `json:"lng"`
	FormattedAddress string    `json:"formatted_address"`
	Status           RowStatus `json:"status"`
	MatchType        MatchType `json:"match_type"`
}

// LimitHitRow builds the sentinel row appended on mid-batch quota exhaustion.
func LimitHitRow() ResultRow {
	return ResultRow{
		Input:            "",
		FormattedAddress: LimitHitMessage,
		Status:           RowStatusError,
		MatchType:        MatchLimitHit,
	}
}
