package model

import "strings"

// Recognized column keys.
const (
	ColumnAddress  = "address"
	ColumnLandmark = "landmark"
	ColumnCity     = "city"
	ColumnState    = "state"
	ColumnCountry  = "country"
	ColumnZip      = "zip"
	ColumnName     = "name"
)

// AddressRecord is one input row keyed by lowercase column name.
// Values are trimmed at intake; missing columns read as "".
type AddressRecord map[string]string

func (r AddressRecord) get(key string) string {
	return strings.TrimSpace(r[key])
}

func (r AddressRecord) Address() string  { return r.get(ColumnAddress) }
func (r AddressRecord) Landmark() string { return r.get(ColumnLandmark) }
func (r AddressRecord) City() string     { return r.get(ColumnCity) }
func (r AddressRecord) State() string    { return r.get(ColumnState) }
func (r AddressRecord) Country() string  { return r.get(ColumnCountry) }
func (r AddressRecord) Zip() string      { return r.get(ColumnZip) }
func (r AddressRecord) Name() string     { return r.get(ColumnName) }

// Attemptable reports whether the record carries a primary term. Records
// without one are marked skipped without calling the provider.
func (r AddressRecord) Attemptable() bool {
	return r.Address() != "" || r.Landmark() != ""
}

// Input returns the landmark and address as submitted, for the output row.
func (r AddressRecord) Input() string {
	return strings.TrimSpace(r.Landmark() + " " + r.Address())
}
