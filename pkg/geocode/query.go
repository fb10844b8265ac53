package geocode

import "strings"

// BuildQuery joins the non-empty parts in fixed order (primary, city, state,
// country) with ", ". It returns "" when every part is empty. No escaping is
// done here; the client encodes the query on the wire.
func BuildQuery(primary, city, state, country string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{primary, city, state, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
