package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name                          string
		primary, city, state, country string
		want                          string
	}{
		{"all parts", "Eiffel Tower Champ de Mars", "Paris", "", "France", "Eiffel Tower Champ de Mars, Paris, France"},
		{"primary only", "10 Downing St", "", "", "", "10 Downing St"},
		{"city state", "", "Austin", "TX", "", "Austin, TX"},
		{"whitespace parts dropped", "  ", " Lyon ", "\t", "France ", "Lyon, France"},
		{"empty", "", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.primary, tt.city, tt.state, tt.country))
		})
	}
}
