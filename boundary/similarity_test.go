package boundary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer()
	tests := []struct {
		in, want string
	}{
		{"City Council District 1", "council1"},
		{"Conseil Municipal Québec", "conseilmunicipalquebec"},
		{"  WARD-7 (2022) ", "72022"},
		{"The County of Marin", "marin"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := n.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNameSimilarity_Properties(t *testing.T) {
	n := NewNormalizer()
	names := []string{
		"City Council District 1",
		"Council Districts",
		"School Board Trustee Areas",
		"County",
		"Ward 3",
	}
	for _, x := range names {
		assert.Equal(t, 1.0, n.NameSimilarity(x, x), "sim(%q, itself)", x)
		assert.Equal(t, 0.0, n.NameSimilarity(x, ""), "sim(%q, empty)", x)
		for _, y := range names {
			xy := n.NameSimilarity(x, y)
			yx := n.NameSimilarity(y, x)
			if xy != yx {
				t.Errorf("sim(%q,%q)=%v but sim(%q,%q)=%v", x, y, xy, y, x, yx)
			}
			if xy < 0 || xy > 1 {
				t.Errorf("sim(%q,%q)=%v out of range", x, y, xy)
			}
		}
	}
}

func TestNameSimilarity_Values(t *testing.T) {
	n := NewNormalizer()

	// Boilerplate and accents are ignored.
	assert.Equal(t, 1.0, n.NameSimilarity("City of Montréal Districts", "Montreal Districts"))

	// "council1" vs "council2": one substitution over eight runes.
	assert.InDelta(t, 0.875, n.NameSimilarity("Council District 1", "Council District 2"), 1e-9)

	assert.Less(t, n.NameSimilarity("City Council", "School Board"), 0.5)
}
