package boundary

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasIssue(issues []string, prefix string) bool {
	for _, s := range issues {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func TestDeriveTier(t *testing.T) {
	pass := Checks{
		CoordinateValidity: StatusPass,
		Degeneracy:         StatusPass,
		ClosedRings:        StatusPass,
		SelfIntersection:   StatusPass,
		AreaBounds:         StatusPass,
	}

	tests := []struct {
		name   string
		modify func(c *Checks)
		want   QualityTier
	}{
		{"all pass", func(c *Checks) {}, TierHigh},
		{"open ring only", func(c *Checks) { c.ClosedRings = StatusWarning }, TierHigh},
		{"repaired", func(c *Checks) { c.SelfIntersection = StatusRepaired }, TierMedium},
		{"area warning", func(c *Checks) { c.AreaBounds = StatusWarning }, TierMedium},
		{"area fail", func(c *Checks) { c.AreaBounds = StatusFail }, TierLow},
		{"coordinates fail", func(c *Checks) { c.CoordinateValidity = StatusFail }, TierRejected},
		{"degenerate", func(c *Checks) { c.Degeneracy = StatusFail }, TierRejected},
		{"repair failed", func(c *Checks) { c.SelfIntersection = StatusFail }, TierRejected},
		{"repaired and area fail", func(c *Checks) {
			c.SelfIntersection = StatusRepaired
			c.AreaBounds = StatusFail
		}, TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := pass
			tt.modify(&c)
			got := DeriveTier(c)
			if got != tt.want {
				t.Errorf("DeriveTier() = %s, want %s", got, tt.want)
			}
			// Same statuses, same tier.
			if again := DeriveTier(c); again != got {
				t.Errorf("DeriveTier() not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestWorstTier(t *testing.T) {
	assert.Equal(t, TierRejected, WorstTier(TierLow, TierRejected))
	assert.Equal(t, TierLow, WorstTier(TierLow, TierMedium))
	assert.Equal(t, TierMedium, WorstTier(TierHigh, TierMedium))
	assert.Equal(t, TierHigh, WorstTier(TierHigh, TierHigh))
}

func TestQualityTier_Known(t *testing.T) {
	for _, tier := range AllTiers {
		assert.True(t, tier.Known(), tier)
	}
	assert.False(t, QualityTier("").Known())
	assert.False(t, QualityTier("high_quality").Known())
}

func TestValidateGeometry_Valid(t *testing.T) {
	v := NewValidator(nil, nil)
	res := v.ValidateGeometry(square(-122.5, 37.7, 0.05), "city_council")

	assert.Equal(t, TierHigh, res.QualityTier)
	assert.Equal(t, StatusPass, res.Checks.CoordinateValidity)
	assert.Equal(t, StatusPass, res.Checks.Degeneracy)
	assert.Equal(t, StatusPass, res.Checks.ClosedRings)
	assert.Equal(t, StatusPass, res.Checks.SelfIntersection)
	assert.Equal(t, StatusPass, res.Checks.AreaBounds)
	assert.False(t, res.RepairAttempted)
	assert.Empty(t, res.Issues)
	assert.InDelta(t, 24.4, res.AreaKm2, 1.0)
}

func TestValidateGeometry_TwoVertices(t *testing.T) {
	v := NewValidator(nil, nil)
	g := orb.MultiPolygon{{{{-122.5, 37.7}, {-122.4, 37.8}}}}
	res := v.ValidateGeometry(g, "city_council")

	if res.QualityTier != TierRejected {
		t.Fatalf("tier = %s, want %s", res.QualityTier, TierRejected)
	}
	if res.Checks.Degeneracy != StatusFail {
		t.Errorf("degeneracy = %s, want FAIL", res.Checks.Degeneracy)
	}
	if !hasIssue(res.Issues, "Degenerate") {
		t.Errorf("issues %v missing Degenerate", res.Issues)
	}
	// Checks after the fatal one are not run.
	if res.Checks.SelfIntersection != StatusSkipped || res.Checks.AreaBounds != StatusSkipped {
		t.Errorf("later checks = %s/%s, want SKIPPED", res.Checks.SelfIntersection, res.Checks.AreaBounds)
	}
}

func TestValidateGeometry_Collinear(t *testing.T) {
	v := NewValidator(nil, nil)
	g := orb.MultiPolygon{{{{0, 0}, {1, 0}, {2, 0}, {0, 0}}}}
	res := v.ValidateGeometry(g, "default")

	assert.Equal(t, TierRejected, res.QualityTier)
	assert.True(t, hasIssue(res.Issues, "Degenerate"), "issues: %v", res.Issues)
}

func TestValidateGeometry_InvalidCoordinates(t *testing.T) {
	v := NewValidator(nil, nil)
	g := orb.MultiPolygon{{{{200, 10}, {201, 10}, {201, 11}, {200, 11}, {200, 10}}}}
	res := v.ValidateGeometry(g, "default")

	assert.Equal(t, TierRejected, res.QualityTier)
	assert.Equal(t, StatusFail, res.Checks.CoordinateValidity)
	assert.Equal(t, StatusSkipped, res.Checks.Degeneracy)
	assert.True(t, hasIssue(res.Issues, "CoordinateInvalid"), "issues: %v", res.Issues)
}

func TestValidateGeometry_OpenRing(t *testing.T) {
	v := NewValidator(nil, nil)
	x, y, s := -122.5, 37.7, 0.05
	g := orb.MultiPolygon{{{{x, y}, {x + s, y}, {x + s, y + s}, {x, y + s}}}}
	res := v.ValidateGeometry(g, "city_council")

	assert.Equal(t, StatusWarning, res.Checks.ClosedRings)
	assert.Equal(t, TierHigh, res.QualityTier)
	assert.True(t, hasIssue(res.Issues, "RingNotClosed"), "issues: %v", res.Issues)
}

func TestValidateGeometry_BowTieRepaired(t *testing.T) {
	v := NewValidator(nil, nil)
	x, y, s := -122.5, 37.7, 0.05
	g := orb.MultiPolygon{{{{x, y}, {x + s, y + s}, {x + s, y}, {x, y + s}, {x, y}}}}
	res := v.ValidateGeometry(g, "city_council")

	require.Equal(t, StatusRepaired, res.Checks.SelfIntersection, "issues: %v", res.Issues)
	assert.True(t, res.RepairAttempted)
	assert.Equal(t, TierMedium, res.QualityTier)
	assert.True(t, hasIssue(res.Issues, "SelfIntersecting"), "issues: %v", res.Issues)
	assert.Greater(t, res.AreaKm2, 0.0)
}

func TestValidateGeometry_AreaOutOfBounds(t *testing.T) {
	v := NewValidator(nil, nil)
	// Roughly 9,800 km², far beyond twice the ward maximum.
	res := v.ValidateGeometry(square(-122, 37, 1), "ward")

	assert.Equal(t, StatusFail, res.Checks.AreaBounds)
	assert.Equal(t, TierLow, res.QualityTier)
	assert.True(t, hasIssue(res.Issues, "AreaOutOfBounds"), "issues: %v", res.Issues)
}

func TestAggregate_WorstTierWins(t *testing.T) {
	v := NewValidator(nil, nil)
	x, y, s := -122.5, 37.7, 0.05
	good := v.ValidateGeometry(square(x, y, s), "city_council")
	bowtie := v.ValidateGeometry(orb.MultiPolygon{{{{x, y}, {x + s, y + s}, {x + s, y}, {x, y + s}, {x, y}}}}, "city_council")
	degenerate := v.ValidateGeometry(orb.MultiPolygon{{{{x, y}, {x + s, y}}}}, "city_council")

	assert.Equal(t, TierMedium, aggregate([]ValidationResult{good, bowtie}).QualityTier)

	all := aggregate([]ValidationResult{good, bowtie, degenerate})
	assert.Equal(t, TierRejected, all.QualityTier)
	assert.Equal(t, 3, all.FeaturesSampled)
	assert.True(t, all.RepairAttempted)

	fold := TierHigh
	for _, r := range []ValidationResult{good, bowtie, degenerate} {
		fold = WorstTier(fold, r.QualityTier)
	}
	assert.Equal(t, fold, all.QualityTier)
}

func TestAggregate_KeepsFeatureTier(t *testing.T) {
	// A feature graded LOW without a failing check still lowers the layer.
	low := ValidationResult{QualityTier: TierLow, Checks: skippedChecks()}
	v := NewValidator(nil, nil)
	good := v.ValidateGeometry(square(-122.5, 37.7, 0.05), "city_council")
	require.Equal(t, TierHigh, good.QualityTier)

	assert.Equal(t, TierLow, aggregate([]ValidationResult{good, low}).QualityTier)
}

func TestValidateLayer(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(nil, nil)
	src := newFakeSource()

	good := layer("https://data.example.gov/arcgis/rest/services/council/0", "Council", "city_council", square(-122.5, 37.7, 0.05))
	src.add(good.LayerURL, square(-122.5, 37.7, 0.05))

	t.Run("computed", func(t *testing.T) {
		res := v.ValidateLayer(ctx, good, src, 3)
		assert.Equal(t, TierHigh, res.QualityTier)
		assert.Equal(t, "computed", res.Source)
		assert.Equal(t, 1, res.FeaturesSampled)
	})

	t.Run("upstream trusted", func(t *testing.T) {
		l := good
		l.Validation = &ValidationResult{QualityTier: TierLow, Issues: []string{"upstream says no"}}
		before := src.sampleFetches.Load()
		res := v.ValidateLayer(ctx, l, src, 3)
		assert.Equal(t, TierLow, res.QualityTier)
		assert.Equal(t, "upstream", res.Source)
		assert.Equal(t, before, src.sampleFetches.Load(), "upstream validation must not fetch")
	})

	t.Run("unavailable", func(t *testing.T) {
		l := layer("https://data.example.gov/missing/0", "Missing", "city_council", nil)
		res := v.ValidateLayer(ctx, l, src, 3)
		// Same grade as a dry run: the layer stays eligible.
		assert.Equal(t, TierMedium, res.QualityTier)
		assert.True(t, res.QualityTier.Eligible())
		assert.True(t, hasIssue(res.Issues, "GeometryUnavailable"), "issues: %v", res.Issues)
	})

	t.Run("unknown upstream tier", func(t *testing.T) {
		for _, tier := range []QualityTier{"", "EXCELLENT"} {
			l := good
			l.Validation = &ValidationResult{QualityTier: tier}
			before := src.sampleFetches.Load()
			res := v.ValidateLayer(ctx, l, src, 3)
			assert.Equal(t, TierHigh, res.QualityTier, "tier %q", tier)
			assert.Equal(t, "computed", res.Source)
			assert.Equal(t, before+1, src.sampleFetches.Load(), "unknown tier must be revalidated")
			assert.True(t, hasIssue(res.Issues, "upstream quality tier"), "issues: %v", res.Issues)
		}
	})

	t.Run("no parseable features", func(t *testing.T) {
		l := layer("https://data.example.gov/empty/0", "Empty", "city_council", nil)
		src.setSample(l.LayerURL)
		res := v.ValidateLayer(ctx, l, src, 3)
		assert.Equal(t, TierRejected, res.QualityTier)
		assert.True(t, hasIssue(res.Issues, "GeometryParse"), "issues: %v", res.Issues)
	})

	t.Run("fetching disabled", func(t *testing.T) {
		disabled := newFakeSource()
		disabled.disabled = true
		res := v.ValidateLayer(ctx, good, disabled, 3)
		assert.Equal(t, TierMedium, res.QualityTier)
		assert.Equal(t, StatusSkipped, res.Checks.SelfIntersection)
	})
}

func TestAreaKm2(t *testing.T) {
	// One degree cell at the equator on the authalic sphere.
	got := AreaKm2(square(0, 0, 1))
	assert.InEpsilon(t, 12363.7, got, 0.005)

	assert.Zero(t, AreaKm2(nil))
}

func TestAreaBounds_Check(t *testing.T) {
	b := NewAreaBounds(map[string]AreaBound{"custom": {MinKm2: 1, MaxKm2: 10}})

	tests := []struct {
		area float64
		dt   string
		want CheckStatus
	}{
		{1000, "city_council", StatusPass},
		{3000, "city_council", StatusWarning},
		{5000, "city_council", StatusFail},
		{0.3, "city_council", StatusWarning},
		{0.00001, "city_council", StatusFail},
		{5, "custom", StatusPass},
		{15, "custom", StatusWarning},
		{25, "custom", StatusFail},
		{500000, "unknown_type", StatusPass},
	}
	for _, tt := range tests {
		got, err := b.Check(tt.area, tt.dt)
		if got != tt.want {
			t.Errorf("Check(%g, %s) = %s, want %s", tt.area, tt.dt, got, tt.want)
		}
		if (got == StatusPass) != (err == nil) {
			t.Errorf("Check(%g, %s) error = %v with status %s", tt.area, tt.dt, err, got)
		}
	}
}
