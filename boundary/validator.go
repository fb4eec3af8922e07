package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	// MaxSampleSize caps the features fetched per layer for validation.
	MaxSampleSize = 5

	issueFetchDisabled = "validation skipped: geometry fetching disabled"
)

// Validator grades the structural quality of sampled layer geometry.
type Validator struct {
	bounds *AreaBounds
	logger *slog.Logger
}

// NewValidator creates a Validator using the given area bounds.
// A nil bounds uses DefaultAreaBounds.
func NewValidator(bounds *AreaBounds, logger *slog.Logger) *Validator {
	if bounds == nil {
		bounds = NewAreaBounds(nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{bounds: bounds, logger: logger}
}

// DeriveTier maps per-check statuses to a quality tier. It is a pure function:
// identical statuses always yield the identical tier.
func DeriveTier(c Checks) QualityTier {
	switch {
	case c.CoordinateValidity == StatusFail,
		c.Degeneracy == StatusFail,
		c.SelfIntersection == StatusFail:
		return TierRejected
	case c.AreaBounds == StatusFail:
		return TierLow
	case c.SelfIntersection == StatusRepaired,
		c.AreaBounds == StatusWarning:
		return TierMedium
	}
	return TierHigh
}

// ValidateGeometry runs the geometric checks against one feature in a fixed
// order, stopping at the first fatal failure. Later checks are SKIPPED.
func (v *Validator) ValidateGeometry(g orb.MultiPolygon, districtType string) ValidationResult {
	result := ValidationResult{
		Checks:          skippedChecks(),
		Issues:          []string{},
		FeaturesSampled: 1,
		Source:          validationComputed,
	}
	finish := func() ValidationResult {
		result.QualityTier = DeriveTier(result.Checks)
		return result
	}

	// 1. Coordinate validity
	if err := checkCoordinates(g); err != nil {
		result.Checks.CoordinateValidity = StatusFail
		result.addIssue(err.Error())
		return finish()
	}
	result.Checks.CoordinateValidity = StatusPass

	closed, wasOpen := closeRings(g)

	// 2. Degeneracy
	if err := checkDegenerate(closed); err != nil {
		result.Checks.Degeneracy = StatusFail
		result.addIssue(err.Error())
		return finish()
	}
	result.Checks.Degeneracy = StatusPass

	// 3. Closed rings (informational)
	if wasOpen {
		result.Checks.ClosedRings = StatusWarning
		result.addIssue("RingNotClosed: open ring(s) closed automatically")
	} else {
		result.Checks.ClosedRings = StatusPass
	}

	// 4. Self-intersection with repair
	working := closed
	valid, reason, err := validity(closed)
	switch {
	case err != nil:
		v.logger.Warn("geos validity check failed", "error", err)
		result.Checks.SelfIntersection = StatusFail
		result.addIssue(newValidationError(ErrSelfIntersecting, "validity check failed: %v", err).Error())
		return finish()
	case !valid:
		result.RepairAttempted = true
		repaired, ok := RepairGeometry(closed)
		if !ok {
			result.Checks.SelfIntersection = StatusFail
			result.addIssue(newValidationError(ErrSelfIntersecting, "%s; repair failed", reason).Error())
			return finish()
		}
		result.Checks.SelfIntersection = StatusRepaired
		result.addIssue(newValidationError(ErrSelfIntersecting, "%s; repaired", reason).Error())
		working = repaired
	default:
		result.Checks.SelfIntersection = StatusPass
	}

	// 5. Area bounds in an equal-area projection
	result.AreaKm2 = AreaKm2(working)
	status, areaErr := v.bounds.Check(result.AreaKm2, districtType)
	result.Checks.AreaBounds = status
	if areaErr != nil {
		result.addIssue(areaErr.Error())
	}
	return finish()
}

func checkCoordinates(g orb.MultiPolygon) error {
	for _, poly := range g {
		for _, ring := range poly {
			for _, p := range ring {
				lon, lat := p.Lon(), p.Lat()
				if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
					return newValidationError(ErrCoordinateInvalid, "non-finite coordinate")
				}
				if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
					return newValidationError(ErrCoordinateInvalid, "coordinate (%g, %g) outside WGS84 range", lon, lat)
				}
			}
		}
	}
	return nil
}

func checkDegenerate(g orb.MultiPolygon) error {
	if len(g) == 0 {
		return newValidationError(ErrDegenerate, "multipolygon has no members")
	}
	for i, poly := range g {
		if len(poly) == 0 {
			return newValidationError(ErrDegenerate, "polygon %d has no rings", i)
		}
		for j, ring := range poly {
			if n := distinctVertices(ring); n < 3 {
				return newValidationError(ErrDegenerate, "polygon %d ring %d has %d distinct vertices", i, j, n)
			}
		}
		if planar.Area(poly[0]) == 0 {
			return newValidationError(ErrDegenerate, "polygon %d has zero area", i)
		}
	}
	return nil
}

func distinctVertices(ring orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// checkSeverity orders statuses so per-check aggregation keeps the worst.
func checkSeverity(s CheckStatus) int {
	switch s {
	case StatusPass:
		return 1
	case StatusWarning:
		return 2
	case StatusRepaired:
		return 3
	case StatusFail:
		return 4
	}
	return 0
}

func worstStatus(a, b CheckStatus) CheckStatus {
	if checkSeverity(b) > checkSeverity(a) {
		return b
	}
	return a
}

// aggregate folds per-feature results into one layer result. The tier is the
// worse of the tier derived from the worst status of each check and the worst
// tier observed across features.
func aggregate(results []ValidationResult) ValidationResult {
	out := ValidationResult{
		Checks: skippedChecks(),
		Issues: []string{},
		Source: validationComputed,
	}
	var areaSum float64
	var areaN int
	worst := TierHigh
	for _, r := range results {
		worst = WorstTier(worst, r.QualityTier)
		out.Checks.CoordinateValidity = worstStatus(out.Checks.CoordinateValidity, r.Checks.CoordinateValidity)
		out.Checks.Degeneracy = worstStatus(out.Checks.Degeneracy, r.Checks.Degeneracy)
		out.Checks.ClosedRings = worstStatus(out.Checks.ClosedRings, r.Checks.ClosedRings)
		out.Checks.SelfIntersection = worstStatus(out.Checks.SelfIntersection, r.Checks.SelfIntersection)
		out.Checks.AreaBounds = worstStatus(out.Checks.AreaBounds, r.Checks.AreaBounds)
		out.RepairAttempted = out.RepairAttempted || r.RepairAttempted
		out.FeaturesSampled += r.FeaturesSampled
		for _, issue := range r.Issues {
			out.addIssue(issue)
		}
		if r.Checks.AreaBounds != StatusSkipped {
			areaSum += r.AreaKm2
			areaN++
		}
	}
	if areaN > 0 {
		out.AreaKm2 = roundScore(areaSum / float64(areaN))
	}
	out.QualityTier = WorstTier(DeriveTier(out.Checks), worst)
	return out
}

// ValidateLayer samples up to sampleSize features of a layer and grades them.
// Upstream validation with a known tier is trusted as-is; an unknown upstream
// tier is ignored and the layer validated here. Unavailable geometry grades
// the layer MEDIUM_QUALITY with the fetch issue, the same as a dry run, and
// leaves the decision to deduplication, where it scores IoU 0.
func (v *Validator) ValidateLayer(ctx context.Context, layer CandidateLayer, src BoundarySource, sampleSize int) ValidationResult {
	up := layer.Validation
	if up == nil {
		return v.validateSample(ctx, layer, src, sampleSize)
	}
	if up.QualityTier.Known() {
		upstream := *up
		upstream.Source = validationUpstream
		if upstream.Issues == nil {
			upstream.Issues = []string{}
		}
		return upstream
	}

	v.logger.Warn("unknown upstream quality tier, revalidating", "layer", layer.LayerURL, "tier", up.QualityTier)
	res := v.validateSample(ctx, layer, src, sampleSize)
	res.addIssue(fmt.Sprintf("upstream quality tier %q not recognised; revalidated", up.QualityTier))
	return res
}

func (v *Validator) validateSample(ctx context.Context, layer CandidateLayer, src BoundarySource, sampleSize int) ValidationResult {
	sampleSize = max(1, min(sampleSize, MaxSampleSize))
	sample := src.FetchSample(ctx, layer.LayerURL, sampleSize)

	if sample.Disabled {
		return ValidationResult{
			QualityTier: TierMedium,
			Checks:      skippedChecks(),
			Issues:      []string{issueFetchDisabled},
			Source:      validationComputed,
		}
	}
	if !sample.Available {
		v.logger.Warn("sample geometry unavailable", "layer", layer.LayerURL, "reason", sample.Reason)
		return ValidationResult{
			QualityTier: TierMedium,
			Checks:      skippedChecks(),
			Issues:      []string{newValidationError(ErrFetch, "%s", sample.Reason).Error()},
			Source:      validationComputed,
		}
	}
	if len(sample.Geometries) == 0 {
		return ValidationResult{
			QualityTier: TierRejected,
			Checks:      skippedChecks(),
			Issues: []string{newValidationError(ErrGeometryParse,
				"no parseable features (%d skipped)", sample.Skipped).Error()},
			Source: validationComputed,
		}
	}

	results := make([]ValidationResult, 0, len(sample.Geometries))
	for _, g := range sample.Geometries {
		results = append(results, v.ValidateGeometry(g, layer.DistrictType))
	}
	out := aggregate(results)
	if sample.Skipped > 0 {
		out.addIssue(newValidationError(ErrGeometryParse, "%d malformed feature(s) skipped", sample.Skipped).Error())
	}
	if out.QualityTier == TierRejected {
		v.logger.Debug("layer rejected", "layer", layer.LayerURL, "issues", out.Issues)
	}
	return out
}
