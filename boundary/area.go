package boundary

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// earthRadiusMeters is the authalic radius of the WGS84 ellipsoid.
const earthRadiusMeters = 6371007.181

// equalAreaProjection returns a spherical Lambert azimuthal equal-area
// projection centred on the given WGS84 point. Output is in metres.
func equalAreaProjection(center orb.Point) orb.Projection {
	lon0 := center.Lon() * math.Pi / 180
	lat0 := center.Lat() * math.Pi / 180
	sinLat0, cosLat0 := math.Sin(lat0), math.Cos(lat0)

	return func(p orb.Point) orb.Point {
		lon := p.Lon() * math.Pi / 180
		lat := p.Lat() * math.Pi / 180
		sinLat, cosLat := math.Sin(lat), math.Cos(lat)
		cosDLon := math.Cos(lon - lon0)

		denom := 1 + sinLat0*sinLat + cosLat0*cosLat*cosDLon
		if denom <= 1e-12 {
			// Antipode of the centre; never reached for layer-sized inputs.
			return orb.Point{0, 2 * earthRadiusMeters}
		}
		k := math.Sqrt(2 / denom)
		x := earthRadiusMeters * k * cosLat * math.Sin(lon-lon0)
		y := earthRadiusMeters * k * (cosLat0*sinLat - sinLat0*cosLat*cosDLon)
		return orb.Point{x, y}
	}
}

// projectEqualArea returns a projected copy of g. The input is not modified.
func projectEqualArea(g orb.Geometry, center orb.Point) orb.Geometry {
	return project.Geometry(orb.Clone(g), equalAreaProjection(center))
}

// AreaKm2 returns the area of a WGS84 polygonal geometry in square kilometres,
// measured in an equal-area projection centred on the geometry.
func AreaKm2(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	b := g.Bound()
	projected := projectEqualArea(g, b.Center())
	return math.Abs(planar.Area(projected)) / 1e6
}

// AreaBound is the plausible area range for one district type.
type AreaBound struct {
	MinKm2 float64 `yaml:"min_km2" json:"min_km2"`
	MaxKm2 float64 `yaml:"max_km2" json:"max_km2"`
}

const (
	// minimumAreaKm2 is the floor below which any geometry is treated as a sliver.
	minimumAreaKm2 = 0.0001

	// defaultAreaKey is the entry used for unknown district types.
	defaultAreaKey = "default"
)

// DefaultAreaBounds returns the built-in bounds per district type.
func DefaultAreaBounds() map[string]AreaBound {
	return map[string]AreaBound{
		"city_council":      {MinKm2: 0.5, MaxKm2: 2000},
		"county_commission": {MinKm2: 10, MaxKm2: 50000},
		"school_board":      {MinKm2: 1, MaxKm2: 20000},
		"ward":              {MinKm2: 0.05, MaxKm2: 500},
		"precinct":          {MinKm2: 0.01, MaxKm2: 2000},
		"state_house":       {MinKm2: 10, MaxKm2: 100000},
		"state_senate":      {MinKm2: 50, MaxKm2: 200000},
		"congressional":     {MinKm2: 100, MaxKm2: 700000},
		defaultAreaKey:      {MinKm2: 0.01, MaxKm2: 1000000},
	}
}

// AreaBounds resolves district types to their plausible area range.
type AreaBounds struct {
	bounds map[string]AreaBound
}

// NewAreaBounds layers overrides on top of the defaults.
func NewAreaBounds(overrides map[string]AreaBound) *AreaBounds {
	bounds := DefaultAreaBounds()
	for k, v := range overrides {
		bounds[k] = v
	}
	return &AreaBounds{bounds: bounds}
}

// For returns the bound for a district type, falling back to the default entry.
func (a *AreaBounds) For(districtType string) AreaBound {
	if b, ok := a.bounds[districtType]; ok {
		return b
	}
	return a.bounds[defaultAreaKey]
}

// Check grades an area against the bound for a district type. Areas beyond
// twice the maximum or under the sliver floor fail; anything else outside
// the plausible range is a warning.
func (a *AreaBounds) Check(areaKm2 float64, districtType string) (CheckStatus, error) {
	b := a.For(districtType)
	switch {
	case areaKm2 > 2*b.MaxKm2:
		return StatusFail, newValidationError(ErrAreaOutOfBounds,
			"%.4f km² exceeds twice the %s maximum of %g km²", areaKm2, districtType, b.MaxKm2)
	case areaKm2 < minimumAreaKm2:
		return StatusFail, newValidationError(ErrAreaOutOfBounds,
			"%.6f km² is below the %g km² floor", areaKm2, minimumAreaKm2)
	case areaKm2 > b.MaxKm2:
		return StatusWarning, newValidationError(ErrAreaOutOfBounds,
			"%.4f km² above the %s maximum of %g km²", areaKm2, districtType, b.MaxKm2)
	case areaKm2 < b.MinKm2:
		return StatusWarning, newValidationError(ErrAreaOutOfBounds,
			"%.4f km² below the %s minimum of %g km²", areaKm2, districtType, b.MinKm2)
	}
	return StatusPass, nil
}
