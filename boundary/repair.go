package boundary

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// withGEOS runs fn with a fresh GEOS context. GEOS reports internal failures
// by panicking through go-geos; those are returned as ErrGEOS.
func withGEOS(fn func(gctx *geos.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrGEOS, r)
		}
	}()
	return fn(geos.NewContext())
}

// toGEOS converts an orb geometry into the given context via WKB.
func toGEOS(gctx *geos.Context, g orb.Geometry) (*geos.Geom, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding wkb: %v", ErrGEOS, err)
	}
	geom, err := gctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGEOS, err)
	}
	return geom, nil
}

// fromGEOS converts a GEOS geometry back to orb, keeping only its polygonal parts.
func fromGEOS(geom *geos.Geom) (orb.MultiPolygon, error) {
	if geom == nil || geom.IsEmpty() {
		return nil, nil
	}
	g, err := wkb.Unmarshal(geom.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("%w: decoding wkb: %v", ErrGEOS, err)
	}
	return polygonal(g), nil
}

// polygonal extracts the polygons of any orb geometry into one MultiPolygon.
func polygonal(g orb.Geometry) orb.MultiPolygon {
	switch t := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}
	case orb.MultiPolygon:
		return t
	case orb.Collection:
		var out orb.MultiPolygon
		for _, part := range t {
			out = append(out, polygonal(part)...)
		}
		return out
	}
	return nil
}

// validity reports whether g is topologically valid and, if not, the GEOS reason.
func validity(g orb.MultiPolygon) (bool, string, error) {
	var (
		valid  bool
		reason string
	)
	err := withGEOS(func(gctx *geos.Context) error {
		geom, err := toGEOS(gctx, g)
		if err != nil {
			return err
		}
		defer geom.Destroy()
		valid = geom.IsValid()
		if !valid {
			reason = geom.IsValidReason()
		}
		return nil
	})
	return valid, reason, err
}

// RepairGeometry attempts to make g valid: a zero-width buffer first, then
// MakeValid. It reports false when neither produces a valid, non-empty
// polygonal result.
func RepairGeometry(g orb.MultiPolygon) (orb.MultiPolygon, bool) {
	var repaired orb.MultiPolygon
	err := withGEOS(func(gctx *geos.Context) error {
		geom, err := toGEOS(gctx, g)
		if err != nil {
			return err
		}
		defer geom.Destroy()

		for _, attempt := range []func() *geos.Geom{
			func() *geos.Geom { return geom.Buffer(0, 8) },
			func() *geos.Geom { return geom.MakeValid() },
		} {
			fixed := attempt()
			if fixed == nil {
				continue
			}
			if fixed.IsEmpty() || !fixed.IsValid() {
				fixed.Destroy()
				continue
			}
			mp, err := fromGEOS(fixed)
			fixed.Destroy()
			if err != nil {
				return err
			}
			if len(mp) > 0 {
				repaired = mp
				return nil
			}
		}
		return nil
	})
	if err != nil || len(repaired) == 0 {
		return nil, false
	}
	return repaired, true
}

// unionAll dissolves a set of polygonal features into one MultiPolygon.
func unionAll(parts []orb.MultiPolygon) (orb.MultiPolygon, error) {
	var all orb.MultiPolygon
	for _, p := range parts {
		all = append(all, p...)
	}
	if len(all) <= 1 {
		return all, nil
	}

	var out orb.MultiPolygon
	err := withGEOS(func(gctx *geos.Context) error {
		geom, err := toGEOS(gctx, all)
		if err != nil {
			return err
		}
		defer geom.Destroy()
		if !geom.IsValid() {
			if fixed := geom.Buffer(0, 8); fixed != nil {
				defer fixed.Destroy()
				geom = fixed
			}
		}
		u := geom.UnaryUnion()
		if u == nil {
			return fmt.Errorf("%w: union returned no geometry", ErrGEOS)
		}
		defer u.Destroy()
		out, err = fromGEOS(u)
		return err
	})
	return out, err
}

// intersectionArea returns the planar area of a ∩ b. Both inputs must already
// be in a projected, equal-area coordinate system.
func intersectionArea(a, b orb.Geometry) (float64, error) {
	var area float64
	err := withGEOS(func(gctx *geos.Context) error {
		ga, err := toGEOS(gctx, a)
		if err != nil {
			return err
		}
		defer ga.Destroy()
		gb, err := toGEOS(gctx, b)
		if err != nil {
			return err
		}
		defer gb.Destroy()

		// Invalid inputs make overlay operations throw; clean them first.
		if !ga.IsValid() {
			if fixed := ga.Buffer(0, 8); fixed != nil {
				defer fixed.Destroy()
				ga = fixed
			}
		}
		if !gb.IsValid() {
			if fixed := gb.Buffer(0, 8); fixed != nil {
				defer fixed.Destroy()
				gb = fixed
			}
		}

		inter := ga.Intersection(gb)
		if inter == nil {
			return nil
		}
		defer inter.Destroy()
		area = inter.Area()
		return nil
	})
	return area, err
}
