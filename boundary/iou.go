package boundary

import (
	"bytes"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
)

// GeometricIoU returns intersection area over union area of two WGS84
// boundaries, measured in one shared equal-area projection. Missing or empty
// geometry yields 0; identical geometry yields exactly 1.
func GeometricIoU(a, b orb.MultiPolygon) float64 {
	iou, _ := computeIoU(a, b)
	return iou
}

func computeIoU(a, b orb.MultiPolygon) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	if orb.Equal(a, b) {
		return 1, nil
	}

	// Fixed operand order makes IoU(a,b) and IoU(b,a) bit-identical.
	wa, errA := wkb.Marshal(a)
	wb, errB := wkb.Marshal(b)
	if errA == nil && errB == nil && bytes.Compare(wa, wb) > 0 {
		a, b = b, a
	}

	a, ok := prepareForOverlay(a)
	if !ok {
		return 0, nil
	}
	b, ok = prepareForOverlay(b)
	if !ok {
		return 0, nil
	}

	center := a.Bound().Union(b.Bound()).Center()
	pa := projectEqualArea(a, center)
	pb := projectEqualArea(b, center)

	areaA := math.Abs(planar.Area(pa))
	areaB := math.Abs(planar.Area(pb))
	inter, err := intersectionArea(pa, pb)
	if err != nil {
		return 0, err
	}

	union := areaA + areaB - inter
	if union <= 0 {
		return 0, nil
	}
	return min(1, max(0, inter/union)), nil
}

// prepareForOverlay closes rings and repairs invalid geometry. It reports
// false when the geometry cannot be made usable.
func prepareForOverlay(g orb.MultiPolygon) (orb.MultiPolygon, bool) {
	closed, _ := closeRings(g)
	for _, poly := range closed {
		for _, ring := range poly {
			if len(ring) < 4 {
				return nil, false
			}
		}
	}
	valid, _, err := validity(closed)
	if err != nil {
		return nil, false
	}
	if valid {
		return closed, true
	}
	return RepairGeometry(closed)
}

// ExtentIoU is the bounding-box IoU of two layer extents, used when
// geometry fetching is disabled. Missing or degenerate extents yield 0.
func ExtentIoU(a, b *Extent) float64 {
	ba, okA := a.Bound()
	bb, okB := b.Bound()
	if !okA || !okB || zeroArea(ba) || zeroArea(bb) {
		return 0
	}
	return GeometricIoU(orb.MultiPolygon{ba.ToPolygon()}, orb.MultiPolygon{bb.ToPolygon()})
}

func zeroArea(b orb.Bound) bool {
	return b.Max.X() <= b.Min.X() || b.Max.Y() <= b.Min.Y()
}
