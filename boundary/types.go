package boundary

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// QualityTier is the coarse usability grade assigned to a layer's geometry.
type QualityTier string

const (
	TierHigh     QualityTier = "HIGH_QUALITY"
	TierMedium   QualityTier = "MEDIUM_QUALITY"
	TierLow      QualityTier = "LOW_QUALITY"
	TierRejected QualityTier = "REJECTED"
)

// AllTiers lists tiers from best to worst.
var AllTiers = []QualityTier{TierHigh, TierMedium, TierLow, TierRejected}

// Known reports whether t is one of the defined tiers.
func (t QualityTier) Known() bool {
	switch t {
	case TierHigh, TierMedium, TierLow, TierRejected:
		return true
	}
	return false
}

func (t QualityTier) severity() int {
	switch t {
	case TierHigh:
		return 0
	case TierMedium:
		return 1
	case TierLow:
		return 2
	default:
		return 3
	}
}

// Eligible reports whether a layer with this tier may enter deduplication.
func (t QualityTier) Eligible() bool {
	return t == TierHigh || t == TierMedium
}

// WorstTier returns the more severe of two tiers.
// REJECTED dominates LOW_QUALITY, which dominates MEDIUM_QUALITY, then HIGH_QUALITY.
func WorstTier(a, b QualityTier) QualityTier {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// CheckStatus is the outcome of one geometric check.
type CheckStatus string

const (
	StatusPass     CheckStatus = "PASS"
	StatusWarning  CheckStatus = "WARNING"
	StatusFail     CheckStatus = "FAIL"
	StatusRepaired CheckStatus = "REPAIRED"
	StatusSkipped  CheckStatus = "SKIPPED"
)

// Checks holds the per-check statuses of a validation run, in check order.
type Checks struct {
	CoordinateValidity CheckStatus `json:"coordinate_validity"`
	Degeneracy         CheckStatus `json:"degeneracy"`
	ClosedRings        CheckStatus `json:"closed_rings"`
	SelfIntersection   CheckStatus `json:"self_intersection"`
	AreaBounds         CheckStatus `json:"area_bounds"`
}

func skippedChecks() Checks {
	return Checks{
		CoordinateValidity: StatusSkipped,
		Degeneracy:         StatusSkipped,
		ClosedRings:        StatusSkipped,
		SelfIntersection:   StatusSkipped,
		AreaBounds:         StatusSkipped,
	}
}

// ValidationResult is the geometric quality verdict attached to a layer.
type ValidationResult struct {
	QualityTier     QualityTier `json:"quality_tier"`
	Checks          Checks      `json:"checks"`
	AreaKm2         float64     `json:"area_km2"`
	Issues          []string    `json:"issues"`
	RepairAttempted bool        `json:"repair_attempted"`
	FeaturesSampled int         `json:"features_sampled,omitempty"`
	Source          string      `json:"source,omitempty"` // "computed" or "upstream"
}

const (
	validationComputed = "computed"
	validationUpstream = "upstream"
)

func (r *ValidationResult) addIssue(issue string) {
	for _, existing := range r.Issues {
		if existing == issue {
			return
		}
	}
	r.Issues = append(r.Issues, issue)
}

// SpatialReference identifies the coordinate system of an ArcGIS extent.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Extent is a layer's bounding box as reported by its service.
type Extent struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Web Mercator WKIDs used by ArcGIS services.
var webMercatorWKIDs = map[int]bool{3857: true, 102100: true, 102113: true, 900913: true}

// Bound converts the extent to a WGS84 orb.Bound. Extents in Web Mercator are
// unprojected; other projected systems and malformed boxes report false.
func (e *Extent) Bound() (orb.Bound, bool) {
	if e == nil {
		return orb.Bound{}, false
	}
	for _, v := range []float64{e.XMin, e.YMin, e.XMax, e.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return orb.Bound{}, false
		}
	}
	if e.XMin > e.XMax || e.YMin > e.YMax {
		return orb.Bound{}, false
	}

	minPt := orb.Point{e.XMin, e.YMin}
	maxPt := orb.Point{e.XMax, e.YMax}
	if sr := e.SpatialReference; sr != nil {
		wkid := sr.LatestWKID
		if wkid == 0 {
			wkid = sr.WKID
		}
		switch {
		case wkid == 0 || wkid == 4326 || wkid == 4269:
		case webMercatorWKIDs[wkid]:
			minPt = project.Mercator.ToWGS84(minPt)
			maxPt = project.Mercator.ToWGS84(maxPt)
		default:
			return orb.Bound{}, false
		}
	}

	if minPt.Lon() < -180 || maxPt.Lon() > 180 || minPt.Lat() < -90 || maxPt.Lat() > 90 {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: minPt, Max: maxPt}, true
}

// CandidateLayer is one candidate boundary layer produced by the crawler.
// Its identity is LayerURL. Input keys this package does not model are kept
// in Extra and written back out unchanged.
type CandidateLayer struct {
	LayerURL       string            `json:"layer_url"`
	LayerName      string            `json:"layer_name"`
	DistrictType   string            `json:"district_type"`
	GeometryType   string            `json:"geometry_type,omitempty"`
	Fields         []string          `json:"fields"`
	Extent         *Extent           `json:"extent,omitempty"`
	DiscoveredDate string            `json:"discovered_date,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// candidateFields aliases CandidateLayer without its methods so the custom
// codecs below can reuse the struct tags.
type candidateFields CandidateLayer

var candidateKeys = map[string]bool{
	"layer_url": true, "layer_name": true, "district_type": true, "geometry_type": true,
	"fields": true, "extent": true, "discovered_date": true, "validation": true,
}

// UnmarshalJSON decodes a candidate record, keeping unknown keys in Extra.
func (l *CandidateLayer) UnmarshalJSON(data []byte) error {
	var known candidateFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = CandidateLayer(known)
	for k, v := range raw {
		if candidateKeys[k] {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]json.RawMessage)
		}
		l.Extra[k] = v
	}
	return nil
}

// fieldMap flattens the layer into a key/value map. encoding/json sorts map
// keys, so records built from it serialize deterministically.
func (l CandidateLayer) fieldMap() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(candidateFields(l))
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(l.Extra)+8)
	for k, v := range l.Extra {
		out[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		out[k] = v
	}
	return out, nil
}

// MarshalJSON encodes the layer including any preserved upstream keys.
func (l CandidateLayer) MarshalJSON() ([]byte, error) {
	m, err := l.fieldMap()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Validate checks the fields a candidate must carry to be processed.
func (l *CandidateLayer) Validate() error {
	if l.LayerURL == "" {
		return fmt.Errorf("%w: layer_url is required", ErrInvalidRecord)
	}
	if l.DistrictType == "" {
		return fmt.Errorf("%w: district_type is required for %s", ErrInvalidRecord, l.LayerURL)
	}
	return nil
}

// SourceRef names the source retained for a catalog entry.
type SourceRef struct {
	URL            string `json:"url"`
	Priority       int    `json:"priority"`
	DiscoveredDate string `json:"discovered_date,omitempty"`
}

// DuplicateSource is a layer merged into a catalog entry.
type DuplicateSource struct {
	URL            string  `json:"url"`
	IoU            float64 `json:"iou"`
	NameSimilarity float64 `json:"name_similarity"`
	Priority       int     `json:"priority"`
}

// ProvenanceRecord is the audit record of one surviving catalog layer.
type ProvenanceRecord struct {
	PrimarySource    SourceRef         `json:"primary_source"`
	DuplicateSources []DuplicateSource `json:"duplicate_sources"`
	MergeDecision    string            `json:"merge_decision"`
}

// CatalogEntry is one line of deduplicated_layers.jsonl.
type CatalogEntry struct {
	Layer      CandidateLayer
	Provenance ProvenanceRecord
}

// MarshalJSON writes the layer's fields with the provenance record alongside.
func (e CatalogEntry) MarshalJSON() ([]byte, error) {
	m, err := e.Layer.fieldMap()
	if err != nil {
		return nil, err
	}
	prov, err := json.Marshal(e.Provenance)
	if err != nil {
		return nil, err
	}
	m["provenance"] = prov
	return json.Marshal(m)
}

// ReviewItem is one line of near_duplicates_for_review.jsonl.
type ReviewItem struct {
	LayerA         string  `json:"layer_a"`
	LayerB         string  `json:"layer_b"`
	NameA          string  `json:"name_a"`
	NameB          string  `json:"name_b"`
	DistrictType   string  `json:"district_type"`
	IoUScore       float64 `json:"iou_score"`
	NameSimilarity float64 `json:"name_similarity"`
	PriorityA      int     `json:"priority_a"`
	PriorityB      int     `json:"priority_b"`
	ReviewReason   string  `json:"review_reason"`
}

// roundScore keeps scores readable in the outputs without losing the
// threshold-relevant precision.
func roundScore(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
