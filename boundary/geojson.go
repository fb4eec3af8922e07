package boundary

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// serviceError is the error object ArcGIS returns with an HTTP 200 status.
type serviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// queryPage is one page of a layer query in GeoJSON format. Features are kept
// raw so a single malformed feature does not discard the page.
type queryPage struct {
	Type                  string            `json:"type"`
	Features              []json.RawMessage `json:"features"`
	ExceededTransferLimit bool              `json:"exceededTransferLimit"`
	Properties            struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
	} `json:"properties"`
	Error *serviceError `json:"error,omitempty"`
}

// featurePage is the parsed content of one query page.
type featurePage struct {
	Polygons []orb.MultiPolygon
	Skipped  int
	HasMore  bool
}

// parseQueryPage decodes a query response. Non-polygonal or malformed
// features are skipped and counted.
func parseQueryPage(body []byte) (featurePage, error) {
	var page queryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return featurePage{}, fmt.Errorf("%w: parsing query response: %v", ErrFetch, err)
	}
	if page.Error != nil {
		return featurePage{}, fmt.Errorf("%w: service error %d: %s", ErrFetch, page.Error.Code, page.Error.Message)
	}
	if page.Type != "" && page.Type != "FeatureCollection" {
		return featurePage{}, fmt.Errorf("%w: unexpected response type %q", ErrFetch, page.Type)
	}

	out := featurePage{HasMore: page.ExceededTransferLimit || page.Properties.ExceededTransferLimit}
	for _, raw := range page.Features {
		mp, err := featureMultiPolygon(raw)
		if err != nil {
			out.Skipped++
			continue
		}
		out.Polygons = append(out.Polygons, mp)
	}
	return out, nil
}

// featureMultiPolygon extracts the polygonal geometry of one GeoJSON feature.
func featureMultiPolygon(raw []byte) (orb.MultiPolygon, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometryParse, err)
	}
	if f.Geometry == nil {
		return nil, fmt.Errorf("%w: feature has no geometry", ErrGeometryParse)
	}
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	case orb.MultiPolygon:
		return g, nil
	}
	return nil, fmt.Errorf("%w: unsupported geometry type %s", ErrGeometryParse, f.Geometry.GeoJSONType())
}

// closeRings returns a copy of mp with every ring closed, and whether any
// ring needed closing.
func closeRings(mp orb.MultiPolygon) (orb.MultiPolygon, bool) {
	changed := false
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := append(orb.Ring(nil), ring...)
			if len(r) > 0 && !r[0].Equal(r[len(r)-1]) {
				r = append(r, r[0])
				changed = true
			}
			out[i][j] = r
		}
	}
	return out, changed
}
