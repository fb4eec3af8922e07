package boundary

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// square returns an axis-aligned square polygon with its lower-left corner
// at (x, y).
func square(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}}
}

func extentOf(g orb.MultiPolygon) *Extent {
	b := g.Bound()
	return &Extent{XMin: b.Min.X(), YMin: b.Min.Y(), XMax: b.Max.X(), YMax: b.Max.Y()}
}

func layer(url, name, districtType string, g orb.MultiPolygon) CandidateLayer {
	l := CandidateLayer{
		LayerURL:     url,
		LayerName:    name,
		DistrictType: districtType,
		GeometryType: "esriGeometryPolygon",
		Fields:       []string{"DISTRICT"},
	}
	if g != nil {
		l.Extent = extentOf(g)
	}
	return l
}

// fakeSource serves fixed geometries and counts fetches.
type fakeSource struct {
	mu       sync.Mutex
	shapes   map[string]orb.MultiPolygon
	samples  map[string][]orb.MultiPolygon
	disabled bool

	boundaryFetches atomic.Int64
	sampleFetches   atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		shapes:  make(map[string]orb.MultiPolygon),
		samples: make(map[string][]orb.MultiPolygon),
	}
}

// add registers g as both the boundary and the single sampled feature of url.
func (s *fakeSource) add(url string, g orb.MultiPolygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes[url] = g
	if _, ok := s.samples[url]; !ok {
		s.samples[url] = []orb.MultiPolygon{g}
	}
}

func (s *fakeSource) setSample(url string, features ...orb.MultiPolygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[url] = features
}

func (s *fakeSource) FetchSample(_ context.Context, url string, n int) Sample {
	s.sampleFetches.Add(1)
	if s.disabled {
		return Sample{Disabled: true, Reason: reasonFetchDisabled}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	features, ok := s.samples[url]
	if !ok {
		return Sample{Reason: "not found"}
	}
	if len(features) > n {
		features = features[:n]
	}
	return Sample{Geometries: features, Available: true}
}

func (s *fakeSource) FetchBoundary(_ context.Context, url string) Boundary {
	s.boundaryFetches.Add(1)
	if s.disabled {
		return Boundary{Disabled: true, Reason: reasonFetchDisabled}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.shapes[url]
	if !ok {
		return Boundary{Reason: "not found"}
	}
	return Boundary{Geometry: g, Available: true}
}
