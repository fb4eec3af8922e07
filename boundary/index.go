package boundary

import (
	"log/slog"
	"slices"

	"github.com/tidwall/rtree"
)

// CandidateIndex is an R-tree over layer extents that limits pairwise
// comparison to layers whose extents intersect. It is built once and is
// read-only afterwards.
type CandidateIndex struct {
	tree      rtree.RTreeG[int]
	bounds    []*[2][2]float64 // nil for layers without a usable extent
	unindexed []int
	logger    *slog.Logger
}

// NewCandidateIndex indexes the extents of layers by their slice position.
// Layers without a usable extent are compared against everything, and that
// degraded path is logged.
func NewCandidateIndex(layers []CandidateLayer, logger *slog.Logger) *CandidateIndex {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	idx := &CandidateIndex{
		bounds: make([]*[2][2]float64, len(layers)),
		logger: logger,
	}
	for i, l := range layers {
		b, ok := l.Extent.Bound()
		if !ok {
			idx.unindexed = append(idx.unindexed, i)
			continue
		}
		box := [2][2]float64{{b.Min.X(), b.Min.Y()}, {b.Max.X(), b.Max.Y()}}
		idx.bounds[i] = &box
		idx.tree.Insert(box[0], box[1], i)
	}
	if len(idx.unindexed) > 0 {
		logger.Warn("layers without usable extent fall back to full comparison",
			"layers", len(idx.unindexed), "total", len(layers), "path", "degraded")
	}
	return idx
}

// Degraded returns how many layers lack a usable extent.
func (idx *CandidateIndex) Degraded() int {
	return len(idx.unindexed)
}

// CandidatesFor returns the indices, ascending and excluding i, of layers
// whose extent intersects layer i's extent. Layers without an extent are
// always candidates, and a query layer without an extent matches everything.
func (idx *CandidateIndex) CandidatesFor(i int) []int {
	box := idx.bounds[i]
	if box == nil {
		out := make([]int, 0, len(idx.bounds)-1)
		for j := range idx.bounds {
			if j != i {
				out = append(out, j)
			}
		}
		return out
	}

	var out []int
	idx.tree.Search(box[0], box[1], func(_, _ [2]float64, j int) bool {
		if j != i {
			out = append(out, j)
		}
		return true
	})
	for _, j := range idx.unindexed {
		if j != i {
			out = append(out, j)
		}
	}
	slices.Sort(out)
	return out
}

// Pairs returns every unordered candidate pair (i<j) exactly once, in
// ascending order.
func (idx *CandidateIndex) Pairs() [][2]int {
	var pairs [][2]int
	for i := range idx.bounds {
		for _, j := range idx.CandidatesFor(i) {
			if j > i {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}
