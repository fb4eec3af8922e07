package boundary

import (
	"context"
	"log/slog"
	"sort"
)

// Classification is the verdict of one pairwise comparison.
type Classification string

const (
	Duplicate     Classification = "DUPLICATE"
	NearDuplicate Classification = "NEAR_DUPLICATE"
	Distinct      Classification = "DISTINCT"
)

// SkipReason names a cheap short-circuit that ended a comparison before any
// geometry was fetched. It is not an error.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipTypeMismatch      SkipReason = "type mismatch"
	SkipLowNameSimilarity SkipReason = "low name similarity"
)

// DuplicateMatch is the symmetric relation computed for one pair of layers.
type DuplicateMatch struct {
	LayerA              string         `json:"layer_a"`
	LayerB              string         `json:"layer_b"`
	IoU                 float64        `json:"iou"`
	NameSimilarity      float64        `json:"name_similarity"`
	Classification      Classification `json:"classification"`
	Winner              string         `json:"winner,omitempty"`
	SkipReason          SkipReason     `json:"skip_reason,omitempty"`
	GeometryUnavailable bool           `json:"geometry_unavailable,omitempty"`
	ExtentOnly          bool           `json:"extent_only,omitempty"`

	indexA, indexB int
}

// Thresholds are the score cut-offs used by ClassifyScores.
type Thresholds struct {
	DuplicateIoU     float64 `yaml:"duplicate_iou" json:"duplicate_iou"`           // with DuplicateName
	DuplicateName    float64 `yaml:"duplicate_name" json:"duplicate_name"`         // with DuplicateIoU
	DuplicateIoUOnly float64 `yaml:"duplicate_iou_only" json:"duplicate_iou_only"` // regardless of name
	NearIoU          float64 `yaml:"near_iou" json:"near_iou"`
	NearName         float64 `yaml:"near_name" json:"near_name"`
	MinName          float64 `yaml:"min_name" json:"min_name"` // below this no geometry is fetched
}

// DefaultThresholds returns the production cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DuplicateIoU:     0.9,
		DuplicateName:    0.8,
		DuplicateIoUOnly: 0.95,
		NearIoU:          0.7,
		NearName:         0.6,
		MinName:          0.5,
	}
}

// ClassifyScores maps an IoU and name similarity to a classification.
func ClassifyScores(iou, name float64, th Thresholds) Classification {
	switch {
	case (iou > th.DuplicateIoU && name > th.DuplicateName) || iou > th.DuplicateIoUOnly:
		return Duplicate
	case iou > th.NearIoU && name > th.NearName:
		return NearDuplicate
	}
	return Distinct
}

// Engine compares candidate layers and decides merges.
type Engine struct {
	source     BoundarySource
	authority  *AuthorityTable
	names      *Normalizer
	thresholds Thresholds

	concurrency   int
	progressEvery int
	onProgress    func(done, total int)
	extentsOnly   bool
	logger        *slog.Logger
	metrics       *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithThresholds overrides the classification cut-offs.
func WithThresholds(th Thresholds) EngineOption {
	return func(e *Engine) { e.thresholds = th }
}

// WithConcurrency sets how many pairs are classified at once.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) { e.concurrency = n }
}

// WithProgress reports classification progress every n pairs.
func WithProgress(n int, fn func(done, total int)) EngineOption {
	return func(e *Engine) {
		e.progressEvery = n
		e.onProgress = fn
	}
}

// WithExtentsOnly computes IoU from layer extents instead of fetched geometry.
func WithExtentsOnly(on bool) EngineOption {
	return func(e *Engine) { e.extentsOnly = on }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEngineMetrics records comparison outcomes in m.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. The authority table and normalizer are
// injected so tests can substitute deterministic tables and fake sources.
func NewEngine(source BoundarySource, authority *AuthorityTable, names *Normalizer, opts ...EngineOption) *Engine {
	if authority == nil {
		authority = DefaultAuthorityTable()
	}
	if names == nil {
		names = NewNormalizer()
	}
	e := &Engine{
		source:      source,
		authority:   authority,
		names:       names,
		thresholds:  DefaultThresholds(),
		concurrency: DefaultMaxConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authority returns the engine's priority table.
func (e *Engine) Authority() *AuthorityTable { return e.authority }

// Classify compares two layers, running the cheap checks first so that
// geometry is fetched only for plausible pairs. It never blocks on anything
// but the geometry source and never returns an error.
func (e *Engine) Classify(ctx context.Context, a, b CandidateLayer) DuplicateMatch {
	m := DuplicateMatch{LayerA: a.LayerURL, LayerB: b.LayerURL, Classification: Distinct}

	// 1. Identical URL
	if a.LayerURL == b.LayerURL {
		m.IoU, m.NameSimilarity = 1, 1
		m.Classification = Duplicate
		m.Winner = a.LayerURL
		return m
	}

	// 2. Different district type
	if a.DistrictType != b.DistrictType {
		m.SkipReason = SkipTypeMismatch
		return m
	}

	// 3. Dissimilar names
	m.NameSimilarity = e.names.NameSimilarity(a.LayerName, b.LayerName)
	if m.NameSimilarity < e.thresholds.MinName {
		m.SkipReason = SkipLowNameSimilarity
		return m
	}

	// 4. Geometric overlap
	m.IoU, m.GeometryUnavailable, m.ExtentOnly = e.overlap(ctx, a, b)

	// 5. Classification and winner
	m.Classification = ClassifyScores(m.IoU, m.NameSimilarity, e.thresholds)
	if m.Classification == Duplicate {
		m.Winner = e.winner(a, b)
	}
	return m
}

// overlap returns the IoU of two layers. Unavailable geometry counts as no
// overlap, which biases toward not merging.
func (e *Engine) overlap(ctx context.Context, a, b CandidateLayer) (iou float64, unavailable, extentOnly bool) {
	if e.extentsOnly || e.source == nil {
		return ExtentIoU(a.Extent, b.Extent), false, true
	}

	ga := e.source.FetchBoundary(ctx, a.LayerURL)
	gb := e.source.FetchBoundary(ctx, b.LayerURL)
	if ga.Disabled || gb.Disabled {
		return ExtentIoU(a.Extent, b.Extent), false, true
	}
	if !ga.Available || !gb.Available {
		return 0, true, false
	}

	v, err := computeIoU(ga.Geometry, gb.Geometry)
	if err != nil {
		e.logger.Warn("iou computation failed", "layer_a", a.LayerURL, "layer_b", b.LayerURL, "error", err)
		return 0, true, false
	}
	return v, false, false
}

// winner picks the higher-priority source; equal priorities go to the
// lexicographically smaller URL.
func (e *Engine) winner(a, b CandidateLayer) string {
	pa := e.authority.PriorityOf(a.LayerURL)
	pb := e.authority.PriorityOf(b.LayerURL)
	switch {
	case pa > pb:
		return a.LayerURL
	case pb > pa:
		return b.LayerURL
	case b.LayerURL < a.LayerURL:
		return b.LayerURL
	}
	return a.LayerURL
}

// DedupResult is the outcome of deduplicating one batch of layers.
type DedupResult struct {
	Matches         []DuplicateMatch // every classified pair, in pair order
	Plan            MergePlan
	PairsConsidered int
	Degraded        int // layers compared without an index
}

// Deduplicate classifies every candidate pair from the spatial index in
// parallel, then applies merges in one deterministic sequential pass.
func (e *Engine) Deduplicate(ctx context.Context, layers []CandidateLayer) (DedupResult, error) {
	index := NewCandidateIndex(layers, e.logger)
	pairs := index.Pairs()

	proc := BatchProcessor[[2]int, DuplicateMatch]{
		Concurrency:   e.concurrency,
		ProgressEvery: e.progressEvery,
		OnProgress:    e.onProgress,
	}
	matches, err := proc.Run(ctx, pairs, func(ctx context.Context, p [2]int) DuplicateMatch {
		m := e.Classify(ctx, layers[p[0]], layers[p[1]])
		m.indexA, m.indexB = p[0], p[1]
		return m
	})
	if err != nil {
		return DedupResult{}, err
	}

	for _, m := range matches {
		e.metrics.observeComparison(m.Classification)
	}

	return DedupResult{
		Matches:         matches,
		Plan:            ApplyMerges(layers, matches, e.authority),
		PairsConsidered: len(pairs),
		Degraded:        index.Degraded(),
	}, nil
}

// MergePlan records which layers were merged into which winners.
type MergePlan struct {
	WinnerOf map[int]int              // loser index -> winner index
	Absorbed map[int][]DuplicateMatch // winner index -> matches merged into it
}

// Merged reports whether layer i was merged into another layer.
func (p MergePlan) Merged(i int) bool {
	_, ok := p.WinnerOf[i]
	return ok
}

// rankLayers orders layer indices by priority descending, then URL
// ascending, then input position. rank[i] is layer i's position.
func rankLayers(layers []CandidateLayer, authority *AuthorityTable) []int {
	order := make([]int, len(layers))
	prio := make([]int, len(layers))
	for i := range layers {
		order[i] = i
		prio[i] = authority.PriorityOf(layers[i].LayerURL)
	}
	sort.SliceStable(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if prio[i] != prio[j] {
			return prio[i] > prio[j]
		}
		if layers[i].LayerURL != layers[j].LayerURL {
			return layers[i].LayerURL < layers[j].LayerURL
		}
		return i < j
	})
	rank := make([]int, len(layers))
	for pos, i := range order {
		rank[i] = pos
	}
	return rank
}

// ApplyMerges reduces DUPLICATE matches to a merge plan in one fixed order:
// by winner rank, then loser rank. A pair is skipped when its loser is
// already merged or its winner has itself been merged away, so every loser
// has exactly one winner and no layer is both.
func ApplyMerges(layers []CandidateLayer, matches []DuplicateMatch, authority *AuthorityTable) MergePlan {
	rank := rankLayers(layers, authority)

	type merge struct {
		winner, loser int
		match         DuplicateMatch
	}
	var merges []merge
	for _, m := range matches {
		if m.Classification != Duplicate {
			continue
		}
		w, l := m.indexA, m.indexB
		if m.Winner != layers[m.indexA].LayerURL {
			w, l = l, w
		}
		merges = append(merges, merge{winner: w, loser: l, match: m})
	}
	sort.SliceStable(merges, func(x, y int) bool {
		if rank[merges[x].winner] != rank[merges[y].winner] {
			return rank[merges[x].winner] < rank[merges[y].winner]
		}
		return rank[merges[x].loser] < rank[merges[y].loser]
	})

	plan := MergePlan{WinnerOf: make(map[int]int), Absorbed: make(map[int][]DuplicateMatch)}
	for _, mg := range merges {
		if plan.Merged(mg.loser) || plan.Merged(mg.winner) {
			continue
		}
		if _, isWinner := plan.Absorbed[mg.loser]; isWinner {
			continue
		}
		plan.WinnerOf[mg.loser] = mg.winner
		plan.Absorbed[mg.winner] = append(plan.Absorbed[mg.winner], mg.match)
	}
	return plan
}
