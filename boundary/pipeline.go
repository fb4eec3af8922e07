package boundary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Output file names written into the output directory.
const (
	CatalogFile   = "deduplicated_layers.jsonl"
	ReviewFile    = "near_duplicates_for_review.jsonl"
	RejectedFile  = "rejected_layers.jsonl"
	ValidatedFile = "validated_layers.jsonl"
	ReportFile    = "summary_report.txt"

	topDomainCount = 10
)

// Pipeline runs validation and deduplication over one input batch.
type Pipeline struct {
	cfg       *Config
	source    BoundarySource
	validator *Validator
	authority *AuthorityTable
	logger    *slog.Logger
	metrics   *Metrics
	publisher *Publisher
	renderer  *ReviewRenderer
	newRunID  func() string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithPipelineMetrics records run metrics in m.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPublisher announces finished runs through pub.
func WithPublisher(pub *Publisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithAuthority replaces the authority table derived from config.
func WithAuthority(t *AuthorityTable) PipelineOption {
	return func(p *Pipeline) { p.authority = t }
}

// WithRunID fixes how run IDs are generated.
func WithRunID(fn func() string) PipelineOption {
	return func(p *Pipeline) { p.newRunID = fn }
}

// NewPipeline creates a pipeline reading geometry from source. A nil source
// runs with fetching disabled.
func NewPipeline(cfg *Config, source BoundarySource, opts ...PipelineOption) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if source == nil {
		source = NewFetcher(WithFetchDisabled(true))
	}
	p := &Pipeline{
		cfg:      cfg,
		source:   source,
		logger:   slog.New(slog.DiscardHandler),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.authority == nil {
		p.authority = AuthorityFromConfig(cfg)
	}
	p.validator = NewValidator(NewAreaBounds(cfg.AreaBounds), p.logger)
	if cfg.ReviewSheetsDir != "" {
		p.renderer = NewReviewRenderer(cfg.ReviewSheetsDir, cfg.ReviewSheetPNG)
	}
	return p
}

// AuthorityFromConfig builds the authority table with config overrides.
func AuthorityFromConfig(cfg *Config) *AuthorityTable {
	t := DefaultAuthorityTable()
	if cfg == nil {
		return t
	}
	if len(cfg.Authority) > 0 {
		t = t.Merge(cfg.Authority)
	}
	if cfg.DefaultPriority != nil {
		t = t.WithFallback(*cfg.DefaultPriority)
	}
	return t
}

// RunResult holds everything one run produced.
type RunResult struct {
	Catalog  []CatalogEntry
	Review   []ReviewItem
	Rejected []CandidateLayer
	Passing  []CandidateLayer // eligible layers, set by both Run and Validate
	Matches  []DuplicateMatch
	Stats    RunStats
}

// ingested is the validated input split by eligibility.
type ingested struct {
	eligible []CandidateLayer
	rejected []CandidateLayer
}

// ingest reads, collapses exact URL repeats and validates the input.
func (p *Pipeline) ingest(ctx context.Context, r io.Reader, stats *RunStats) (ingested, error) {
	read, err := ReadCandidates(r, p.logger)
	if err != nil {
		return ingested{}, err
	}
	stats.InputRecords = len(read.Layers) + read.Malformed + read.Invalid
	stats.MalformedLines = read.Malformed
	stats.InvalidRecords = read.Invalid

	seen := make(map[string]bool, len(read.Layers))
	layers := make([]CandidateLayer, 0, len(read.Layers))
	for _, l := range read.Layers {
		if seen[l.LayerURL] {
			stats.ExactURLDuplicates++
			continue
		}
		seen[l.LayerURL] = true
		layers = append(layers, l)
	}
	sort.SliceStable(layers, func(i, j int) bool {
		return layers[i].LayerURL < layers[j].LayerURL
	})
	p.logger.Info("input loaded", "layers", len(layers), "malformed", read.Malformed,
		"invalid", read.Invalid, "url_repeats", stats.ExactURLDuplicates)

	proc := BatchProcessor[CandidateLayer, ValidationResult]{
		Concurrency:   p.cfg.MaxConcurrency,
		ProgressEvery: p.cfg.ProgressEvery,
		OnProgress: func(done, total int) {
			p.logger.Info("validation progress", "done", done, "total", total)
		},
	}
	results, err := proc.Run(ctx, layers, func(ctx context.Context, l CandidateLayer) ValidationResult {
		return p.validator.ValidateLayer(ctx, l, p.source, p.cfg.SampleSize)
	})
	if err != nil {
		return ingested{}, fmt.Errorf("validating layers: %w", err)
	}

	var out ingested
	for i := range layers {
		res := results[i]
		layers[i].Validation = &res
		stats.TierCounts[res.QualityTier]++
		p.metrics.observeTier(res.QualityTier)
		if res.QualityTier.Eligible() {
			out.eligible = append(out.eligible, layers[i])
		} else {
			out.rejected = append(out.rejected, layers[i])
		}
	}
	stats.Eligible = len(out.eligible)
	stats.Rejected = len(out.rejected)
	return out, nil
}

// Validate grades the input without deduplicating it.
func (p *Pipeline) Validate(ctx context.Context, r io.Reader) (*RunResult, error) {
	start := time.Now()
	stats := newRunStats(p.newRunID())
	in, err := p.ingest(ctx, r, &stats)
	if err != nil {
		return nil, err
	}
	p.finishStats(&stats, start)
	return &RunResult{Passing: in.eligible, Rejected: in.rejected, Stats: stats}, nil
}

// Run executes the full pipeline: ingest, validate, deduplicate and build
// the provenance ledger. Individual layer failures never abort the run.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (*RunResult, error) {
	start := time.Now()
	stats := newRunStats(p.newRunID())
	logger := p.logger.With("run_id", stats.RunID)

	in, err := p.ingest(ctx, r, &stats)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(p.source, p.authority, NewNormalizer(),
		WithThresholds(p.cfg.Thresholds),
		WithConcurrency(p.cfg.MaxConcurrency),
		WithExtentsOnly(p.cfg.DisableFetch),
		WithProgress(p.cfg.ProgressEvery, func(done, total int) {
			logger.Info("comparison progress", "done", done, "total", total)
		}),
		WithEngineLogger(logger),
		WithEngineMetrics(p.metrics),
	)
	dedup, err := engine.Deduplicate(ctx, in.eligible)
	if err != nil {
		return nil, fmt.Errorf("deduplicating layers: %w", err)
	}

	catalog := BuildLedger(in.eligible, dedup.Plan, p.authority)
	review := buildReviewQueue(in.eligible, dedup, p.authority)

	stats.PairsConsidered = dedup.PairsConsidered
	stats.DegradedIndex = dedup.Degraded
	stats.recordMatches(dedup.Matches)
	stats.MergedLayers = len(dedup.Plan.WinnerOf)
	stats.CatalogSize = len(catalog)
	stats.TopDomains = TopDomains(catalog, topDomainCount)

	if p.renderer != nil && !p.cfg.DisableFetch {
		p.renderSheets(ctx, review)
	}

	p.finishStats(&stats, start)
	p.metrics.observeRun(stats.MergedLayers, stats.CatalogSize, stats.Duration.Seconds())
	logger.Info("run complete", "catalog", stats.CatalogSize, "merged", stats.MergedLayers,
		"near_duplicates", stats.NearDuplicates, "rejected", stats.Rejected)

	return &RunResult{
		Catalog:  catalog,
		Review:   review,
		Rejected: in.rejected,
		Passing:  in.eligible,
		Matches:  dedup.Matches,
		Stats:    stats,
	}, nil
}

func (p *Pipeline) finishStats(stats *RunStats, start time.Time) {
	stats.Duration = time.Since(start)
	if s, ok := p.source.(interface{ Stats() FetchStats }); ok {
		stats.Fetch = s.Stats()
	}
}

// buildReviewQueue lists NEAR_DUPLICATE pairs ordered by URL. Both layers of
// a pair stay in the catalog unless a separate DUPLICATE merged one away,
// which the review reason then states.
func buildReviewQueue(layers []CandidateLayer, dedup DedupResult, authority *AuthorityTable) []ReviewItem {
	items := []ReviewItem{}
	for _, m := range dedup.Matches {
		if m.Classification != NearDuplicate {
			continue
		}
		a, b := layers[m.indexA], layers[m.indexB]
		ia, ib := m.indexA, m.indexB
		if b.LayerURL < a.LayerURL {
			a, b = b, a
			ia, ib = ib, ia
		}

		reason := fmt.Sprintf("iou %.3f and name similarity %.3f fall in the near-duplicate band", m.IoU, m.NameSimilarity)
		for _, side := range []int{ia, ib} {
			if w, ok := dedup.Plan.WinnerOf[side]; ok {
				reason += fmt.Sprintf("; %s merged into %s", layers[side].LayerURL, layers[w].LayerURL)
			}
		}

		items = append(items, ReviewItem{
			LayerA:         a.LayerURL,
			LayerB:         b.LayerURL,
			NameA:          a.LayerName,
			NameB:          b.LayerName,
			DistrictType:   a.DistrictType,
			IoUScore:       roundScore(m.IoU),
			NameSimilarity: roundScore(m.NameSimilarity),
			PriorityA:      authority.PriorityOf(a.LayerURL),
			PriorityB:      authority.PriorityOf(b.LayerURL),
			ReviewReason:   reason,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LayerA != items[j].LayerA {
			return items[i].LayerA < items[j].LayerA
		}
		return items[i].LayerB < items[j].LayerB
	})
	return items
}

// renderSheets draws review sheets for pairs whose geometry is available.
func (p *Pipeline) renderSheets(ctx context.Context, items []ReviewItem) {
	for _, item := range items {
		a := p.source.FetchBoundary(ctx, item.LayerA)
		b := p.source.FetchBoundary(ctx, item.LayerB)
		if !a.Available || !b.Available {
			continue
		}
		if _, err := p.renderer.WriteSheet(item, a.Geometry, b.Geometry); err != nil {
			p.logger.Warn("review sheet failed", "layer_a", item.LayerA, "layer_b", item.LayerB, "error", err)
		}
	}
}

// WriteOutputs writes the catalog, review queue, rejects and report to dir.
func (r *RunResult) WriteOutputs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, CatalogFile), r.Catalog); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(dir, ReviewFile), r.Review); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(dir, RejectedFile), r.Rejected); err != nil {
		return err
	}
	return r.writeReport(filepath.Join(dir, ReportFile))
}

// WriteValidation writes the passing and rejected layers of a validate run.
func (r *RunResult) WriteValidation(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, ValidatedFile), r.Passing); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, RejectedFile), r.Rejected)
}

func (r *RunResult) writeReport(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := WriteReport(f, r.Stats); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Publish announces the run over MQTT. Failures are logged, never returned.
func (p *Pipeline) Publish(r *RunResult) {
	if !p.publisher.Enabled() {
		return
	}
	if err := p.publisher.PublishSummary(r.Stats, p.cfg.OutputDir); err != nil {
		p.logger.Warn("publishing run summary failed", "error", err)
		return
	}
	if err := p.publisher.PublishReviewItems(r.Stats.RunID, r.Review); err != nil {
		p.logger.Warn("publishing review items failed", "error", err)
	}
}
