package boundary

import (
	"sort"
	"time"
)

// RunStats are the explicit counts of one pipeline run.
type RunStats struct {
	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration_ns"`

	InputRecords       int `json:"input_records"`
	MalformedLines     int `json:"malformed_lines"`
	InvalidRecords     int `json:"invalid_records"`
	ExactURLDuplicates int `json:"exact_url_duplicates"`

	TierCounts map[QualityTier]int `json:"tier_counts"`
	Eligible   int                 `json:"eligible"`
	Rejected   int                 `json:"rejected"`

	PairsConsidered       int `json:"pairs_considered"`
	SkippedTypeMismatch   int `json:"skipped_type_mismatch"`
	SkippedLowName        int `json:"skipped_low_name_similarity"`
	GeometryUnavailable   int `json:"geometry_unavailable_pairs"`
	ExtentOnlyComparisons int `json:"extent_only_comparisons"`
	DuplicatePairs        int `json:"duplicate_pairs"`
	MergedLayers          int `json:"merged_layers"`
	NearDuplicates        int `json:"near_duplicates"`
	DegradedIndex         int `json:"degraded_index_layers"`

	CatalogSize int           `json:"catalog_size"`
	TopDomains  []DomainCount `json:"top_domains"`
	Fetch       FetchStats    `json:"fetch"`
}

func newRunStats(runID string) RunStats {
	counts := make(map[QualityTier]int, len(AllTiers))
	for _, t := range AllTiers {
		counts[t] = 0
	}
	return RunStats{RunID: runID, TierCounts: counts}
}

// recordMatches tallies classified pairs.
func (s *RunStats) recordMatches(matches []DuplicateMatch) {
	for _, m := range matches {
		switch m.SkipReason {
		case SkipTypeMismatch:
			s.SkippedTypeMismatch++
		case SkipLowNameSimilarity:
			s.SkippedLowName++
		}
		if m.GeometryUnavailable {
			s.GeometryUnavailable++
		}
		if m.ExtentOnly {
			s.ExtentOnlyComparisons++
		}
		switch m.Classification {
		case Duplicate:
			s.DuplicatePairs++
		case NearDuplicate:
			s.NearDuplicates++
		}
	}
}

// DomainCount is one row of the top authoritative domains table.
type DomainCount struct {
	Domain   string `json:"domain"`
	Layers   int    `json:"layers"`
	Priority int    `json:"priority"`
}

// TopDomains ranks the domains contributing catalog layers by priority, then
// layer count, then name, and returns at most n of them.
func TopDomains(catalog []CatalogEntry, n int) []DomainCount {
	byDomain := make(map[string]*DomainCount)
	for _, e := range catalog {
		d := DomainOf(e.Provenance.PrimarySource.URL)
		if d == "" {
			continue
		}
		dc, ok := byDomain[d]
		if !ok {
			dc = &DomainCount{Domain: d, Priority: e.Provenance.PrimarySource.Priority}
			byDomain[d] = dc
		}
		dc.Layers++
	}

	out := make([]DomainCount, 0, len(byDomain))
	for _, dc := range byDomain {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Layers != out[j].Layers {
			return out[i].Layers > out[j].Layers
		}
		return out[i].Domain < out[j].Domain
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
