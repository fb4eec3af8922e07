package boundary

import (
	"fmt"
	"sort"
	"strings"
)

// BuildLedger assembles the catalog: one entry per surviving layer with its
// provenance record. It is rebuilt in full every run and ordered by URL.
func BuildLedger(layers []CandidateLayer, plan MergePlan, authority *AuthorityTable) []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(layers)-len(plan.WinnerOf))
	for i, layer := range layers {
		if plan.Merged(i) {
			continue
		}
		priority := authority.PriorityOf(layer.LayerURL)
		rec := ProvenanceRecord{
			PrimarySource: SourceRef{
				URL:            layer.LayerURL,
				Priority:       priority,
				DiscoveredDate: layer.DiscoveredDate,
			},
			DuplicateSources: []DuplicateSource{},
		}

		for _, m := range plan.Absorbed[i] {
			li := m.indexB
			if li == i {
				li = m.indexA
			}
			loser := layers[li].LayerURL
			rec.DuplicateSources = append(rec.DuplicateSources, DuplicateSource{
				URL:            loser,
				IoU:            roundScore(m.IoU),
				NameSimilarity: roundScore(m.NameSimilarity),
				Priority:       authority.PriorityOf(loser),
			})
		}
		sort.SliceStable(rec.DuplicateSources, func(x, y int) bool {
			return rec.DuplicateSources[x].URL < rec.DuplicateSources[y].URL
		})
		rec.MergeDecision = mergeDecision(rec)

		entries = append(entries, CatalogEntry{Layer: layer, Provenance: rec})
	}

	sort.SliceStable(entries, func(x, y int) bool {
		return entries[x].Layer.LayerURL < entries[y].Layer.LayerURL
	})
	return entries
}

// mergeDecision renders a deterministic, human-readable rationale.
func mergeDecision(rec ProvenanceRecord) string {
	if len(rec.DuplicateSources) == 0 {
		return "retained as sole source"
	}
	p := rec.PrimarySource.Priority
	clauses := make([]string, 0, len(rec.DuplicateSources))
	for _, d := range rec.DuplicateSources {
		var why string
		switch {
		case d.URL == rec.PrimarySource.URL:
			why = "identical URL"
		case p > d.Priority:
			why = fmt.Sprintf("higher authority priority (%d > %d)", p, d.Priority)
		default:
			why = fmt.Sprintf("equal authority priority (%d), lexicographically smaller URL", p)
		}
		clauses = append(clauses, fmt.Sprintf("%s [iou=%.3f, name=%.3f]: %s", d.URL, d.IoU, d.NameSimilarity, why))
	}
	return fmt.Sprintf("retained over %d duplicate(s): %s", len(rec.DuplicateSources), strings.Join(clauses, "; "))
}
