package boundary

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteReport renders the plain-text run summary.
func WriteReport(w io.Writer, s RunStats) error {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	rule := strings.Repeat("=", 60)

	line("%s", rule)
	line("BOUNDARY DEDUPLICATION SUMMARY")
	line("%s", rule)
	line("Run ID: %s", s.RunID)
	line("Duration: %s", s.Duration.Round(time.Millisecond))
	line("")

	line("Input")
	line("  Records read:            %d", s.InputRecords)
	line("  Malformed lines:         %d", s.MalformedLines)
	line("  Invalid records:         %d", s.InvalidRecords)
	line("  Exact URL repeats:       %d", s.ExactURLDuplicates)
	line("")

	line("Quality tiers")
	for _, t := range AllTiers {
		line("  %-24s %d", string(t)+":", s.TierCounts[t])
	}
	line("  Eligible for dedup:      %d", s.Eligible)
	line("  Routed to rejects:       %d", s.Rejected)
	line("")

	line("Deduplication")
	line("  Pairs considered:        %d", s.PairsConsidered)
	line("  Skipped (type mismatch): %d", s.SkippedTypeMismatch)
	line("  Skipped (low name sim):  %d", s.SkippedLowName)
	line("  Geometry unavailable:    %d", s.GeometryUnavailable)
	line("  Extent-only comparisons: %d", s.ExtentOnlyComparisons)
	line("  Layers without extent:   %d", s.DegradedIndex)
	line("  Duplicates detected:     %d", s.DuplicatePairs)
	line("  Layers merged:           %d", s.MergedLayers)
	line("  Near-duplicates flagged: %d", s.NearDuplicates)
	line("  Final unique layers:     %d", s.CatalogSize)
	line("")

	line("Geometry fetching")
	line("  HTTP requests:           %d", s.Fetch.Requests)
	line("  Failures:                %d", s.Fetch.Failures)
	line("  Timeouts:                %d", s.Fetch.Timeouts)
	line("  Cache hits:              %d", s.Fetch.CacheHits)
	line("  Coalesced requests:      %d", s.Fetch.Coalesced)
	line("  Skipped features:        %d", s.Fetch.SkippedFeatures)
	line("")

	line("Top authoritative domains")
	if len(s.TopDomains) == 0 {
		line("  (none)")
	}
	for i, d := range s.TopDomains {
		line("  %2d. %-40s priority %3d  layers %d", i+1, d.Domain, d.Priority, d.Layers)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
