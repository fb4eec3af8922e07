package boundary

import (
	"net/url"
	"sort"
	"strings"
)

// DefaultPriority is assigned to sources matching no table entry.
const DefaultPriority = 20

// PriorityLabel names the authority band a priority falls in.
func PriorityLabel(p int) string {
	switch {
	case p >= 85:
		return "official"
	case p >= 50:
		return "institutional"
	case p >= 25:
		return "platform"
	}
	return "community"
}

// defaultAuthority ranks official government portals highest and
// community-uploaded hosting lowest. Keys are host suffixes, optionally
// followed by a path prefix.
var defaultAuthority = map[string]int{
	".gov":                 100,
	".mil":                 90,
	".us":                  85,
	".gov.uk":              85,
	".gc.ca":               85,
	".gov.au":              85,
	".edu":                 60,
	".org":                 50,
	"services.arcgis.com":  45,
	"opendata.arcgis.com":  40,
	"hub.arcgis.com":       35,
	"arcgis.com":           30,
	"maps.arcgis.com":      25,
	"github.io":            15,
	"arcgis.com/home/item": 10,
}

// AuthorityTable maps domain suffixes to trust priorities (0-100). It is
// constructed once and read-only afterwards.
type AuthorityTable struct {
	entries  map[string]int
	keys     []string // longest first
	fallback int
}

// DefaultAuthorityTable returns the built-in table.
func DefaultAuthorityTable() *AuthorityTable {
	return NewAuthorityTable(defaultAuthority, DefaultPriority)
}

// NewAuthorityTable builds a table from suffix entries and a fallback priority.
func NewAuthorityTable(entries map[string]int, fallback int) *AuthorityTable {
	t := &AuthorityTable{entries: make(map[string]int, len(entries)), fallback: fallback}
	for k, v := range entries {
		t.entries[strings.ToLower(strings.TrimSpace(k))] = v
	}
	t.sortKeys()
	return t
}

func (t *AuthorityTable) sortKeys() {
	t.keys = t.keys[:0]
	for k := range t.entries {
		t.keys = append(t.keys, k)
	}
	sort.Slice(t.keys, func(i, j int) bool {
		if len(t.keys[i]) != len(t.keys[j]) {
			return len(t.keys[i]) > len(t.keys[j])
		}
		return t.keys[i] < t.keys[j]
	})
}

// Merge returns a copy of the table with overrides applied.
func (t *AuthorityTable) Merge(overrides map[string]int) *AuthorityTable {
	merged := make(map[string]int, len(t.entries)+len(overrides))
	for k, v := range t.entries {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return NewAuthorityTable(merged, t.fallback)
}

// WithFallback returns a copy of the table using a different default priority.
func (t *AuthorityTable) WithFallback(fallback int) *AuthorityTable {
	return NewAuthorityTable(t.entries, fallback)
}

// DomainOf returns the lowercased host of a URL, or "" when it has none.
func DomainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// PriorityOf returns the priority of the longest table entry matching the
// URL, or the fallback when none match.
func (t *AuthorityTable) PriorityOf(rawURL string) int {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return t.fallback
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return t.fallback
	}
	target := host + strings.ToLower(u.EscapedPath())

	for _, key := range t.keys {
		if matchesKey(host, target, key) {
			return t.entries[key]
		}
	}
	return t.fallback
}

// matchesKey matches "suffix" against the host, and "suffix/path" against
// the host plus path prefix. Suffixes match whole labels only.
func matchesKey(host, target, key string) bool {
	suffix, path, hasPath := strings.Cut(key, "/")
	if !hostHasSuffix(host, suffix) {
		return false
	}
	if !hasPath {
		return true
	}
	return strings.Contains(target, suffix+"/"+path)
}

func hostHasSuffix(host, suffix string) bool {
	if strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix)
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
