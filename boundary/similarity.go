package boundary

import (
	"strings"
	"sync"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// civicTokens are boilerplate words that carry no identity in a layer name.
var civicTokens = map[string]bool{
	"city":     true,
	"town":     true,
	"county":   true,
	"district": true,
	"ward":     true,
	"of":       true,
	"the":      true,
	"precinct": true,
}

// Normalizer reduces layer names to comparable keys. Results are cached per
// distinct input; a Normalizer is safe for concurrent use.
type Normalizer struct {
	cache sync.Map // string -> string
}

// NewNormalizer creates an empty Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize folds accents, lowercases, drops civic boilerplate tokens and
// removes everything that is not a letter or digit.
func (n *Normalizer) Normalize(name string) string {
	if v, ok := n.cache.Load(name); ok {
		return v.(string)
	}
	out := normalizeName(name)
	n.cache.Store(name, out)
	return out
}

func normalizeName(name string) string {
	// Transformers hold state, so a fresh chain is built per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	tokens := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, tok := range tokens {
		if civicTokens[tok] {
			continue
		}
		b.WriteString(tok)
	}
	return b.String()
}

// NameSimilarity returns 1 - editDistance/maxLength over the normalized names.
// It is symmetric, within [0,1], 1 for identical names and 0 when either
// name is blank or normalizes to empty.
func (n *Normalizer) NameSimilarity(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	if a == b {
		return 1
	}
	na, nb := n.Normalize(a), n.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	la, lb := len([]rune(na)), len([]rune(nb))
	dist := levenshtein.ComputeDistance(na, nb)
	sim := 1 - float64(dist)/float64(max(la, lb))
	return min(1, max(0, sim))
}
