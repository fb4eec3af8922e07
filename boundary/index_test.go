package boundary

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidateIndex_Pairs(t *testing.T) {
	layers := []CandidateLayer{
		layer("https://a.gov/0", "A", "ward", square(0, 0, 1)),
		layer("https://b.gov/0", "B", "ward", square(0.5, 0.5, 1)),
		layer("https://c.gov/0", "C", "ward", square(10, 10, 1)),
		layer("https://d.gov/0", "D", "ward", square(10.2, 10.2, 0.5)),
	}
	idx := NewCandidateIndex(layers, nil)

	assert.Equal(t, [][2]int{{0, 1}, {2, 3}}, idx.Pairs())
	assert.Equal(t, []int{1}, idx.CandidatesFor(0))
	assert.Equal(t, 0, idx.Degraded())
}

func TestCandidateIndex_MissingExtentDegrades(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	layers := []CandidateLayer{
		layer("https://a.gov/0", "A", "ward", square(0, 0, 1)),
		layer("https://b.gov/0", "B", "ward", nil),
		layer("https://c.gov/0", "C", "ward", square(10, 10, 1)),
	}
	idx := NewCandidateIndex(layers, logger)

	assert.Equal(t, 1, idx.Degraded())
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, idx.Pairs())
	assert.Equal(t, []int{0, 2}, idx.CandidatesFor(1))
	if !strings.Contains(buf.String(), "degraded") {
		t.Errorf("expected degraded path warning, got %q", buf.String())
	}
}
