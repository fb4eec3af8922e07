package boundary

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReviewRenderer_RenderSVG(t *testing.T) {
	r := NewReviewRenderer(t.TempDir(), false)
	var buf bytes.Buffer
	if err := r.RenderSVG(&buf, square(-122.5, 37.7, 0.05), square(-122.49, 37.7, 0.05)); err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Errorf("output is not SVG: %.80s", buf.String())
	}
}

func TestReviewRenderer_RenderPNG(t *testing.T) {
	r := NewReviewRenderer(t.TempDir(), true)
	item := ReviewItem{LayerA: "a", LayerB: "b", NameA: "Council", NameB: "Council Wards", IoUScore: 0.8, NameSimilarity: 0.7}
	var buf bytes.Buffer
	if err := r.RenderPNG(&buf, item, square(-122.5, 37.7, 0.05), square(-122.49, 37.7, 0.05)); err != nil {
		t.Fatalf("RenderPNG() error: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Errorf("empty image: %v", img.Bounds())
	}
}

func TestReviewRenderer_WriteSheet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sheets")
	r := NewReviewRenderer(dir, true)
	item := ReviewItem{LayerA: "https://a.example.gov/0", LayerB: "https://b.example.gov/0"}

	paths, err := r.WriteSheet(item, square(0, 0, 1), square(0.5, 0, 1))
	if err != nil {
		t.Fatalf("WriteSheet() error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want svg and png", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	// File names are stable per pair.
	if filepath.Base(paths[0]) != sheetName(item)+".svg" {
		t.Errorf("unexpected name %s", paths[0])
	}
}

func TestReviewRenderer_NeedsBothGeometries(t *testing.T) {
	r := NewReviewRenderer(t.TempDir(), false)
	var buf bytes.Buffer
	if err := r.RenderSVG(&buf, nil, square(0, 0, 1)); err == nil {
		t.Error("expected error for missing geometry")
	}
}
