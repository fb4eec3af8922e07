package boundary

import (
	"testing"
)

func TestPriorityOf(t *testing.T) {
	table := DefaultAuthorityTable()

	tests := []struct {
		url  string
		want int
	}{
		{"https://gis.sanjoseca.gov/arcgis/rest/services/Council/MapServer/0", 100},
		{"https://maps.army.mil/arcgis/rest/services/x/0", 90},
		{"https://gis.co.marin.ca.us/server/rest/services/x/0", 85},
		{"https://data.gov.uk/x", 85},
		{"https://gis.stanford.edu/x", 60},
		{"https://maps.example.org/x", 50},
		{"https://services3.arcgis.com/abc/arcgis/rest/services/x/FeatureServer/0", 30},
		{"https://services.arcgis.com/abc/arcgis/rest/services/x/FeatureServer/0", 45},
		{"https://data-marin.opendata.arcgis.com/datasets/x", 40},
		{"https://www.arcgis.com/apps/mapviewer/index.html", 30},
		{"https://www.arcgis.com/home/item.html?id=abc", 10},
		{"https://someone.github.io/boundaries/x", 15},
		{"https://example.com/x", DefaultPriority},
		{"not a url", DefaultPriority},
		{"", DefaultPriority},
	}
	for _, tt := range tests {
		if got := table.PriorityOf(tt.url); got != tt.want {
			t.Errorf("PriorityOf(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestPriorityOf_LabelBoundary(t *testing.T) {
	table := NewAuthorityTable(map[string]int{"arcgis.com": 30}, 5)
	if got := table.PriorityOf("https://notarcgis.com/x"); got != 5 {
		t.Errorf("PriorityOf(notarcgis.com) = %d, want fallback 5", got)
	}
	if got := table.PriorityOf("https://ARCGIS.com/x"); got != 30 {
		t.Errorf("PriorityOf(ARCGIS.com) = %d, want 30", got)
	}
}

func TestAuthorityTable_MergeAndFallback(t *testing.T) {
	base := DefaultAuthorityTable()
	merged := base.Merge(map[string]int{"example.com": 70}).WithFallback(0)

	if got := merged.PriorityOf("https://gis.example.com/x"); got != 70 {
		t.Errorf("merged PriorityOf = %d, want 70", got)
	}
	if got := merged.PriorityOf("https://unknown.net/x"); got != 0 {
		t.Errorf("merged fallback = %d, want 0", got)
	}
	// The base table is not modified.
	if got := base.PriorityOf("https://gis.example.com/x"); got != DefaultPriority {
		t.Errorf("base PriorityOf = %d, want %d", got, DefaultPriority)
	}
}

func TestDomainOf(t *testing.T) {
	if got := DomainOf("https://GIS.Example.gov:8443/arcgis/rest"); got != "gis.example.gov" {
		t.Errorf("DomainOf() = %q", got)
	}
	if got := DomainOf("::bad"); got != "" {
		t.Errorf("DomainOf(bad) = %q, want empty", got)
	}
}

func TestPriorityLabel(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{100, "official"},
		{85, "official"},
		{60, "institutional"},
		{35, "platform"},
		{DefaultPriority, "community"},
		{10, "community"},
	}
	for _, tt := range tests {
		if got := PriorityLabel(tt.priority); got != tt.want {
			t.Errorf("PriorityLabel(%d) = %q, want %q", tt.priority, got, tt.want)
		}
	}
}
