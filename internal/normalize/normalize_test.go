package normalize

import (
	"math"
	"reflect"
	"testing"

	"civsphere/event-ingester/internal/model"
)

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		format string
		want   string
	}{
		{"ymd round trip", "2024-01-15", FormatYMD, "2024-01-15"},
		{"ymd mismatch", "15/01/2024", FormatYMD, ""},
		{"dmy", "15/01/2024", FormatDMY, "2024-01-15"},
		{"mdy", "01/15/2024", FormatMDY, "2024-01-15"},
		{"mdy invalid month", "15/01/2024", FormatMDY, ""},
		{"iso with time", "2024-01-15T22:10:00Z", FormatISO, "2024-01-15"},
		{"iso rejects bare date", "2024-01-15", FormatISO, ""},
		{"auto rfc3339", "2024-03-02T10:00:00+02:00", FormatAuto, "2024-03-02"},
		{"auto offset crosses midnight", "Mon, 15 Jan 2024 22:00:00 -0500", "", "2024-01-16"},
		{"auto same instant in utc", "20240116T030000Z", "", "2024-01-16"},
		{"auto rfc3339 east of utc", "2024-03-02T01:30:00+05:30", "", "2024-03-01"},
		{"iso offset uses utc day", "2024-01-15T22:10:00-05:00", FormatISO, "2024-01-16"},
		{"auto rfc1123", "Mon, 15 Jan 2024 08:00:00 GMT", "", "2024-01-15"},
		{"auto rss numeric zone", "Mon, 15 Jan 2024 08:00:00 +0000", "", "2024-01-15"},
		{"auto gdelt", "20240115T120000Z", "", "2024-01-15"},
		{"auto epoch seconds", "1705276800", "", "2024-01-15"},
		{"auto epoch millis", "1705276800000", "", "2024-01-15"},
		{"auto garbage", "next tuesday", "", ""},
		{"empty", "  ", FormatYMD, ""},
		{"invalid calendar day", "2024-02-30", FormatYMD, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeDate(tc.value, tc.format); got != tc.want {
				t.Fatalf("NormalizeDate(%q, %q) = %q, want %q", tc.value, tc.format, got, tc.want)
			}
		})
	}
}

func TestStringList(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"array", []any{" NATO ", "EU", nil, ""}, []string{"NATO", "EU"}},
		{"json-ish", "['NATO', 'Ukraine']", []string{"NATO", "Ukraine"}},
		{"plain string", "Russia, Ukraine", []string{"Russia, Ukraine"}},
		{"broken brackets", "[not json", []string{"[not json"}},
		{"number", 42.0, []string{"42"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StringList(tc.in)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("StringList(%v) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeCSVRow(t *testing.T) {
	n := &Normalizer{DateFormat: FormatAuto, IDs: NewSequence(100)}
	e := n.Normalize(model.RawRecord{"title": "Test Event", "date": "2024-01-15", "lat": "50.45", "lng": "30.52"})
	if e.Date != "2024-01-15" {
		t.Fatalf("date = %q", e.Date)
	}
	if e.Lat == nil || *e.Lat != 50.45 || e.Lng == nil || *e.Lng != 30.52 {
		t.Fatalf("coords = %v,%v", e.Lat, e.Lng)
	}
	if e.Importance != 5 {
		t.Fatalf("importance = %d, want 5", e.Importance)
	}
	if e.Approximate {
		t.Fatal("explicit coordinates marked approximate")
	}
	if e.ID != 101 {
		t.Fatalf("minted id = %d, want 101", e.ID)
	}
}

func TestNormalizeImportance(t *testing.T) {
	n := &Normalizer{}
	cases := []struct {
		raw  model.RawRecord
		want int
	}{
		{model.RawRecord{"importance": 8.0}, 8},
		{model.RawRecord{"importance": "12"}, 10},
		{model.RawRecord{"priority": -3.0}, 1},
		{model.RawRecord{"confidence": 0.74}, 7},
		{model.RawRecord{"confidence": "0.05"}, 1},
		{model.RawRecord{"importance": "high", "confidence": 0.9}, 9},
		{model.RawRecord{}, 5},
	}
	for _, tc := range cases {
		if got := n.Normalize(tc.raw).Importance; got != tc.want {
			t.Errorf("importance for %v = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeLabels(t *testing.T) {
	n := &Normalizer{}

	e := n.Normalize(model.RawRecord{"title": "Ceasefire talks collapse", "region": "the Middle East", "category": "armed conflict"})
	if e.Region != model.RegionMiddleEast {
		t.Errorf("region = %q", e.Region)
	}
	if e.Category != model.CategoryConflict {
		t.Errorf("category = %q", e.Category)
	}

	e = n.Normalize(model.RawRecord{"title": "Migration summit", "description": "Leaders from Africa and Europe meet"})
	if e.Region != model.RegionEuropeAfrica {
		t.Errorf("hybrid region = %q", e.Region)
	}

	e = n.Normalize(model.RawRecord{"title": "x", "region": "Atlantis", "category": "Folklore"})
	if e.Region != "Atlantis" || e.Category != "Folklore" {
		t.Errorf("unmapped labels should pass through, got %q / %q", e.Region, e.Category)
	}

	e = n.Normalize(model.RawRecord{"title": "Neutral parties debate", "description": "no regional words"})
	if e.Region != "" {
		t.Errorf("substring of a word must not match, got region %q", e.Region)
	}
}

func TestNormalizeCoordinates(t *testing.T) {
	n := &Normalizer{}

	e := n.Normalize(model.RawRecord{"title": "Kyiv drone strike"})
	if !e.Approximate || e.Lat == nil || *e.Lat != 48.3794 || *e.Lng != 31.1656 {
		t.Fatalf("centroid fallback = %v,%v approx=%v", e.Lat, e.Lng, e.Approximate)
	}

	e = n.Normalize(model.RawRecord{"title": "Equator survey", "lat": 0.0, "lng": 0.0})
	if e.Approximate || e.Lat == nil || *e.Lat != 0 || *e.Lng != 0 {
		t.Fatalf("zero coordinates must be kept as a real location")
	}

	e = n.Normalize(model.RawRecord{"title": "Half", "lat": 12.5})
	if e.Lng != nil || e.Approximate {
		t.Fatalf("single coordinate must not be completed")
	}

	e = n.Normalize(model.RawRecord{"title": "Kyiv drone strike", "lat": "abc", "lng": "xyz"})
	if e.Approximate || e.Lat == nil || !math.IsNaN(*e.Lat) || !math.IsNaN(*e.Lng) {
		t.Fatalf("unparsable coordinates must not fall back to a centroid: %v,%v approx=%v", e.Lat, e.Lng, e.Approximate)
	}

	e = n.Normalize(model.RawRecord{"title": "Far north", "latitude": "95", "longitude": "10"})
	if e.Lat == nil || *e.Lat != 95 {
		t.Fatalf("out-of-range latitude must be kept for validation, got %v", e.Lat)
	}
}

func TestNormalizeIDs(t *testing.T) {
	seq := NewSequence(10)
	n := &Normalizer{IDs: seq}

	e := n.Normalize(model.RawRecord{"id": 42.0})
	if e.ID != 42 || e.OriginalID != "" {
		t.Fatalf("numeric id: %+v", e)
	}
	e = n.Normalize(model.RawRecord{"guid": "urn:abc"})
	if e.OriginalID != "urn:abc" || e.ID != 43 {
		t.Fatalf("opaque id: id=%d oid=%q", e.ID, e.OriginalID)
	}
	e = n.Normalize(model.RawRecord{"id": "17"})
	if e.ID != 17 {
		t.Fatalf("numeric string id = %d", e.ID)
	}
	if next := seq.Next(); next != 44 {
		t.Fatalf("sequence went backwards: %d", next)
	}
}

func TestNormalizeAliases(t *testing.T) {
	n := &Normalizer{}
	e := n.Normalize(model.RawRecord{
		"headline":     "Trade pact signed",
		"summary":      "Two economies agree",
		"publishedAt":  "2024-05-01T09:00:00Z",
		"actors":       []any{"A", "B", "A"},
		"url":          "https://example.org/a",
		"_source":      "newsapi",
		"event_type":   "treaty",
		"latitude":     1.0,
		"longitude":    2.0,
		"notes":        "ignored, summary wins",
		"seendate":     "ignored",
		"participants": nil,
	})
	if e.Title != "Trade pact signed" || e.Description != "Two economies agree" {
		t.Fatalf("text aliases: %+v", e)
	}
	if e.Date != "2024-05-01" {
		t.Fatalf("date alias: %q", e.Date)
	}
	if !reflect.DeepEqual(e.Participants, []string{"A", "B", "A"}) {
		t.Fatalf("participants: %v", e.Participants)
	}
	if !reflect.DeepEqual(e.Sources, []string{"https://example.org/a"}) {
		t.Fatalf("sources: %v", e.Sources)
	}
	if e.SourceID != "newsapi" || e.Category != model.CategoryAlliance {
		t.Fatalf("source=%q category=%q", e.SourceID, e.Category)
	}
}

func TestKeywordClassifierExtraRulesWin(t *testing.T) {
	kc := NewKeywordClassifier(KeywordRule{When: []string{"coup"}, Category: model.CategoryConflict})
	if got := kc.Category("military coup in the capital"); got != model.CategoryConflict {
		t.Fatalf("got %q", got)
	}
	kc = NewKeywordClassifier(KeywordRule{When: []string{"election", "fraud"}, Category: model.CategoryCrisis})
	if got := kc.Category("election fraud alleged"); got != model.CategoryCrisis {
		t.Fatalf("multi-word rule: %q", got)
	}
	if got := kc.Category("election held"); got != model.CategoryPolitical {
		t.Fatalf("fallback to defaults: %q", got)
	}
}
