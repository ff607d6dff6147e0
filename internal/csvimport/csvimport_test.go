package csvimport

import (
	"testing"
	"time"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
)

func TestParseCSV(t *testing.T) {
	text := "\n\ufeffTitle,Date,Latitude,Lon,Notes\n" +
		"\"Test Event\",\"2024-01-15\",\"50.45\",\"30.52\",\"said \"\"hello\"\"\"\n" +
		"\n" +
		"Short row,2024-01-16\n"
	recs, err := ParseCSV(text)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	first := recs[0]
	if first["title"] != "Test Event" || first["lat"] != "50.45" || first["lng"] != "30.52" {
		t.Fatalf("aliases not applied: %v", first)
	}
	if first["notes"] != `said "hello"` {
		t.Fatalf("doubled quotes: %q", first["notes"])
	}
	if _, ok := recs[1]["lat"]; ok {
		t.Fatalf("short row should leave lat unset: %v", recs[1])
	}
}

func TestParseCSVBlankHeaderKeepsLaterColumns(t *testing.T) {
	recs, err := ParseCSV("title,,date,lat,lng\nPort closed,ignored,2024-01-15,1,2\n")
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	r := recs[0]
	if r["date"] != "2024-01-15" || r["lat"] != "1" || r["lng"] != "2" {
		t.Fatalf("columns after the blank header were dropped: %v", r)
	}
	if _, ok := r[""]; ok {
		t.Fatalf("blank header produced a field: %v", r)
	}
}

func TestParseJSONShapes(t *testing.T) {
	for name, body := range map[string]string{
		"array":  `[{"title":"a"},{"title":"b"},7]`,
		"events": `{"events":[{"title":"a"},{"title":"b"}]}`,
		"data":   `{"data":[{"title":"a"},{"title":"b"}]}`,
	} {
		recs, err := ParseJSON([]byte(body))
		if err != nil || len(recs) != 2 {
			t.Errorf("%s: recs=%d err=%v", name, len(recs), err)
		}
	}
	if _, err := ParseJSON([]byte(`{"items":[]}`)); err == nil {
		t.Error("expected error for object without events/data")
	}
	if _, err := ParseJSON([]byte(`{broken`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestImportCSVExample(t *testing.T) {
	text := "title,date,lat,lng\n\"Test Event\",\"2024-01-15\",\"50.45\",\"30.52\""
	res, err := Import(text, Options{DateFormat: normalize.FormatAuto}, nil, nil, normalize.NewSequence(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid != 1 || res.Skipped != 0 || len(res.Events) != 1 {
		t.Fatalf("result = %+v", res)
	}
	e := res.Events[0]
	if e.Date != "2024-01-15" || *e.Lat != 50.45 || *e.Lng != 30.52 || e.Importance != 5 || e.Category != model.DefaultCategory {
		t.Fatalf("event = %+v", e)
	}
	if e.ID != 1 {
		t.Fatalf("id = %d", e.ID)
	}
}

func TestImportSkipsAndDuplicates(t *testing.T) {
	text := "title,date,lat,lng\n" +
		"A,2024-01-15,1,1\n" +
		"A,2024-01-15,1,1\n" +
		"No date,,1,1\n" +
		"Too far,2024-01-15,95,1\n" +
		"Known,2024-01-20,2,2\n"
	existing := []model.Event{{Title: "Known", Date: "2024-01-20", Lat: model.Float(2), Lng: model.Float(2)}}

	res, err := Import(text, Options{DedupMode: dedup.ModeTitleDateCoords}, existing, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid != 1 || res.Skipped != 2 || res.Duplicates != 2 {
		t.Fatalf("append: %+v", res)
	}
	if got := res.Summary(); got != "Valid: 1. Skipped: 2." {
		t.Fatalf("summary = %q", got)
	}

	res, err = Import(text, Options{DedupMode: dedup.ModeTitleDateCoords, ImportMode: ModeReplace}, existing, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid != 2 || res.Duplicates != 1 {
		t.Fatalf("replace ignores the existing store: %+v", res)
	}
}

func TestImportDefaultToday(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	text := "title,lat,lng\nUndated,1,1\n"

	res, _ := Import(text, Options{}, nil, nil, nil)
	if res.Valid != 0 || res.Skipped != 1 {
		t.Fatalf("undated rows are invalid by default: %+v", res)
	}
	res, _ = Import(text, Options{DefaultToday: true, Now: now}, nil, nil, nil)
	if res.Valid != 1 || res.Events[0].Date != "2024-06-01" {
		t.Fatalf("default today: %+v", res)
	}
}

func TestImportFieldMappingAndFormats(t *testing.T) {
	text := "Headline,When,Latitude,Longitude\nBridge opened,15/01/2024,10,20\n"
	opts := Options{
		DateFormat:   normalize.FormatDMY,
		FieldMapping: map[string]string{"title": "Headline", "date": "When", "lat": "Latitude"},
	}
	res, err := Import(text, opts, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid != 1 || res.Events[0].Title != "Bridge opened" || res.Events[0].Date != "2024-01-15" {
		t.Fatalf("mapping: %+v", res)
	}

	js := `{"events":[{"title":"J","date":"2024-02-02","lat":1,"lng":2,"id":77}]}`
	res, err = Import(js, Options{}, nil, nil, nil)
	if err != nil || res.Valid != 1 || res.Events[0].ID != 77 {
		t.Fatalf("json auto-detect: %+v %v", res, err)
	}
	if _, err := Import(js, Options{Format: "yaml"}, nil, nil, nil); err == nil {
		t.Fatal("expected unknown format error")
	}
}
