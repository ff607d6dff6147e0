// Package csvimport turns uploaded CSV or JSON text into staged events.
package csvimport

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"civsphere/event-ingester/internal/model"
)

// canonical field names matched case-insensitively in headers
var knownHeaders = map[string]string{
	"title": "title", "description": "description", "summary": "summary",
	"date": "date", "category": "category", "region": "region",
	"country": "country", "importance": "importance", "confidence": "confidence",
	"participants": "participants", "sources": "sources", "impact": "impact",
	"id": "id", "url": "url", "link": "link", "notes": "notes",
	"lat": "lat", "latitude": "lat",
	"lng": "lng", "lon": "lng", "long": "lng", "longitude": "lng",
}

// NormalizeHeader applies the coordinate aliases and lowercases known names.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	if c, ok := knownHeaders[strings.ToLower(h)]; ok {
		return c
	}
	return h
}

// ParseCSV reads a header row followed by data rows. Short rows leave the
// missing columns unset; blank rows are skipped.
func ParseCSV(text string) ([]model.RawRecord, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for i := range header {
		header[i] = NormalizeHeader(header[i])
	}
	var out []model.RawRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
		rec := model.RawRecord{}
		for i, v := range row {
			if i >= len(header) {
				break
			}
			if header[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				rec[header[i]] = v
			}
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
}

// ParseJSON accepts an array of objects or an object with an events or
// data array.
func ParseJSON(body []byte) ([]model.RawRecord, error) {
	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	var arr []any
	switch t := top.(type) {
	case []any:
		arr = t
	case map[string]any:
		for _, k := range []string{"events", "data"} {
			if a, ok := t[k].([]any); ok {
				arr = a
				break
			}
		}
		if arr == nil {
			return nil, errors.New("json object has no events or data array")
		}
	default:
		return nil, fmt.Errorf("unexpected json payload %T", top)
	}
	out := make([]model.RawRecord, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, model.RawRecord(m))
		}
	}
	return out, nil
}
