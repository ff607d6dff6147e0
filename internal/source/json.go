package source

import (
	"context"

	"civsphere/event-ingester/internal/csvimport"
	"civsphere/event-ingester/internal/model"
)

type jsonSource struct {
	base
}

// Fetch accepts an array of objects or an object with an events or data array.
func (s *jsonSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	body, err := s.get(ctx, s.desc.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	return csvimport.ParseJSON(body)
}

type csvSource struct {
	base
}

// Fetch reads a header-driven CSV document.
func (s *csvSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	body, err := s.get(ctx, s.desc.URL, map[string]string{"Accept": "text/csv, text/plain"})
	if err != nil {
		return nil, err
	}
	return csvimport.ParseCSV(string(body))
}
