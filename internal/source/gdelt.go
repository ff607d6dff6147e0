package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"civsphere/event-ingester/internal/model"
)

const gdeltEndpoint = "https://api.gdeltproject.org/api/v2/doc/doc"

type gdeltSource struct {
	base
}

type gdeltResponse struct {
	Articles []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		SeenDate      string `json:"seendate"` // 20240115T120000Z
		Domain        string `json:"domain"`
		Language      string `json:"language"`
		SourceCountry string `json:"sourcecountry"`
	} `json:"articles"`
}

// Fetch queries the GDELT DOC 2.0 article list.
func (s *gdeltSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	u, err := url.Parse(s.urlOr(gdeltEndpoint))
	if err != nil {
		return nil, fmt.Errorf("gdelt url: %w", err)
	}
	q := u.Query()
	if q.Get("query") == "" {
		q.Set("query", s.desc.Param("query", "(conflict OR war OR election OR sanctions OR treaty) sourcelang:english"))
	}
	q.Set("mode", "artlist")
	q.Set("format", "json")
	q.Set("maxrecords", s.desc.Param("max_records", "75"))
	q.Set("timespan", s.desc.Param("timespan", "1d"))
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// GDELT answers an empty search with an empty body or {}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var resp gdeltResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gdelt decode: %w", err)
	}
	out := make([]model.RawRecord, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		title := s.text(a.Title)
		if title == "" {
			continue
		}
		r := model.RawRecord{
			"title":    title,
			"date":     a.SeenDate,
			"sources":  []any{a.URL},
			"domain":   a.Domain,
			"language": a.Language,
		}
		if p := participants(title); len(p) > 0 {
			r["participants"] = p
		}
		s.classify(r, title)
		out = append(out, r)
	}
	return out, nil
}
