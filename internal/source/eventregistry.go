package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"civsphere/event-ingester/internal/model"
)

const eventRegistryEndpoint = "https://eventregistry.org/api/v1/event/getEvents"

type eventRegistrySource struct {
	base
	key string
}

type eventRegistryResponse struct {
	Error  string `json:"error"`
	Events struct {
		Results []map[string]any `json:"results"`
	} `json:"events"`
}

// Fetch asks Event Registry for recent clustered events with locations.
func (s *eventRegistrySource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	count, err := strconv.Atoi(s.desc.Param("count", "50"))
	if err != nil || count <= 0 {
		count = 50
	}
	req := map[string]any{
		"apiKey":               s.key,
		"resultType":           "events",
		"eventsSortBy":         "date",
		"eventsCount":          count,
		"lang":                 s.desc.Param("lang", "eng"),
		"keyword":              s.desc.Param("query", "geopolitics"),
		"includeEventLocation": true,
		"includeEventSummary":  true,
		"includeEventConcepts": true,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("eventregistry request: %w", err)
	}
	body, err := s.post(ctx, s.urlOr(eventRegistryEndpoint), payload, nil)
	if err != nil {
		return nil, err
	}
	var resp eventRegistryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("eventregistry decode: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("eventregistry: %s", resp.Error)
	}
	out := make([]model.RawRecord, 0, len(resp.Events.Results))
	for _, ev := range resp.Events.Results {
		title := s.text(multilang(ev["title"]))
		if title == "" {
			continue
		}
		summary := s.text(multilang(ev["summary"]))
		r := model.RawRecord{
			"title":       title,
			"description": truncate(summary, 1000),
			"date":        pickStr(ev, "eventDate"),
		}
		if uri := pickStr(ev, "uri"); uri != "" {
			r["uri"] = uri
			r["sources"] = []any{"https://eventregistry.org/event/" + uri}
		}
		if loc := pickMap(ev, "location"); loc != nil {
			r["lat"], r["lng"] = loc["lat"], loc["long"]
			if c := pickMap(loc, "country"); c != nil {
				r["country"] = multilang(c["label"])
			}
		}
		var actors []any
		concepts, _ := ev["concepts"].([]any)
		for _, it := range concepts {
			c, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t := pickStr(c, "type"); t == "person" || t == "org" {
				if name := multilang(c["label"]); name != "" {
					actors = append(actors, name)
				}
			}
		}
		if len(actors) > 0 {
			r["participants"] = actors
		}
		var cats []string
		categories, _ := ev["categories"].([]any)
		for _, it := range categories {
			if c, ok := it.(map[string]any); ok {
				cats = append(cats, strings.ReplaceAll(pickStr(c, "label"), "/", " "))
			}
		}
		text := title + " " + summary + " " + strings.Join(cats, " ")
		r["importance"] = float64(headlineImportance("", text))
		r["impact"] = impactScope(text)
		s.classify(r, text)
		out = append(out, r)
	}
	return out, nil
}

// multilang reads Event Registry's {"eng": "..."} labels, or a plain string.
func multilang(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s := pickStr(t, "eng"); s != "" {
			return s
		}
		for _, x := range t {
			if s, ok := x.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
