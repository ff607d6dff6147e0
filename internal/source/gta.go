package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"civsphere/event-ingester/internal/model"
)

const gtaEndpoint = "https://api.globaltradealert.org/api/v2/gta/data/"

// Date filters tried in order when the configured one returns nothing.
var gtaDateFilters = []string{"announcement_period", "update_period", "submission_period"}

// gtaSource reads trade interventions from Global Trade Alert.
type gtaSource struct {
	base
	key string
}

type gtaRequest struct {
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset"`
	Sorting     string         `json:"sorting"`
	RequestData map[string]any `json:"request_data"`
}

func (s *gtaSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	days, err := strconv.Atoi(s.desc.Param("days", "7"))
	if err != nil || days <= 0 {
		days = 7
	}
	limit, err := strconv.Atoi(s.desc.Param("limit", "200"))
	if err != nil || limit <= 0 {
		limit = 200
	}
	maxPages, err := strconv.Atoi(s.desc.Param("max_pages", "5"))
	if err != nil || maxPages <= 0 {
		maxPages = 5
	}
	now := time.Now().UTC()
	window := []string{now.AddDate(0, 0, -days).Format("2006-01-02"), now.Format("2006-01-02")}

	filters := []string{s.desc.Param("date_filter", gtaDateFilters[0])}
	for _, f := range gtaDateFilters {
		if f != filters[0] {
			filters = append(filters, f)
		}
	}

	var rows []map[string]any
	for _, filter := range filters {
		for page := 0; page < maxPages; page++ {
			batch, err := s.page(ctx, gtaRequest{
				Limit:       limit,
				Offset:      page * limit,
				Sorting:     "-intervention_id",
				RequestData: map[string]any{filter: window},
			})
			if err != nil {
				return nil, err
			}
			rows = append(rows, batch...)
			if len(batch) < limit {
				break
			}
		}
		if len(rows) > 0 {
			break
		}
	}

	out := make([]model.RawRecord, 0, len(rows))
	for _, m := range rows {
		if r := s.record(m); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *gtaSource) page(ctx context.Context, req gtaRequest) ([]map[string]any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	body, err := s.post(ctx, s.urlOr(gtaEndpoint), payload, map[string]string{"Authorization": "APIKey " + s.key})
	if err != nil {
		return nil, err
	}
	return gtaRows(body)
}

// gtaRows accepts a {count, results} wrapper or a bare array, flattening
// one level of nested arrays.
func gtaRows(body []byte) ([]map[string]any, error) {
	var wrapped struct {
		Results []any `json:"results"`
	}
	var items []any
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Results != nil {
		items = wrapped.Results
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("gta: unrecognized response shape (len=%d)", len(body))
	}
	var out []map[string]any
	for _, it := range items {
		switch v := it.(type) {
		case map[string]any:
			out = append(out, v)
		case []any:
			for _, sub := range v {
				if m, ok := sub.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
	}
	return out, nil
}

func (s *gtaSource) record(m map[string]any) model.RawRecord {
	title := s.text(pickStr(m, "state_act_title", "intervention_title"))
	if title == "" {
		return nil
	}
	iso, names := gtaImplementers(m)
	kind := pickStr(m, "intervention_type")
	eval := pickStr(m, "gta_evaluation")
	desc := strings.Trim(strings.Join([]string{kind, eval}, " · "), " ·")

	r := model.RawRecord{
		"title":       title,
		"description": desc,
		"date":        pickStr(m, "date_announced", "date_published"),
		"category":    model.CategoryEconomic,
		"importance":  float64(gtaImportance(eval)),
	}
	if id := pickStr(m, "intervention_id"); id != "" {
		r["id"] = "gta:" + id
	}
	if u := pickStr(m, "intervention_url", "state_act_url"); u != "" {
		r["sources"] = []any{u}
	}
	if len(names) > 0 {
		r["country"] = names[0]
		ps := make([]any, len(names))
		for i, n := range names {
			ps[i] = n
		}
		r["participants"] = ps
	} else if iso != "" {
		r["country"] = iso
	}
	s.classify(r, r.String("country")+" "+title)
	return r
}

// gtaImplementers returns the first implementer's ISO code and every
// implementer name, across the shapes the API has used.
func gtaImplementers(m map[string]any) (string, []string) {
	var (
		iso   string
		names []string
	)
	for _, key := range []string{"implementing_jurisdictions", "implementers"} {
		arr, _ := m[key].([]any)
		for _, it := range arr {
			switch v := it.(type) {
			case string:
				if iso == "" {
					iso = strings.ToUpper(v)
				}
			case map[string]any:
				if iso == "" {
					iso = strings.ToUpper(pickStr(v, "iso3", "iso2", "code"))
				}
				if n := pickStr(v, "name"); n != "" {
					names = append(names, n)
				}
			}
		}
		if iso != "" || len(names) > 0 {
			return iso, names
		}
	}
	return strings.ToUpper(pickStr(m, "implementer_iso3", "implementer_iso2")), nil
}

// gtaImportance ranks harmful (red) interventions above liberalising ones.
func gtaImportance(evaluation string) int {
	switch strings.ToLower(evaluation) {
	case "red":
		return 7
	case "amber":
		return 6
	case "green":
		return 4
	default:
		return 5
	}
}
