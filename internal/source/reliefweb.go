package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"civsphere/event-ingester/internal/model"
)

const reliefWebEndpoint = "https://api.reliefweb.int/v1/reports"

type reliefWebSource struct {
	base
}

type reliefWebResponse struct {
	Data []struct {
		ID     string         `json:"id"`
		Href   string         `json:"href"`
		Fields map[string]any `json:"fields"`
	} `json:"data"`
}

var reliefWebFields = []string{
	"title", "date.created", "url_alias", "body",
	"primary_country.name", "primary_country.location",
	"country.name", "disaster_type.name", "source.shortname",
}

// Fetch lists the latest ReliefWeb situation reports. Every report is a
// humanitarian crisis item.
func (s *reliefWebSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	u, err := url.Parse(s.urlOr(reliefWebEndpoint))
	if err != nil {
		return nil, fmt.Errorf("reliefweb url: %w", err)
	}
	q := u.Query()
	q.Set("appname", s.desc.Param("appname", "event-ingester"))
	q.Set("preset", "latest")
	q.Set("limit", s.desc.Param("limit", "50"))
	for _, f := range reliefWebFields {
		q.Add("fields[include][]", f)
	}
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var resp reliefWebResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("reliefweb decode: %w", err)
	}
	out := make([]model.RawRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		f := d.Fields
		title := s.text(pickStr(f, "title"))
		if title == "" {
			continue
		}
		r := model.RawRecord{
			"title":    title,
			"category": model.CategoryCrisis,
		}
		if id := d.ID; id != "" {
			r["id"] = "reliefweb:" + id
		}
		if date := pickMap(f, "date"); date != nil {
			r["date"] = pickStr(date, "created")
		}
		if desc := s.text(pickStr(f, "body")); desc != "" {
			r["description"] = truncate(desc, 1000)
		}
		if link := firstNonEmpty(pickStr(f, "url_alias"), d.Href); link != "" {
			r["sources"] = []any{link}
		}
		if pc := pickMap(f, "primary_country"); pc != nil {
			r["country"] = pickStr(pc, "name")
			if loc := pickMap(pc, "location"); loc != nil {
				r["lat"], r["lng"] = loc["lat"], loc["lon"]
			}
		}
		if types := listNames(f["disaster_type"], "name"); len(types) > 0 {
			r["disaster_type"] = types
		}
		if orgs := listNames(f["source"], "shortname", "name"); len(orgs) > 0 {
			r["participants"] = orgs
		}
		s.classify(r, title+" "+r.String("country"))
		out = append(out, r)
	}
	return out, nil
}

// listNames collects a name key from a list of objects.
func listNames(v any, keys ...string) []any {
	list, _ := v.([]any)
	var out []any
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			if n := pickStr(m, keys...); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}
