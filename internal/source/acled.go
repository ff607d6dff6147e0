package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
)

const acledEndpoint = "https://api.acleddata.com/acled/read"

type acledSource struct {
	base
	key, email string
}

type acledResponse struct {
	Success *bool            `json:"success"`
	Error   any              `json:"error"`
	Data    []map[string]any `json:"data"`
}

var acledCategories = map[string]string{
	"battles":                    model.CategoryConflict,
	"explosions/remote violence": model.CategoryConflict,
	"violence against civilians": model.CategoryConflict,
	"protests":                   model.CategoryPolitical,
	"riots":                      model.CategoryPolitical,
	"strategic developments":     model.CategoryPolitical,
}

// Fetch pulls the last N days of ACLED conflict events.
func (s *acledSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	u, err := url.Parse(s.urlOr(acledEndpoint))
	if err != nil {
		return nil, fmt.Errorf("acled url: %w", err)
	}
	days, err := strconv.Atoi(s.desc.Param("days", "7"))
	if err != nil || days <= 0 {
		days = 7
	}
	now := time.Now().UTC()
	q := u.Query()
	q.Set("key", s.key)
	q.Set("email", s.email)
	q.Set("limit", s.desc.Param("limit", "500"))
	q.Set("event_date", now.AddDate(0, 0, -days).Format("2006-01-02")+"|"+now.Format("2006-01-02"))
	q.Set("event_date_where", "BETWEEN")
	if c := s.desc.Param("country", ""); c != "" {
		q.Set("country", c)
	}
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var resp acledResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("acled decode: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("acled: request rejected: %v", resp.Error)
	}
	out := make([]model.RawRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		eventType := pickStr(d, "event_type")
		sub := pickStr(d, "sub_event_type")
		location := strings.Trim(strings.Join([]string{pickStr(d, "location"), pickStr(d, "country")}, ", "), ", ")
		title := eventType
		if sub != "" && !strings.EqualFold(sub, eventType) {
			title += ": " + sub
		}
		if location != "" {
			title += " in " + location
		}
		r := model.RawRecord{
			"title":       title,
			"description": s.text(pickStr(d, "notes")),
			"date":        pickStr(d, "event_date"),
			"lat":         d["latitude"],
			"lng":         d["longitude"],
			"country":     pickStr(d, "country"),
			"importance":  float64(fatalityImportance(d["fatalities"])),
		}
		if id := pickStr(d, "event_id_cnty"); id != "" {
			r["id"] = "acled:" + id
		}
		if c, ok := acledCategories[strings.ToLower(eventType)]; ok {
			r["category"] = c
		}
		if reg := pickStr(d, "region"); reg != "" {
			r["region"] = reg
		}
		var actors []any
		for _, k := range []string{"actor1", "actor2", "assoc_actor_1", "assoc_actor_2"} {
			if a := pickStr(d, k); a != "" {
				actors = append(actors, a)
			}
		}
		if len(actors) > 0 {
			r["participants"] = actors
		}
		if src := pickStr(d, "source"); src != "" {
			r["sources"] = []any{src}
		}
		s.classify(r, title+" "+pickStr(d, "notes"))
		out = append(out, r)
	}
	return out, nil
}

func fatalityImportance(v any) int {
	n, ok := normalize.Int(v)
	switch {
	case !ok || n <= 0:
		return 4
	case n < 10:
		return 6
	case n < 100:
		return 8
	default:
		return 10
	}
}
