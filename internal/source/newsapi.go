package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"civsphere/event-ingester/internal/model"
)

const newsAPIEndpoint = "https://newsapi.org/v2/everything"

type newsAPISource struct {
	base
	key string
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (s *newsAPISource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	u, err := url.Parse(s.urlOr(newsAPIEndpoint))
	if err != nil {
		return nil, fmt.Errorf("newsapi url: %w", err)
	}
	q := u.Query()
	if q.Get("q") == "" && !strings.HasSuffix(u.Path, "/top-headlines") {
		q.Set("q", s.desc.Param("query", "geopolitics OR conflict OR sanctions OR election"))
	}
	q.Set("language", s.desc.Param("language", "en"))
	q.Set("pageSize", s.desc.Param("page_size", "100"))
	if strings.HasSuffix(u.Path, "/everything") {
		q.Set("sortBy", "publishedAt")
	}
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String(), map[string]string{"X-Api-Key": s.key})
	if err != nil {
		return nil, err
	}
	var resp newsAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("newsapi decode: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("newsapi %s: %s", resp.Code, resp.Message)
	}
	out := make([]model.RawRecord, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		title := s.text(a.Title)
		if title == "" || title == "[Removed]" {
			continue
		}
		desc := s.text(firstNonEmpty(a.Description, a.Content))
		text := title + " " + desc
		r := model.RawRecord{
			"title":       title,
			"description": desc,
			"date":        a.PublishedAt,
			"importance":  float64(headlineImportance(a.Source.Name, text)),
			"impact":      impactScope(text),
		}
		if a.URL != "" {
			r["sources"] = []any{a.URL}
		}
		if p := participants(text); len(p) > 0 {
			r["participants"] = p
		}
		s.classify(r, text)
		out = append(out, r)
	}
	return out, nil
}
