package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"civsphere/event-ingester/internal/fetch"
	"civsphere/event-ingester/internal/model"
)

type LokiConfig struct {
	URL      string            `yaml:"url"`
	TenantID string            `yaml:"tenant_id"`
	Labels   map[string]string `yaml:"labels"` // static labels added to every stream
}

type lokiSink struct {
	cfg    LokiConfig
	client *fetch.Client
	now    func() time.Time
}

func NewLoki(cfg LokiConfig, client *fetch.Client) Sink {
	if client == nil {
		client = fetch.New(fetch.Options{NoCache: true})
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &lokiSink{cfg: cfg, client: client, now: time.Now}
}

func (l *lokiSink) Name() string { return "loki" }

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// Push groups events into one stream per source, category and region.
func (l *lokiSink) Push(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	// Loki expects ns timestamps as decimal strings, increasing per stream.
	ts := l.now().UnixNano()
	var streams []*lokiStream
	byKey := map[string]*lokiStream{}
	for i, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
		lbls := map[string]string{
			"job":      "event-ingester",
			"source":   labelOr(e.SourceID, "import"),
			"category": e.Category,
			"region":   e.Region,
		}
		for k, v := range l.cfg.Labels {
			lbls[k] = v
		}
		key := lbls["source"] + "\x00" + lbls["category"] + "\x00" + lbls["region"]
		st, ok := byKey[key]
		if !ok {
			st = &lokiStream{Stream: lbls}
			byKey[key] = st
			streams = append(streams, st)
		}
		st.Values = append(st.Values, [2]string{strconv.FormatInt(ts+int64(i), 10), string(line)})
	}

	body, err := json.Marshal(map[string]any{"streams": streams})
	if err != nil {
		return fmt.Errorf("encode loki payload: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if l.cfg.TenantID != "" {
		headers["X-Scope-OrgID"] = l.cfg.TenantID
	}
	_, err = l.client.Do(ctx, fetch.Request{
		URL:     l.cfg.URL + "/loki/api/v1/push",
		Method:  http.MethodPost,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("loki push: %w", err)
	}
	return nil
}

func labelOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
