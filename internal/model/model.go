package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is the canonical representation shared by every source.
type Event struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Impact       string   `json:"impact"`
	Date         string   `json:"date"` // YYYY-MM-DD
	Category     string   `json:"category"`
	Region       string   `json:"region"`
	Country      string   `json:"country"`
	Lat          *float64 `json:"lat"` // nil means "no location", never 0
	Lng          *float64 `json:"lng"`
	Importance   int      `json:"importance"`
	Participants []string `json:"participants"`
	Sources      []string `json:"sources"`

	OriginalID  string `json:"_originalId,omitempty"` // non-numeric external id
	SourceID    string `json:"source,omitempty"`      // descriptor id that produced it
	Approximate bool   `json:"approximate,omitempty"` // coordinates are a region centroid
}

// HasLocation reports whether both coordinates are set.
func (e Event) HasLocation() bool { return e.Lat != nil && e.Lng != nil }

// Float returns a pointer to v; handy for building coordinates.
func Float(v float64) *float64 { return &v }

// RawRecordSourceKey tags a raw record with the descriptor id that produced it.
const RawRecordSourceKey = "_source"

// RawRecord is a loosely shaped record produced by an adapter.
type RawRecord map[string]any

// String returns the first non-empty key rendered as a trimmed string.
func (r RawRecord) String(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Value returns the first present, non-nil key.
func (r RawRecord) Value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

// Category is one entry of the controlled category vocabulary.
type Category struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
	Icon  string `json:"icon" yaml:"icon"`
	Count int    `json:"count" yaml:"-"`
}

// SourceDescriptor configures one external feed.
type SourceDescriptor struct {
	ID             string            `yaml:"id"`
	Type           string            `yaml:"type"` // adapter selector
	URL            string            `yaml:"url"`
	Priority       int               `yaml:"priority"` // lower wins
	Interval       time.Duration     `yaml:"interval"`
	CORSProxy      string            `yaml:"cors_proxy"`      // e.g. https://proxy.example/?url={url}
	DirectFallback bool              `yaml:"direct_fallback"` // retry without proxy on failure
	Params         map[string]string `yaml:"params"`
}

// Param returns an adapter parameter or def.
func (d SourceDescriptor) Param(key, def string) string {
	if v := strings.TrimSpace(d.Params[key]); v != "" {
		return v
	}
	return def
}

// SourceState is the runtime scheduling state of a source.
type SourceState struct {
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
}
