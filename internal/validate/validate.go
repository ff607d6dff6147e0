// Package validate rejects or repairs canonical events.
package validate

import (
	"fmt"
	"math"
	"strings"

	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
)

// Validate reports whether e is usable, repairing soft problems in place.
// Missing title or date, an unparsable date and missing or out-of-range
// coordinates are fatal. categories is the known category name set; when
// empty the default vocabulary is used.
func Validate(e *model.Event, categories []string) bool {
	if e == nil {
		return false
	}
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return false
	}
	date := normalize.NormalizeDate(e.Date, normalize.FormatAuto)
	if date == "" || !normalize.ValidDate(date) {
		return false
	}
	e.Date = date
	if !validCoord(e.Lat, 90) || !validCoord(e.Lng, 180) {
		return false
	}
	*e.Lat = round6(*e.Lat)
	*e.Lng = round6(*e.Lng)

	e.Category = repairCategory(e.Category, categories)
	if e.Region = strings.TrimSpace(e.Region); e.Region == "" {
		e.Region = model.DefaultRegion
	}
	if e.Country = strings.TrimSpace(e.Country); e.Country == "" {
		e.Country = model.DefaultCountry
	}
	if e.Importance == 0 {
		e.Importance = 5
	}
	e.Importance = normalize.Clamp(e.Importance, 1, 10)
	e.Participants = uniq(e.Participants)
	e.Sources = uniq(e.Sources)
	return true
}

func validCoord(v *float64, limit float64) bool {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return false
	}
	return *v >= -limit && *v <= limit
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func repairCategory(c string, known []string) string {
	if len(known) == 0 {
		known = model.CategoryNames(model.DefaultCategories())
	}
	c = strings.TrimSpace(c)
	for _, k := range known {
		if k == c {
			return c
		}
	}
	for _, k := range known {
		if strings.EqualFold(k, c) {
			return k
		}
	}
	for _, k := range known {
		if k == model.DefaultCategory {
			return k
		}
	}
	return known[0]
}

// uniq trims, drops empties and removes duplicates keeping first-seen order.
func uniq(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Report is the outcome of a batch normalize-and-validate pass.
type Report struct {
	Events  []model.Event
	Valid   int
	Skipped int
}

// Summary is the short diagnostic shown to users.
func (r Report) Summary() string {
	return fmt.Sprintf("Valid: %d. Skipped: %d.", r.Valid, r.Skipped)
}

// Batch normalizes raws with n and keeps the events that pass Validate.
func Batch(n *normalize.Normalizer, raws []model.RawRecord, categories []string) Report {
	rep := Report{Events: make([]model.Event, 0, len(raws))}
	for _, raw := range raws {
		e := n.Normalize(raw)
		if !Validate(&e, categories) {
			rep.Skipped++
			continue
		}
		rep.Events = append(rep.Events, e)
	}
	rep.Valid = len(rep.Events)
	return rep
}
