// Package normalize turns loosely shaped raw records into canonical events.
package normalize

import (
	"math"
	"sync"

	"civsphere/event-ingester/internal/model"
)

var (
	titleKeys       = []string{"title", "headline", "name"}
	descriptionKeys = []string{"description", "summary", "content", "text", "notes"}
	dateKeys        = []string{"date", "publishedAt", "published", "pubDate", "event_date", "created_at", "timestamp", "time", "seendate"}
	latKeys         = []string{"lat", "latitude"}
	lngKeys         = []string{"lng", "lon", "longitude"}
	importanceKeys  = []string{"importance", "priority"}
	participantKeys = []string{"participants", "actors"}
	sourceKeys      = []string{"sources", "source_url", "url", "link"}
	idKeys          = []string{"id", "_id", "uuid", "guid"}
	categoryKeys    = []string{"category", "event_type"}
)

const defaultImportance = 5

var sharedClassifier = NewKeywordClassifier()

// Normalizer converts raw records into canonical events. The zero value
// parses dates automatically and uses the built-in keyword tables.
type Normalizer struct {
	DateFormat string
	Classifier Classifier
	IDs        *Sequence
}

// Normalize never fails: missing or invalid fields get defaults or are left
// empty for the validator to judge.
func (n *Normalizer) Normalize(raw model.RawRecord) model.Event {
	cls := n.Classifier
	if cls == nil {
		cls = sharedClassifier
	}
	e := model.Event{
		Title:       raw.String(titleKeys...),
		Description: raw.String(descriptionKeys...),
		Impact:      raw.String("impact"),
		Country:     raw.String("country"),
		SourceID:    raw.String(model.RawRecordSourceKey),
	}
	e.Date = NormalizeDate(raw.String(dateKeys...), n.DateFormat)

	text := e.Title + " " + e.Description
	if c := raw.String(categoryKeys...); c != "" {
		e.Category = mapLabel(cls.Category, c)
	} else {
		e.Category = cls.Category(text)
	}
	switch r := raw.String("region"); {
	case r != "":
		e.Region = mapLabel(cls.Region, r)
	case e.Country != "":
		if e.Region = cls.Region(e.Country); e.Region == "" {
			e.Region = cls.Region(text)
		}
	default:
		e.Region = cls.Region(text)
	}

	var latSet, lngSet bool
	e.Lat, latSet = coord(raw, latKeys)
	e.Lng, lngSet = coord(raw, lngKeys)
	if !latSet && !lngSet {
		region := e.Region
		if region == "" {
			region = model.DefaultRegion
		}
		if lat, lng, ok := RegionCentroid(region); ok {
			e.Lat, e.Lng = model.Float(lat), model.Float(lng)
			e.Approximate = true
		}
	}

	e.Importance = importance(raw)
	if v, ok := raw.Value(participantKeys...); ok {
		e.Participants = StringList(v)
	}
	if v, ok := raw.Value(sourceKeys...); ok {
		e.Sources = StringList(v)
	}
	n.assignID(&e, raw)
	return e
}

// NormalizeAll maps Normalize over raws.
func (n *Normalizer) NormalizeAll(raws []model.RawRecord) []model.Event {
	out := make([]model.Event, 0, len(raws))
	for _, r := range raws {
		out = append(out, n.Normalize(r))
	}
	return out
}

func (n *Normalizer) assignID(e *model.Event, raw model.RawRecord) {
	v, ok := raw.Value(idKeys...)
	if ok {
		if f, isNum := Float(v); isNum && f > 0 && f == math.Trunc(f) && f < 1<<53 {
			e.ID = int64(f)
			if n.IDs != nil {
				n.IDs.Observe(e.ID)
			}
			return
		}
		e.OriginalID = scalarString(v)
	}
	if n.IDs != nil {
		e.ID = n.IDs.Next()
	}
}

// mapLabel runs an explicit label through the classifier; unmapped values pass through.
func mapLabel(classify func(string) string, value string) string {
	if mapped := classify(value); mapped != "" {
		return mapped
	}
	return value
}

// coord reports whether any of keys is present. A present value that is
// not a finite number comes back as NaN so the validator rejects it.
func coord(raw model.RawRecord, keys []string) (*float64, bool) {
	v, ok := raw.Value(keys...)
	if !ok {
		return nil, false
	}
	f, ok := Float(v)
	if !ok {
		f = math.NaN()
	}
	return &f, true
}

func importance(raw model.RawRecord) int {
	if v, ok := raw.Value(importanceKeys...); ok {
		if i, ok := Int(v); ok {
			return Clamp(i, 1, 10)
		}
	}
	if v, ok := raw.Value("confidence"); ok {
		if f, ok := Float(v); ok {
			return Clamp(int(math.Round(f*10)), 1, 10)
		}
	}
	return defaultImportance
}

// Sequence mints monotonically increasing event ids.
type Sequence struct {
	mu   sync.Mutex
	last int64
}

// NewSequence starts after seed, typically the store's highest id.
func NewSequence(seed int64) *Sequence {
	return &Sequence{last: seed}
}

func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Observe moves the sequence past an externally supplied id.
func (s *Sequence) Observe(id int64) {
	s.mu.Lock()
	if id > s.last {
		s.last = id
	}
	s.mu.Unlock()
}
