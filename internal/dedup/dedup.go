// Package dedup computes identity keys for events.
package dedup

import (
	"fmt"
	"strings"
	"unicode"

	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"civsphere/event-ingester/internal/model"
)

// Mode selects how keys are derived.
type Mode string

const (
	ModeOff             Mode = "off"
	ModeTitleDateCoords Mode = "title_date_coords"
	ModeAuto            Mode = "auto"
)

const (
	randomAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	randomLength   = 16
)

// ParseMode accepts the configured mode name; "" means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeOff, ModeTitleDateCoords, ModeAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown dedup mode %q", s)
	}
}

// Key returns the identity key of e. Under ModeOff every call yields a new
// random key so nothing is ever considered a duplicate.
func Key(e model.Event, m Mode) string {
	switch m {
	case ModeOff:
		id, err := nanoid.Generate(randomAlphabet, randomLength)
		if err != nil {
			id = nanoid.Must()
		}
		return "rnd:" + id
	case ModeTitleDateCoords:
		return composite(e)
	default:
		if len(e.Sources) > 0 {
			if u := strings.TrimSpace(e.Sources[0]); isHTTP(u) {
				return "link:" + u
			}
		}
		if oid := strings.TrimSpace(e.OriginalID); oid != "" {
			return "oid:" + oid
		}
		return composite(e)
	}
}

func isHTTP(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func composite(e model.Event) string {
	return fmt.Sprintf("tdl:%s|%s|%s|%s", FoldTitle(e.Title), e.Date, coord(e.Lat), coord(e.Lng))
}

func coord(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", *v)
}

// FoldTitle lowercases, strips diacritics and collapses whitespace so that
// cosmetically different titles share a key.
func FoldTitle(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " ")
}

// Index is a set of keys under a fixed mode.
type Index struct {
	mode Mode
	keys map[string]struct{}
}

// NewIndex seeds an index with the keys of events.
func NewIndex(m Mode, events []model.Event) *Index {
	idx := &Index{mode: m, keys: make(map[string]struct{}, len(events))}
	for _, e := range events {
		idx.Add(e)
	}
	return idx
}

// Has reports whether e's key is already present.
func (i *Index) Has(e model.Event) bool {
	_, ok := i.keys[Key(e, i.mode)]
	return ok
}

// Add records e and reports whether it was new.
func (i *Index) Add(e model.Event) bool {
	k := Key(e, i.mode)
	if _, ok := i.keys[k]; ok {
		return false
	}
	i.keys[k] = struct{}{}
	return true
}

func (i *Index) Len() int { return len(i.keys) }
