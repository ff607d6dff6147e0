package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"civsphere/event-ingester/internal/model"
)

type xmlSource struct {
	base
}

// Fetch reads <event> elements of a custom schema and falls back to feed
// parsing when the document has none.
func (s *xmlSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	body, err := s.get(ctx, s.desc.URL, map[string]string{"Accept": "application/xml, text/xml"})
	if err != nil {
		return nil, err
	}
	recs, err := s.parseEvents(body)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs, nil
	}
	return s.parseFeed(body)
}

type xmlChild struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []xmlChild `xml:",any"`
}

func (b base) parseEvents(body []byte) ([]model.RawRecord, error) {
	dec := newXMLDecoder(body)
	var out []model.RawRecord
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, "event") {
			continue
		}
		var node xmlChild
		if err := dec.DecodeElement(&node, &se); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, b.eventRecord(node))
	}
}

// eventRecord flattens one <event>: attributes and leaf children become
// string fields, repeated or nested children become lists.
func (b base) eventRecord(n xmlChild) model.RawRecord {
	r := model.RawRecord{}
	for _, a := range n.Attrs {
		r[a.Name.Local] = strings.TrimSpace(a.Value)
	}
	for _, c := range n.Children {
		key := c.XMLName.Local
		var val any
		if len(c.Children) > 0 {
			list := make([]any, 0, len(c.Children))
			for _, gc := range c.Children {
				list = append(list, strings.TrimSpace(gc.Text))
			}
			val = list
		} else {
			val = b.text(c.Text)
		}
		switch prev := r[key].(type) {
		case nil:
			r[key] = val
		case []any:
			r[key] = append(prev, val)
		default:
			r[key] = []any{prev, val}
		}
	}
	return r
}
