package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"civsphere/event-ingester/internal/model"
)

type rssSource struct {
	base
}

// Fetch reads an RSS 2.0, RSS 1.0 or Atom feed.
func (s *rssSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	body, err := s.get(ctx, s.desc.URL, map[string]string{"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"})
	if err != nil {
		return nil, err
	}
	return s.parseFeed(body)
}

type feedDoc struct {
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
	Items   []feedItem  `xml:"item"` // RSS 1.0 keeps items at the root
	Entries []atomEntry `xml:"entry"`
}

type feedItem struct {
	Title       string   `xml:"title"`
	Links       []string `xml:"link"`
	Description string   `xml:"description"`
	Content     string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string   `xml:"pubDate"`
	DCDate      string   `xml:"http://purl.org/dc/elements/1.1/ date"`
	GUID        string   `xml:"guid"`
	Categories  []string `xml:"category"`
	Point       string   `xml:"http://www.georss.org/georss point"`
	GeoLat      string   `xml:"http://www.w3.org/2003/01/geo/wgs84_pos# lat"`
	GeoLong     string   `xml:"http://www.w3.org/2003/01/geo/wgs84_pos# long"`
}

type atomEntry struct {
	Title string `xml:"title"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	ID         string `xml:"id"`
	Summary    string `xml:"summary"`
	Content    string `xml:"content"`
	Updated    string `xml:"updated"`
	Published  string `xml:"published"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Point string `xml:"http://www.georss.org/georss point"`
}

func (b base) parseFeed(body []byte) ([]model.RawRecord, error) {
	var doc feedDoc
	if err := newXMLDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	items := append(doc.Channel.Items, doc.Items...)
	out := make([]model.RawRecord, 0, len(items)+len(doc.Entries))
	for _, it := range items {
		r := model.RawRecord{
			"title":       b.text(it.Title),
			"description": b.text(firstNonEmpty(it.Description, it.Content)),
			"date":        strings.TrimSpace(firstNonEmpty(it.PubDate, it.DCDate)),
		}
		if link := firstNonEmpty(it.Links...); link != "" {
			r["sources"] = []any{strings.TrimSpace(link)}
		}
		if g := strings.TrimSpace(it.GUID); g != "" {
			r["guid"] = g
		}
		setPoint(r, it.Point, it.GeoLat, it.GeoLong)
		b.classify(r, it.Title+" "+it.Description+" "+strings.Join(it.Categories, " "))
		out = append(out, r)
	}
	for _, en := range doc.Entries {
		r := model.RawRecord{
			"title":       b.text(en.Title),
			"description": b.text(firstNonEmpty(en.Summary, en.Content)),
			"date":        strings.TrimSpace(firstNonEmpty(en.Published, en.Updated)),
		}
		link := ""
		for _, l := range en.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		if link != "" {
			r["sources"] = []any{strings.TrimSpace(link)}
		}
		if id := strings.TrimSpace(en.ID); id != "" {
			r["guid"] = id
		}
		setPoint(r, en.Point, "", "")
		terms := make([]string, 0, len(en.Categories))
		for _, c := range en.Categories {
			terms = append(terms, c.Term)
		}
		b.classify(r, en.Title+" "+en.Summary+" "+strings.Join(terms, " "))
		out = append(out, r)
	}
	return out, nil
}

// setPoint copies a georss point ("lat lng") or W3C geo pair into r.
func setPoint(r model.RawRecord, point, lat, lng string) {
	if f := strings.Fields(point); len(f) == 2 {
		r["lat"], r["lng"] = f[0], f[1]
		return
	}
	if lat = strings.TrimSpace(lat); lat != "" {
		r["lat"] = lat
	}
	if lng = strings.TrimSpace(lng); lng != "" {
		r["lng"] = lng
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// newXMLDecoder tolerates sloppy markup and legacy charsets.
func newXMLDecoder(body []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return dec
}
