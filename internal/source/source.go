// Package source holds one adapter per external feed type. Adapters only
// fetch bytes and shape them into raw records; normalization happens later.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"civsphere/event-ingester/internal/fetch"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
)

var (
	// ErrMissingCredentials means an adapter needs an API key that was not supplied.
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnknownType        = errors.New("unknown source type")
)

type Source interface {
	ID() string
	Fetch(ctx context.Context) ([]model.RawRecord, error)
}

// APIKeys are the credentials for the keyed adapters.
type APIKeys struct {
	NewsAPI       string `yaml:"newsapi"`
	ACLEDKey      string `yaml:"acled_key"`
	ACLEDEmail    string `yaml:"acled_email"`
	EventRegistry string `yaml:"eventregistry"`
	GTA           string `yaml:"gta"`
}

// Deps are shared by every adapter built from one configuration.
type Deps struct {
	Client     *fetch.Client
	Keys       APIKeys
	Classifier normalize.Classifier
}

// Types lists the adapter selectors New understands.
var Types = []string{"rss", "atom", "json", "xml", "csv", "newsapi", "gdelt", "acled", "reliefweb", "eventregistry", "gta"}

// New builds the adapter selected by d.Type.
func New(d model.SourceDescriptor, deps Deps) (Source, error) {
	if deps.Client == nil {
		deps.Client = fetch.New(fetch.Options{})
	}
	if deps.Classifier == nil {
		deps.Classifier = normalize.NewKeywordClassifier()
	}
	b := base{desc: d, deps: deps, html: bluemonday.StrictPolicy()}
	needURL := func() error {
		if strings.TrimSpace(d.URL) == "" {
			return fmt.Errorf("source %s: url is required for type %s", d.ID, d.Type)
		}
		return nil
	}
	switch strings.ToLower(d.Type) {
	case "rss", "atom":
		if err := needURL(); err != nil {
			return nil, err
		}
		return &rssSource{base: b}, nil
	case "json":
		if err := needURL(); err != nil {
			return nil, err
		}
		return &jsonSource{base: b}, nil
	case "xml":
		if err := needURL(); err != nil {
			return nil, err
		}
		return &xmlSource{base: b}, nil
	case "csv":
		if err := needURL(); err != nil {
			return nil, err
		}
		return &csvSource{base: b}, nil
	case "newsapi":
		key := d.Param("api_key", deps.Keys.NewsAPI)
		if key == "" {
			return nil, fmt.Errorf("source %s: newsapi key: %w", d.ID, ErrMissingCredentials)
		}
		return &newsAPISource{base: b, key: key}, nil
	case "gdelt":
		return &gdeltSource{base: b}, nil
	case "acled":
		key := d.Param("api_key", deps.Keys.ACLEDKey)
		email := d.Param("email", deps.Keys.ACLEDEmail)
		if key == "" || email == "" {
			return nil, fmt.Errorf("source %s: acled key and email: %w", d.ID, ErrMissingCredentials)
		}
		return &acledSource{base: b, key: key, email: email}, nil
	case "reliefweb":
		return &reliefWebSource{base: b}, nil
	case "eventregistry":
		key := d.Param("api_key", deps.Keys.EventRegistry)
		if key == "" {
			return nil, fmt.Errorf("source %s: eventregistry key: %w", d.ID, ErrMissingCredentials)
		}
		return &eventRegistrySource{base: b, key: key}, nil
	case "gta":
		key := d.Param("api_key", deps.Keys.GTA)
		if key == "" {
			return nil, fmt.Errorf("source %s: gta key: %w", d.ID, ErrMissingCredentials)
		}
		return &gtaSource{base: b, key: key}, nil
	default:
		return nil, fmt.Errorf("source %s: %w: %q", d.ID, ErrUnknownType, d.Type)
	}
}

type base struct {
	desc model.SourceDescriptor
	deps Deps
	html *bluemonday.Policy
}

func (b base) ID() string { return b.desc.ID }

// urlOr returns the configured URL, falling back to the adapter's default endpoint.
func (b base) urlOr(def string) string {
	if u := strings.TrimSpace(b.desc.URL); u != "" {
		return u
	}
	return def
}

func (b base) get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	return b.deps.Client.Do(ctx, fetch.Request{
		URL:            u,
		Headers:        headers,
		Proxy:          b.desc.CORSProxy,
		DirectFallback: b.desc.DirectFallback,
	})
}

func (b base) post(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return b.deps.Client.Do(ctx, fetch.Request{
		URL:            u,
		Method:         http.MethodPost,
		Body:           body,
		Headers:        h,
		Proxy:          b.desc.CORSProxy,
		DirectFallback: b.desc.DirectFallback,
	})
}

// classify fills category and region from free text when the payload had none.
func (b base) classify(r model.RawRecord, text string) {
	if r.String("category") == "" {
		if c := b.deps.Classifier.Category(text); c != "" {
			r["category"] = c
		}
	}
	if r.String("region") == "" {
		if reg := b.deps.Classifier.Region(text); reg != "" {
			r["region"] = reg
		}
	}
}
