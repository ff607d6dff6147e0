// Package store holds the live event store the scanner reads and commits write.
package store

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"civsphere/event-ingester/internal/model"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the event store consumed by the scanner and the import buffer.
type Store interface {
	Events(ctx context.Context) ([]model.Event, error)
	Categories(ctx context.Context) ([]model.Category, error)
	Append(ctx context.Context, events []model.Event) error
	Replace(ctx context.Context, events []model.Event) error
}

// Options selects and configures a store backend.
type Options struct {
	Driver     string           `yaml:"driver"` // memory, sqlite or postgres
	DSN        string           `yaml:"dsn"`    // file path for sqlite, connection URL for postgres
	Categories []model.Category `yaml:"-"`
}

// Open returns the backend named by o.Driver.
func Open(ctx context.Context, o Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(o.Driver))
	switch driver {
	case "", DriverMemory:
		return NewMemory(o.Categories), nil
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, o.DSN, o.Categories)
	default:
		return nil, fmt.Errorf("unknown store driver %q", o.Driver)
	}
}

// Close releases the backend if it holds resources.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MaxID returns the largest event id, used to seed id sequences.
func MaxID(events []model.Event) int64 {
	var max int64
	for _, e := range events {
		if e.ID > max {
			max = e.ID
		}
	}
	return max
}

// Memory keeps events in process. It is the default backend.
type Memory struct {
	mu         sync.RWMutex
	events     []model.Event
	categories []model.Category
}

// NewMemory creates an empty store. A nil category list means the defaults.
func NewMemory(categories []model.Category, events ...model.Event) *Memory {
	if len(categories) == 0 {
		categories = model.DefaultCategories()
	}
	m := &Memory{categories: append([]model.Category(nil), categories...)}
	m.events = append(m.events, events...)
	return m
}

func (m *Memory) Events(context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Event(nil), m.events...), nil
}

func (m *Memory) Categories(context.Context) ([]model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int, len(m.categories))
	for _, e := range m.events {
		counts[e.Category]++
	}
	out := make([]model.Category, len(m.categories))
	for i, c := range m.categories {
		c.Count = counts[c.Name]
		out[i] = c
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Replace(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	m.events = append([]model.Event(nil), events...)
	m.mu.Unlock()
	return nil
}
