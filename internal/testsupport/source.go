package testsupport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"civsphere/event-ingester/internal/model"
)

// StaticSource is a scripted adapter. Each Fetch returns fresh copies of
// Records so callers may mutate them.
type StaticSource struct {
	Name    string
	Delay   time.Duration
	Gate    chan struct{} // when set, Fetch blocks until it is closed
	Started chan struct{} // when set, closed on the first Fetch

	mu      sync.Mutex
	records []model.RawRecord
	err     error
	calls   atomic.Int32
	once    sync.Once
}

func NewStaticSource(name string, records ...model.RawRecord) *StaticSource {
	return &StaticSource{Name: name, records: records}
}

func (s *StaticSource) ID() string { return s.Name }

// SetError makes later fetches fail with err; nil restores success.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticSource) Calls() int { return int(s.calls.Load()) }

func (s *StaticSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	s.calls.Add(1)
	if s.Started != nil {
		s.once.Do(func() { close(s.Started) })
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.RawRecord, len(s.records))
	for i, r := range s.records {
		c := make(model.RawRecord, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out, nil
}

// Record builds a raw record with a title, date and coordinates.
func Record(title, date string, lat, lng float64) model.RawRecord {
	return model.RawRecord{"title": title, "date": date, "lat": lat, "lng": lng}
}
