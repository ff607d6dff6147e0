// Package scanner polls the configured sources, reconciles their records and
// stages the new events for commit.
package scanner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/source"
	"civsphere/event-ingester/internal/store"
)

const (
	DefaultTick     = 15 * time.Second
	DefaultInterval = 15 * time.Minute
)

// Factory builds the adapter for a descriptor.
type Factory func(model.SourceDescriptor) (source.Source, error)

// Config wires a Scanner. Store is required; everything else has defaults.
type Config struct {
	Store      store.Store
	Buffer     *importbuf.Buffer
	Factory    Factory     // defaults to source.New with Deps
	Deps       source.Deps // used by the default factory
	DateFormat string
	Classifier normalize.Classifier
	IDs        *normalize.Sequence // seeded from the store when nil
	DedupMode  dedup.Mode
	Tick       time.Duration
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type entry struct {
	desc  model.SourceDescriptor
	src   source.Source
	order int
}

type Scanner struct {
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time
	mode dedup.Mode

	mu      sync.Mutex
	entries []entry
	states  map[string]*model.SourceState
	ids     *normalize.Sequence

	inFlight atomic.Bool

	subsMu  sync.Mutex
	subs    map[int]chan Progress
	nextSub int

	refreshMu sync.Mutex
	stop      chan struct{}
}

// New validates cfg and returns an idle scanner with no sources.
func New(cfg Config) (*Scanner, error) {
	if cfg.Store == nil {
		return nil, errors.New("scanner: store is required")
	}
	if cfg.Buffer == nil {
		cfg.Buffer = importbuf.New()
	}
	if cfg.Factory == nil {
		deps := cfg.Deps
		if deps.Classifier == nil {
			deps.Classifier = cfg.Classifier
		}
		cfg.Factory = func(d model.SourceDescriptor) (source.Source, error) { return source.New(d, deps) }
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	mode := cfg.DedupMode
	if mode == "" {
		mode = dedup.ModeAuto
	}
	s := &Scanner{
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
		mode:   mode,
		states: make(map[string]*model.SourceState),
		ids:    cfg.IDs,
		subs:   make(map[int]chan Progress),
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "scanner").Logger()
	}
	if cfg.Now != nil {
		s.now = cfg.Now
	}
	return s, nil
}

// Buffer is the import buffer scans stage into.
func (s *Scanner) Buffer() *importbuf.Buffer { return s.cfg.Buffer }

// SetSources replaces the configured sources. State survives for ids that
// are still configured; new ids start due. Sources lacking credentials are
// skipped with a warning.
func (s *Scanner) SetSources(descs []model.SourceDescriptor) error {
	seen := make(map[string]bool, len(descs))
	entries := make([]entry, 0, len(descs))
	for _, d := range descs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return fmt.Errorf("source of type %q has no id", d.Type)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate source id %q", d.ID)
		}
		seen[d.ID] = true
		src, err := s.cfg.Factory(d)
		if errors.Is(err, source.ErrMissingCredentials) {
			s.log.Warn().Str("source", d.ID).Str("type", d.Type).Msg("skipping source without credentials")
			continue
		}
		if err != nil {
			return fmt.Errorf("build source %s: %w", d.ID, err)
		}
		if d.Interval <= 0 {
			d.Interval = DefaultInterval
		}
		entries = append(entries, entry{desc: d, src: src, order: len(entries)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]*model.SourceState, len(entries))
	for _, e := range entries {
		if st, ok := s.states[e.desc.ID]; ok {
			states[e.desc.ID] = st
		} else {
			states[e.desc.ID] = &model.SourceState{}
		}
	}
	s.entries = entries
	s.states = states
	s.log.Info().Int("sources", len(entries)).Msg("sources configured")
	return nil
}

// Sources returns the active descriptors in configured order.
func (s *Scanner) Sources() []model.SourceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SourceDescriptor, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.desc
	}
	return out
}

// States returns a copy of the per-source runtime state.
func (s *Scanner) States() map[string]model.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.SourceState, len(s.states))
	for id, st := range s.states {
		out[id] = *st
	}
	return out
}

func (s *Scanner) snapshotEntries() []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry(nil), s.entries...)
}

// due returns the sources whose next run has elapsed.
func (s *Scanner) due(now time.Time) []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry
	for _, e := range s.entries {
		if st := s.states[e.desc.ID]; st == nil || !now.Before(st.NextRun) {
			out = append(out, e)
		}
	}
	return out
}
