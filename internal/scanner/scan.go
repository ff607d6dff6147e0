package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/store"
	"civsphere/event-ingester/internal/validate"
)

// Options controls one scan pass.
type Options struct {
	UpdateBuffer bool // stage the surviving events into the import buffer
}

// Result summarizes a scan pass. A zero RunID means the pass was suppressed
// because another scan was in flight.
type Result struct {
	RunID    uuid.UUID
	Events   []model.Event
	Sources  int
	Fetched  int // raw records
	Valid    int
	Skipped  int // failed validation
	Merged   int // lost a cross-source merge
	Existing int // already in the store
	Failed   []string
	Duration time.Duration
}

// Summary is the short diagnostic shown to users.
func (r Result) Summary() string {
	return fmt.Sprintf("Valid: %d. Skipped: %d.", r.Valid, r.Skipped)
}

type fetchResult struct {
	entry   entry
	records []model.RawRecord
	err     error
}

// ScanOnce fetches every configured source once. A call made while another
// scan is running returns an empty result immediately.
func (s *Scanner) ScanOnce(ctx context.Context, opts Options) (Result, error) {
	return s.scan(ctx, s.snapshotEntries(), opts)
}

func (s *Scanner) scan(ctx context.Context, entries []entry, opts Options) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug().Msg("scan already in flight, skipping")
		return Result{}, nil
	}
	defer s.inFlight.Store(false)

	start := s.now()
	res := Result{RunID: uuid.New(), Sources: len(entries)}
	log := s.log.With().Str("run_id", res.RunID.String()).Logger()

	results := s.fetchAll(ctx, entries, res.RunID)

	existing, err := s.cfg.Store.Events(ctx)
	if err != nil {
		s.cfg.Metrics.ScanFinished(err, s.now().Sub(start))
		return res, fmt.Errorf("scan: read store: %w", err)
	}
	categories := model.CategoryNames(model.DefaultCategories())
	if cats, err := s.cfg.Store.Categories(ctx); err != nil {
		log.Warn().Err(err).Msg("reading categories failed, using defaults")
	} else if len(cats) > 0 {
		categories = model.CategoryNames(cats)
	}

	var raws []model.RawRecord
	for _, r := range results {
		if r.err != nil {
			res.Failed = append(res.Failed, r.entry.desc.ID)
			continue
		}
		for _, rec := range r.records {
			if rec == nil {
				continue
			}
			rec[model.RawRecordSourceKey] = r.entry.desc.ID
			raws = append(raws, rec)
		}
	}
	res.Fetched = len(raws)
	s.emit(Progress{RunID: res.RunID, Phase: PhaseNormalize, Completed: 0, Total: len(raws)})

	n := &normalize.Normalizer{
		DateFormat: s.cfg.DateFormat,
		Classifier: s.cfg.Classifier,
		IDs:        s.sequence(existing),
	}
	rep := validate.Batch(n, raws, categories)
	res.Valid, res.Skipped = rep.Valid, rep.Skipped
	s.emit(Progress{RunID: res.RunID, Phase: PhaseNormalize, Completed: len(raws), Total: len(raws),
		Message: rep.Summary()})

	s.emit(Progress{RunID: res.RunID, Phase: PhaseMerge, Completed: 0, Total: len(rep.Events)})
	merged := mergeByPriority(rep.Events, entries, s.mode)
	res.Merged = len(rep.Events) - len(merged)

	inStore := dedup.NewIndex(s.mode, existing)
	for _, e := range merged {
		if inStore.Has(e) {
			res.Existing++
			continue
		}
		res.Events = append(res.Events, e)
	}
	s.emit(Progress{RunID: res.RunID, Phase: PhaseMerge, Completed: len(rep.Events), Total: len(rep.Events)})

	if opts.UpdateBuffer {
		s.cfg.Buffer.Set(res.Events)
	}
	res.Duration = s.now().Sub(start)

	s.cfg.Metrics.Events(metrics.OutcomeValid, res.Valid)
	s.cfg.Metrics.Events(metrics.OutcomeSkipped, res.Skipped)
	s.cfg.Metrics.Events(metrics.OutcomeMerged, res.Merged)
	s.cfg.Metrics.Events(metrics.OutcomeExisting, res.Existing)
	s.cfg.Metrics.Events(metrics.OutcomeStaged, len(res.Events))
	s.cfg.Metrics.ScanFinished(nil, res.Duration)

	log.Info().
		Int("sources", res.Sources).
		Int("failed", len(res.Failed)).
		Int("fetched", res.Fetched).
		Int("valid", res.Valid).
		Int("skipped", res.Skipped).
		Int("merged", res.Merged).
		Int("existing", res.Existing).
		Int("staged", len(res.Events)).
		Msg("scan finished")
	s.emit(Progress{RunID: res.RunID, Phase: PhaseDone, Completed: len(res.Events), Total: len(res.Events),
		Message: fmt.Sprintf("%d new events. %s", len(res.Events), res.Summary())})
	return res, nil
}

// fetchAll runs every adapter concurrently and returns the outcomes in
// configured order, whatever order they settled in.
func (s *Scanner) fetchAll(ctx context.Context, entries []entry, runID uuid.UUID) []fetchResult {
	out := make([]fetchResult, len(entries))
	s.emit(Progress{RunID: runID, Phase: PhaseFetch, Completed: 0, Total: len(entries)})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := fetchOne(ctx, e)
			out[i] = fetchResult{entry: e, records: recs, err: err}
			s.record(ctx, e, len(recs), err)

			mu.Lock()
			done++
			p := Progress{RunID: runID, Phase: PhaseFetch, Completed: done, Total: len(entries), Message: e.desc.ID}
			mu.Unlock()
			s.emit(p)
		}()
	}
	wg.Wait()
	return out
}

// fetchOne contains adapter panics so one source cannot take down a scan.
func fetchOne(ctx context.Context, e entry) (recs []model.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return e.src.Fetch(ctx)
}

// record applies the success or backoff schedule to a source's state.
func (s *Scanner) record(ctx context.Context, e entry, n int, err error) {
	id := e.desc.ID
	s.cfg.Metrics.SourceFetched(id, n, err)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.log.Debug().Str("source", id).Msg("fetch cancelled")
		return
	}
	now := s.now()

	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		st = &model.SourceState{}
		s.states[id] = st
	}
	st.LastRun = now
	if err != nil {
		st.ErrorCount++
		st.LastError = err.Error()
		st.NextRun = now.Add(Backoff(st.ErrorCount, e.desc.Interval))
	} else {
		st.ErrorCount = 0
		st.LastError = ""
		st.NextRun = now.Add(e.desc.Interval)
	}
	snap := *st
	s.mu.Unlock()

	s.cfg.Metrics.SourceScheduled(id, snap.ErrorCount, snap.NextRun)
	if err != nil {
		s.log.Warn().Err(err).Str("source", id).Int("error_count", snap.ErrorCount).
			Time("next_run", snap.NextRun).Msg("source fetch failed")
		return
	}
	s.log.Debug().Str("source", id).Int("records", n).Msg("source fetched")
}

func (s *Scanner) sequence(existing []model.Event) *normalize.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = normalize.NewSequence(store.MaxID(existing))
	} else {
		s.ids.Observe(store.MaxID(existing))
	}
	return s.ids
}

// mergeByPriority keeps one event per dedup key. The event from the source
// with the lowest priority value wins; equal priorities fall back to the
// configured source order. The result is ordered by priority, then source
// order, then record order.
func mergeByPriority(events []model.Event, entries []entry, mode dedup.Mode) []model.Event {
	rank := make(map[string]entry, len(entries))
	for _, e := range entries {
		rank[e.desc.ID] = e
	}
	type candidate struct {
		event    model.Event
		priority int
		order    int
		pos      int
	}
	better := func(a, b candidate) bool {
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.pos < b.pos
	}

	byKey := make(map[string]candidate, len(events))
	for i, ev := range events {
		en := rank[ev.SourceID]
		c := candidate{event: ev, priority: en.desc.Priority, order: en.order, pos: i}
		key := dedup.Key(ev, mode)
		if cur, ok := byKey[key]; !ok || better(c, cur) {
			byKey[key] = c
		}
	}
	kept := make([]candidate, 0, len(byKey))
	for _, c := range byKey {
		kept = append(kept, c)
	}
	sort.Slice(kept, func(i, j int) bool { return better(kept[i], kept[j]) })
	out := make([]model.Event, len(kept))
	for i, c := range kept {
		out[i] = c.event
	}
	return out
}
