package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/source"
	"civsphere/event-ingester/internal/store"
	"civsphere/event-ingester/internal/testsupport"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	scanner *Scanner
	store   *store.Memory
	buffer  *importbuf.Buffer
	clock   *testsupport.Clock
	sources map[string]*testsupport.StaticSource
}

func newFixture(t *testing.T, descs []model.SourceDescriptor, srcs ...*testsupport.StaticSource) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(nil),
		buffer:  importbuf.New(),
		clock:   testsupport.NewClock(t0),
		sources: map[string]*testsupport.StaticSource{},
	}
	for _, s := range srcs {
		f.sources[s.Name] = s
	}
	sc, err := New(Config{
		Store:     f.store,
		Buffer:    f.buffer,
		DedupMode: dedup.ModeTitleDateCoords,
		Tick:      2 * time.Millisecond,
		Now:       f.clock.Now,
		Factory: func(d model.SourceDescriptor) (source.Source, error) {
			if d.Type == "newsapi" {
				return nil, source.ErrMissingCredentials
			}
			s, ok := f.sources[d.ID]
			if !ok {
				return nil, source.ErrUnknownType
			}
			return s, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.SetSources(descs); err != nil {
		t.Fatal(err)
	}
	f.scanner = sc
	return f
}

func desc(id string, priority int, interval time.Duration) model.SourceDescriptor {
	return model.SourceDescriptor{ID: id, Type: "json", Priority: priority, Interval: interval}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestScanPriorityMergeIgnoresArrivalOrder(t *testing.T) {
	for _, slow := range []string{"gdelt", "rss"} {
		t.Run("slow="+slow, func(t *testing.T) {
			g := testsupport.Record("Border clash", "2024-02-10", 50.45, 30.52)
			g["description"] = "from gdelt"
			r := testsupport.Record("Border clash", "2024-02-10", 50.45, 30.52)
			r["description"] = "from rss"
			gdelt := testsupport.NewStaticSource("gdelt", g)
			rss := testsupport.NewStaticSource("rss", r)
			map[string]*testsupport.StaticSource{"gdelt": gdelt, "rss": rss}[slow].Delay = 20 * time.Millisecond

			f := newFixture(t, []model.SourceDescriptor{desc("rss", 3, time.Hour), desc("gdelt", 1, time.Hour)}, gdelt, rss)
			res, err := f.scanner.ScanOnce(context.Background(), Options{})
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Events) != 1 || res.Merged != 1 {
				t.Fatalf("events = %d merged = %d", len(res.Events), res.Merged)
			}
			if e := res.Events[0]; e.Description != "from gdelt" || e.SourceID != "gdelt" {
				t.Fatalf("kept %+v", e)
			}
		})
	}
}

func TestScanEqualPriorityUsesConfiguredOrder(t *testing.T) {
	a := testsupport.NewStaticSource("a", testsupport.Record("Same", "2024-02-10", 1, 1))
	b := testsupport.NewStaticSource("b", testsupport.Record("Same", "2024-02-10", 1, 1))
	a.Delay = 10 * time.Millisecond
	f := newFixture(t, []model.SourceDescriptor{desc("a", 2, time.Hour), desc("b", 2, time.Hour)}, a, b)
	res, _ := f.scanner.ScanOnce(context.Background(), Options{})
	if len(res.Events) != 1 || res.Events[0].SourceID != "a" {
		t.Fatalf("events = %+v", res.Events)
	}
}

func TestScanContainsFailuresAndCountsSkips(t *testing.T) {
	good := testsupport.NewStaticSource("good",
		testsupport.Record("Summit held", "2024-02-10", 48.85, 2.35),
		model.RawRecord{"title": "No date", "lat": 1.0, "lng": 1.0},
		testsupport.Record("Too far north", "2024-02-10", 95, 1),
	)
	bad := testsupport.NewStaticSource("bad")
	bad.SetError(errors.New("connection refused"))

	f := newFixture(t, []model.SourceDescriptor{desc("good", 1, time.Hour), desc("bad", 2, time.Hour)}, good, bad)
	res, err := f.scanner.ScanOnce(context.Background(), Options{UpdateBuffer: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "bad" {
		t.Fatalf("failed = %v", res.Failed)
	}
	if res.Fetched != 3 || res.Valid != 1 || res.Skipped != 2 {
		t.Fatalf("counts = %+v", res)
	}
	if got := res.Summary(); got != "Valid: 1. Skipped: 2." {
		t.Fatalf("summary = %q", got)
	}
	if f.buffer.Len() != 1 || f.buffer.Events()[0].Title != "Summit held" {
		t.Fatalf("buffer = %+v", f.buffer.Events())
	}
	st := f.scanner.States()
	if st["good"].ErrorCount != 0 || !st["good"].NextRun.Equal(t0.Add(time.Hour)) {
		t.Fatalf("good state = %+v", st["good"])
	}
	if st["bad"].ErrorCount != 1 || st["bad"].LastError == "" {
		t.Fatalf("bad state = %+v", st["bad"])
	}
}

func TestScanDropsEventsAlreadyInStore(t *testing.T) {
	src := testsupport.NewStaticSource("rss",
		testsupport.Record("Known", "2024-02-10", 1, 1),
		testsupport.Record("Fresh", "2024-02-11", 2, 2),
	)
	f := newFixture(t, []model.SourceDescriptor{desc("rss", 1, time.Hour)}, src)
	_ = f.store.Append(context.Background(), []model.Event{
		{ID: 41, Title: "Known", Date: "2024-02-10", Lat: model.Float(1), Lng: model.Float(1)},
	})
	res, _ := f.scanner.ScanOnce(context.Background(), Options{})
	if res.Existing != 1 || len(res.Events) != 1 || res.Events[0].Title != "Fresh" {
		t.Fatalf("res = %+v", res)
	}
	if res.Events[0].ID <= 41 {
		t.Fatalf("minted id %d should follow the store max", res.Events[0].ID)
	}
}

func TestBackoffAfterRepeatedFailures(t *testing.T) {
	src := testsupport.NewStaticSource("acled")
	src.SetError(errors.New("503"))
	f := newFixture(t, []model.SourceDescriptor{desc("acled", 1, time.Minute)}, src)

	for range 3 {
		_, _ = f.scanner.ScanOnce(context.Background(), Options{})
	}
	st := f.scanner.States()["acled"]
	if st.ErrorCount != 3 {
		t.Fatalf("error count = %d", st.ErrorCount)
	}
	if want := t0.Add(8 * MinBackoffBase); !st.NextRun.Equal(want) {
		t.Fatalf("next run = %s, want %s", st.NextRun, want)
	}

	src.SetError(nil)
	f.clock.Advance(time.Hour)
	_, _ = f.scanner.ScanOnce(context.Background(), Options{})
	st = f.scanner.States()["acled"]
	if st.ErrorCount != 0 || !st.NextRun.Equal(t0.Add(time.Hour+time.Minute)) {
		t.Fatalf("after success = %+v", st)
	}
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := Backoff(n, time.Hour)
		if d < prev {
			t.Fatalf("backoff(%d) = %s decreased from %s", n, d, prev)
		}
		prev = d
	}
	if got := Backoff(10, time.Hour); got != 32*time.Hour {
		t.Fatalf("cap = %s", got)
	}
	if got := Backoff(1, time.Second); got != 2*MinBackoffBase {
		t.Fatalf("floor = %s", got)
	}
}

func TestScanInFlightGuard(t *testing.T) {
	slow := testsupport.NewStaticSource("slow", testsupport.Record("x", "2024-02-10", 1, 1))
	slow.Gate = make(chan struct{})
	slow.Started = make(chan struct{})
	f := newFixture(t, []model.SourceDescriptor{desc("slow", 1, time.Hour)}, slow)

	done := make(chan Result)
	go func() {
		res, _ := f.scanner.ScanOnce(context.Background(), Options{})
		done <- res
	}()
	<-slow.Started

	res, err := f.scanner.ScanOnce(context.Background(), Options{})
	if err != nil || res.RunID != uuid.Nil || len(res.Events) != 0 {
		t.Fatalf("concurrent scan = %+v, %v", res, err)
	}
	close(slow.Gate)
	if first := <-done; len(first.Events) != 1 {
		t.Fatalf("first scan = %+v", first)
	}
}

func TestSetSourcesSkipsMissingCredentialsAndKeepsState(t *testing.T) {
	a := testsupport.NewStaticSource("a")
	a.SetError(errors.New("down"))
	b := testsupport.NewStaticSource("b")
	f := newFixture(t, []model.SourceDescriptor{desc("a", 1, time.Hour)}, a, b)
	_, _ = f.scanner.ScanOnce(context.Background(), Options{})

	keyed := model.SourceDescriptor{ID: "news", Type: "newsapi", Priority: 2}
	if err := f.scanner.SetSources([]model.SourceDescriptor{desc("a", 1, time.Hour), desc("b", 2, 0), keyed}); err != nil {
		t.Fatal(err)
	}
	if got := len(f.scanner.Sources()); got != 2 {
		t.Fatalf("sources = %d", got)
	}
	st := f.scanner.States()
	if st["a"].ErrorCount != 1 {
		t.Fatalf("state for a lost: %+v", st["a"])
	}
	if !st["b"].NextRun.IsZero() {
		t.Fatalf("new source should start due: %+v", st["b"])
	}
	if f.scanner.Sources()[1].Interval != DefaultInterval {
		t.Fatalf("interval default = %s", f.scanner.Sources()[1].Interval)
	}

	if err := f.scanner.SetSources([]model.SourceDescriptor{desc("a", 1, 0), desc("a", 2, 0)}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if err := f.scanner.SetSources([]model.SourceDescriptor{desc("ghost", 1, 0)}); err == nil {
		t.Fatal("expected factory error")
	}
}

func TestProgressPhases(t *testing.T) {
	src := testsupport.NewStaticSource("rss", testsupport.Record("x", "2024-02-10", 1, 1))
	f := newFixture(t, []model.SourceDescriptor{desc("rss", 1, time.Hour)}, src)
	ch, cancel := f.scanner.Subscribe()
	defer cancel()

	res, _ := f.scanner.ScanOnce(context.Background(), Options{})
	var phases []string
	for p := range ch {
		if p.RunID != res.RunID {
			t.Fatalf("progress for another run: %+v", p)
		}
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		if p.Phase == PhaseDone {
			if p.Percent() != 100 {
				t.Fatalf("done percent = %d", p.Percent())
			}
			break
		}
	}
	want := []string{PhaseFetch, PhaseNormalize, PhaseMerge, PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v", phases)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	cases := []struct {
		p    Progress
		want int
	}{
		{Progress{Phase: PhaseFetch, Completed: 0, Total: 4}, 0},
		{Progress{Phase: PhaseFetch, Completed: 2, Total: 4}, 35},
		{Progress{Phase: PhaseNormalize, Total: 0}, 70},
		{Progress{Phase: PhaseMerge, Completed: 9, Total: 3}, 99},
		{Progress{Phase: PhaseDone}, 100},
	}
	for _, c := range cases {
		if got := c.p.Percent(); got != c.want {
			t.Errorf("%+v: got %d want %d", c.p, got, c.want)
		}
	}
}

func TestAutoRefreshScansOnlyDueSources(t *testing.T) {
	fast := testsupport.NewStaticSource("fast", testsupport.Record("f", "2024-02-10", 1, 1))
	slow := testsupport.NewStaticSource("slow", testsupport.Record("s", "2024-02-10", 2, 2))
	f := newFixture(t, []model.SourceDescriptor{desc("fast", 1, time.Minute), desc("slow", 2, time.Hour)}, fast, slow)

	var scans atomic.Int32
	ctx := context.Background()
	f.scanner.StartAutoRefresh(ctx, RefreshOptions{
		AfterScan: func(context.Context, Result) { scans.Add(1) },
	})
	f.scanner.StartAutoRefresh(ctx, RefreshOptions{})
	defer f.scanner.StopAutoRefresh()

	testsupport.Eventually(t, time.Second, func() bool { return scans.Load() == 1 }, "first refresh")
	time.Sleep(10 * time.Millisecond)
	if fast.Calls() != 1 || slow.Calls() != 1 {
		t.Fatalf("not due yet, calls = %d/%d", fast.Calls(), slow.Calls())
	}

	f.clock.Advance(2 * time.Minute)
	testsupport.Eventually(t, time.Second, func() bool { return fast.Calls() == 2 }, "fast source refetched")
	if slow.Calls() != 1 {
		t.Fatalf("slow source refetched early: %d", slow.Calls())
	}
	if got := len(f.scanner.Sources()); got != 2 {
		t.Fatalf("configured sources narrowed to %d", got)
	}

	f.scanner.StopAutoRefresh()
	f.scanner.StopAutoRefresh()
	if f.scanner.Refreshing() {
		t.Fatal("still refreshing after stop")
	}
	time.Sleep(10 * time.Millisecond)
	calls := fast.Calls()
	f.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if fast.Calls() != calls {
		t.Fatal("ticks continued after stop")
	}
}

func TestSaveAndLoadState(t *testing.T) {
	src := testsupport.NewStaticSource("rss")
	src.SetError(errors.New("down"))
	f := newFixture(t, []model.SourceDescriptor{desc("rss", 1, time.Hour)}, src)
	_, _ = f.scanner.ScanOnce(context.Background(), Options{})

	path := filepath.Join(t.TempDir(), "state", "sources.json")
	if err := f.scanner.SaveState(path); err != nil {
		t.Fatal(err)
	}

	g := newFixture(t, []model.SourceDescriptor{desc("rss", 1, time.Hour)}, testsupport.NewStaticSource("rss"))
	if err := g.scanner.LoadState(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := g.scanner.LoadState(path); err != nil {
		t.Fatal(err)
	}
	got, want := g.scanner.States()["rss"], f.scanner.States()["rss"]
	if got.ErrorCount != 1 || !got.NextRun.Equal(want.NextRun) {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}
}
