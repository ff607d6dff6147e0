package config

import (
	"strings"
	"testing"
	"time"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/store"
	"civsphere/event-ingester/internal/testsupport"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvNewsAPIKey, "")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Store.Driver != store.DriverMemory || c.DedupMode() != dedup.ModeAuto {
		t.Fatalf("defaults: %+v", c)
	}
	if len(c.Sources) != 2 || c.Sources[0].ID != "gdelt" {
		t.Fatalf("default sources: %+v", c.Sources)
	}
	if c.Scanner.BatchSize != 100 || c.Scanner.CommitDelay != 10*time.Millisecond {
		t.Fatalf("commit defaults: %+v", c.Scanner)
	}
	if len(c.Categories) == 0 {
		t.Fatal("default categories missing")
	}
}

func TestLoadFile(t *testing.T) {
	path := testsupport.WriteFile(t, t.TempDir(), "ingester.yaml", `
log:
  level: debug
  format: json
store:
  driver: sqlite
  dsn: /tmp/events.db
scanner:
  dedup_mode: title_date_coords
  date_format: DD/MM/YYYY
  commit_mode: replace
http:
  rate_limit: 250ms
sources:
  - id: bbc
    type: rss
    url: https://feeds.example/world.xml
    priority: 1
    interval: 10m
  - id: wire
    type: json
    url: https://wire.example/events.json
    priority: 2
classifier:
  rules:
    - when: [blockade]
      category: "Wars & Conflicts"
sinks:
  nats:
    url: nats://localhost:4222
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Log.Level != "debug" || c.Store.DSN != "/tmp/events.db" {
		t.Fatalf("decoded: %+v", c)
	}
	if c.Sources[0].Interval != 10*time.Minute || c.Sources[1].Interval != 15*time.Minute {
		t.Fatalf("intervals: %v %v", c.Sources[0].Interval, c.Sources[1].Interval)
	}
	if got := c.FetchOptions(nil).RateLimit; got != 250*time.Millisecond {
		t.Fatalf("rate limit = %v", got)
	}
	if c.DedupMode() != dedup.ModeTitleDateCoords {
		t.Fatalf("dedup mode = %q", c.DedupMode())
	}
	if got := c.NewClassifier().Category("naval blockade announced"); got != model.CategoryConflict {
		t.Fatalf("custom rule category = %q", got)
	}
	if c.Sinks.NATS.URL != "nats://localhost:4222" {
		t.Fatalf("nats sink: %+v", c.Sinks.NATS)
	}
	if o := c.StoreOptions(); o.Driver != store.DriverSQLite || len(o.Categories) == 0 {
		t.Fatalf("store options: %+v", o)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := Parse([]byte("sources: [")); err == nil || !strings.Contains(err.Error(), "parse yaml") {
		t.Fatalf("bad yaml: %v", err)
	}
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte(`
scanner:
  dedup_mode: fuzzy
  date_format: YY
  commit_mode: merge
store:
  driver: postgres
sources:
  - id: a
    type: rss
    priority: 0
  - id: a
    type: carrier-pigeon
    priority: 1
  - type: gdelt
    priority: 1
    interval: -1m
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"unknown dedup mode", "date format", "unknown commit mode", "needs a dsn",
		"priority must be >= 1", `duplicate source id "a"`, "unknown source type",
		"source #3: id is required", "interval must be > 0",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestAPIKeysFromEnv(t *testing.T) {
	t.Setenv(EnvNewsAPIKey, " env-key ")
	t.Setenv(EnvACLEDEmail, "ops@example.org")
	c, err := Parse([]byte("api_keys:\n  acled_email: file@example.org\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.APIKeys.NewsAPI != "env-key" {
		t.Fatalf("newsapi key = %q", c.APIKeys.NewsAPI)
	}
	if c.APIKeys.ACLEDEmail != "file@example.org" {
		t.Fatalf("file value should win: %q", c.APIKeys.ACLEDEmail)
	}
}
