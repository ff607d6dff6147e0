package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"civsphere/event-ingester/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var eventRowColumns = []string{
	"id", "title", "description", "impact", "date", "category", "region", "country",
	"lat", "lng", "importance", "participants", "sources", "original_id", "source_id", "approximate",
}

func TestSQLAppendPostgres(t *testing.T) {
	db, mock := newMockDB(t)
	s := &SQL{db: db, driver: DriverPostgres}

	e := sample(7, "Summit", model.CategoryPolitical)
	e.Participants = []string{"EU", "France"}
	e.Sources = []string{"https://example.org/a"}
	e.SourceID = "rss"

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO events").ExpectExec().
		WithArgs(int64(7), "Summit", "", "", "2024-01-15", model.CategoryPolitical, model.DefaultRegion,
			model.DefaultCountry, 1.0, 2.0, 5, `["EU","France"]`, `["https://example.org/a"]`, "", "rss", false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Append(context.Background(), []model.Event{e}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestSQLReplaceRollsBackOnInsertError(t *testing.T) {
	db, mock := newMockDB(t)
	s := &SQL{db: db, driver: DriverPostgres}

	e := sample(1, "a", model.CategoryPolitical)
	e.Lat, e.Lng = nil, nil

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM events").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectPrepare("INSERT INTO events").ExpectExec().
		WithArgs(int64(1), "a", "", "", "2024-01-15", model.CategoryPolitical, model.DefaultRegion,
			model.DefaultCountry, nil, nil, 5, "[]", "[]", "", "", false).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.Replace(context.Background(), []model.Event{e}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSQLEventsScansNullCoordinates(t *testing.T) {
	db, mock := newMockDB(t)
	s := &SQL{db: db, driver: DriverPostgres}

	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(int64(1), "located", "", "", "2024-01-15", model.CategoryPolitical, "Europe", "France",
			48.85, 2.35, 6, `["EU"]`, `[]`, "guid-1", "rss", true).
		AddRow(int64(2), "unlocated", "", "", "2024-01-16", model.CategoryPolitical, "Global", "World",
			nil, nil, 5, `[]`, `[]`, "", "", false)
	mock.ExpectQuery("SELECT .+ FROM events ORDER BY seq").WillReturnRows(rows)

	events, err := s.Events(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	first := events[0]
	if !first.HasLocation() || *first.Lat != 48.85 || !first.Approximate || first.OriginalID != "guid-1" {
		t.Fatalf("first = %+v", first)
	}
	if len(first.Participants) != 1 || first.Participants[0] != "EU" || first.Sources != nil {
		t.Fatalf("lists = %v %v", first.Participants, first.Sources)
	}
	if events[1].Lat != nil || events[1].Lng != nil {
		t.Fatalf("null coordinates should stay nil: %+v", events[1])
	}
}

func TestSQLCategoriesCounts(t *testing.T) {
	db, mock := newMockDB(t)
	s := &SQL{db: db, driver: DriverPostgres}

	mock.ExpectQuery("SELECT c.name, c.color, c.icon, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"name", "color", "icon", "count"}).
			AddRow(model.CategoryConflict, "#d32f2f", "swords", 4).
			AddRow(model.CategoryPolitical, "#1976d2", "landmark", 0))

	cats, err := s.Categories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 || cats[0].Count != 4 || cats[1].Name != model.CategoryPolitical {
		t.Fatalf("categories = %+v", cats)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "events.db")

	s, err := OpenSQL(ctx, DriverSQLite, path, nil)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	a := sample(1, "a", model.CategoryConflict)
	a.Participants = []string{"NATO"}
	b := sample(2, "b", model.CategoryConflict)
	b.Lat, b.Lng = nil, nil
	if err := s.Append(ctx, []model.Event{a, b}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, []model.Event{sample(3, "c", model.CategoryEconomic)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening must not duplicate the seeded categories.
	s, err = OpenSQL(ctx, DriverSQLite, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Title != "a" || events[2].Title != "c" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Participants[0] != "NATO" || events[1].Lat != nil {
		t.Fatalf("decoded = %+v / %+v", events[0], events[1])
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != len(model.DefaultCategories()) || cats[0].Name != model.CategoryConflict || cats[0].Count != 2 {
		t.Fatalf("categories = %+v", cats)
	}

	if err := s.Replace(ctx, []model.Event{sample(10, "only", model.CategoryPolitical)}); err != nil {
		t.Fatal(err)
	}
	events, _ = s.Events(ctx)
	if len(events) != 1 || events[0].ID != 10 {
		t.Fatalf("after replace = %+v", events)
	}
}
