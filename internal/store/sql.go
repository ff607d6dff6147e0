package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"civsphere/event-ingester/internal/model"
)

var (
	//go:embed schema_sqlite.sql
	sqliteSchema string
	//go:embed schema_postgres.sql
	postgresSchema string
)

const eventColumns = `id, title, description, impact, date, category, region, country,
    lat, lng, importance, participants, sources, original_id, source_id, approximate`

const (
	queryEvents = `SELECT ` + eventColumns + ` FROM events ORDER BY seq`

	queryCategories = `SELECT c.name, c.color, c.icon, COUNT(e.seq)
    FROM categories c LEFT JOIN events e ON e.category = c.name
    GROUP BY c.name, c.color, c.icon, c.position
    ORDER BY c.position, c.name`

	insertEvent = `INSERT INTO events (` + eventColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	insertCategory = `INSERT INTO categories (name, color, icon, position)
    VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING`

	deleteEvents = `DELETE FROM events`
)

// SQL stores events in sqlite or postgres through database/sql. Both
// dialects accept the same $n statements.
type SQL struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects, applies the schema and seeds categories that are not
// stored yet.
func OpenSQL(ctx context.Context, driver, dsn string, categories []model.Category) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("store dsn is required")
	}
	schema := postgresSchema
	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		schema = sqliteSchema
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &SQL{db: db, driver: driver}
	if len(categories) == 0 {
		categories = model.DefaultCategories()
	}
	if err := s.seedCategories(ctx, categories); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) seedCategories(ctx context.Context, cats []model.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin categories tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for i, c := range cats {
		if _, err := tx.ExecContext(ctx, insertCategory, c.Name, c.Color, c.Icon, i); err != nil {
			return fmt.Errorf("seed category %q: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}
	return nil
}

func (s *SQL) Events(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, queryEvents)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *SQL) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, queryCategories)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.Name, &c.Color, &c.Icon, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (s *SQL) Append(ctx context.Context, events []model.Event) error {
	return s.write(ctx, false, events)
}

func (s *SQL) Replace(ctx context.Context, events []model.Event) error {
	return s.write(ctx, true, events)
}

// write inserts events in one transaction, clearing the table first when
// replace is set.
func (s *SQL) write(ctx context.Context, replace bool, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, deleteEvents); err != nil {
			return fmt.Errorf("clear events: %w", err)
		}
	}
	if len(events) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertEvent)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			args, err := eventArgs(e)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert event %d: %w", e.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func eventArgs(e model.Event) ([]any, error) {
	participants, err := encodeList(e.Participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	sources, err := encodeList(e.Sources)
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}
	return []any{
		e.ID, e.Title, e.Description, e.Impact, e.Date, e.Category, e.Region, e.Country,
		nullFloat(e.Lat), nullFloat(e.Lng), e.Importance, participants, sources,
		e.OriginalID, e.SourceID, e.Approximate,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e                     model.Event
		lat, lng              sql.NullFloat64
		participants, sources string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Impact, &e.Date, &e.Category,
		&e.Region, &e.Country, &lat, &lng, &e.Importance, &participants, &sources,
		&e.OriginalID, &e.SourceID, &e.Approximate)
	if err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	if lat.Valid {
		e.Lat = model.Float(lat.Float64)
	}
	if lng.Valid {
		e.Lng = model.Float(lng.Float64)
	}
	if e.Participants, err = decodeList(participants); err != nil {
		return e, fmt.Errorf("decode participants of %d: %w", e.ID, err)
	}
	if e.Sources, err = decodeList(sources); err != nil {
		return e, fmt.Errorf("decode sources of %d: %w", e.ID, err)
	}
	return e, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func encodeList(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
