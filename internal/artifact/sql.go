package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type dialect struct {
	name   string
	schema string
	// placeholder returns the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		function_code TEXT NOT NULL,
		commentary TEXT NOT NULL,
		sample_usage_primary TEXT NOT NULL,
		sample_usage_alternate TEXT NOT NULL,
		degraded INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (name, timestamp)
	)`,
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
	CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		function_code TEXT NOT NULL,
		commentary TEXT NOT NULL,
		sample_usage_primary TEXT NOT NULL,
		sample_usage_alternate TEXT NOT NULL,
		degraded BOOLEAN NOT NULL,
		run_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (name, timestamp)
	)`,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// sqlStore implements Store over database/sql for both dialects.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating %s artifact schema: %w", d.name, err)
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const columns = `name, timestamp, function_code, commentary, sample_usage_primary,
	sample_usage_alternate, degraded, run_id, created_at`

func (s *sqlStore) Put(ctx context.Context, r Record) error {
	if r.Name == "" || r.Timestamp == "" {
		return errors.New("artifact name and timestamp are required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.bind(`
	INSERT INTO artifacts (`+columns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (name, timestamp) DO UPDATE SET
		function_code = excluded.function_code,
		commentary = excluded.commentary,
		sample_usage_primary = excluded.sample_usage_primary,
		sample_usage_alternate = excluded.sample_usage_alternate,
		degraded = excluded.degraded,
		run_id = excluded.run_id,
		created_at = excluded.created_at`),
		r.Name, r.Timestamp, r.FunctionCode, r.Commentary, r.SampleUsagePrimary,
		r.SampleUsageAlternate, r.Degraded, r.RunID, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storing artifact %s@%s: %w", r.Name, r.Timestamp, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r       Record
		created int64
	)
	err := row.Scan(&r.Name, &r.Timestamp, &r.FunctionCode, &r.Commentary, &r.SampleUsagePrimary,
		&r.SampleUsageAlternate, &r.Degraded, &r.RunID, &created)
	if err != nil {
		return Record{}, err
	}
	r.CreatedAt = time.Unix(created, 0)
	return r, nil
}

func (s *sqlStore) Get(ctx context.Context, name, timestamp string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+columns+` FROM artifacts WHERE name = ? AND timestamp = ?`),
		name, timestamp)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s@%s: %w", name, timestamp, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading artifact %s@%s: %w", name, timestamp, err)
	}
	return r, nil
}

// List returns the records for name ordered by timestamp.
func (s *sqlStore) List(ctx context.Context, name string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT `+columns+` FROM artifacts WHERE name = ? ORDER BY timestamp`), name)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts for %s: %w", name, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
