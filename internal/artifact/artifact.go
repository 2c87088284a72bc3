// Package artifact persists generated functions keyed by name and run
// timestamp.
package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/phobologic/apdev/internal/model"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("artifact not found")

// Record is one persisted generation result.
type Record struct {
	Name                 string
	Timestamp            string
	FunctionCode         string
	Commentary           string
	SampleUsagePrimary   string
	SampleUsageAlternate string
	Degraded             bool
	RunID                string
	CreatedAt            time.Time
}

// NewRecord builds a record from a combined output whose function code has
// been replaced by the merged artifact.
func NewRecord(params model.GenerationParams, out model.CombinedOutput, degraded bool, runID string) Record {
	return Record{
		Name:                 params.Name,
		Timestamp:            params.Timestamp,
		FunctionCode:         out.FunctionCode,
		Commentary:           out.Commentary,
		SampleUsagePrimary:   out.SampleUsagePrimary,
		SampleUsageAlternate: out.SampleUsageAlternate,
		Degraded:             degraded,
		RunID:                runID,
	}
}

// Store persists records. Put replaces an existing record with the same
// name and timestamp.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, name, timestamp string) (Record, error)
	List(ctx context.Context, name string) ([]Record, error)
	Close() error
}

// Config selects the backing database.
type Config struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// DefaultConfig stores artifacts in a local SQLite file.
func DefaultConfig() Config {
	return Config{Driver: "sqlite", DSN: ".apdev/artifacts.db"}
}

// Open opens the configured store and ensures its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown artifact driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite-backed store at path.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres-backed store using the pgx driver.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return s, nil
}
