// Package index stores embedded function summaries in SQLite and answers
// nearest-neighbour queries over them.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/phobologic/apdev/internal/embedding"
	"github.com/phobologic/apdev/internal/model"
)

// Document is one function to index. Summary is the embedded text.
type Document struct {
	Path      string // dotted import path, unique
	Signature string
	Summary   string
	File      string
}

// Metadata identifies the function behind a hit.
type Metadata struct {
	Signature string
	Path      string
}

// Hit is a search result.
type Hit struct {
	Summary  string
	Metadata Metadata
	Score    float64
}

// Searcher answers nearest-neighbour queries, nearest first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Candidates converts hits into reuse candidates ranked in hit order.
func Candidates(hits []Hit) []model.ReusabilityCandidate {
	out := make([]model.ReusabilityCandidate, len(hits))
	for i, h := range hits {
		out[i] = model.ReusabilityCandidate{
			Signature:  h.Metadata.Signature,
			Summary:    h.Summary,
			ImportPath: h.Metadata.Path,
			Rank:       i,
		}
	}
	return out
}

// SQLiteIndex is a brute-force cosine index persisted in a SQLite file.
// Query embeddings are cached in memory.
type SQLiteIndex struct {
	db        *sql.DB
	engine    embedding.Engine
	cache     *lru.Cache[string, []float32]
	cacheSize int
	logger    *zap.Logger
}

// Option configures a SQLiteIndex.
type Option func(*SQLiteIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *SQLiteIndex) { i.logger = l }
}

// WithCacheSize sets how many query embeddings are kept in memory.
func WithCacheSize(n int) Option {
	return func(i *SQLiteIndex) {
		if n > 0 {
			i.cacheSize = n
		}
	}
}

const defaultCacheSize = 256

// Open opens (creating if needed) the index database at path.
func Open(path string, engine embedding.Engine, opts ...Option) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db, engine: engine, cacheSize: defaultCacheSize, logger: zap.NewNop()}
	for _, o := range opts {
		o(idx)
	}
	idx.cache, err = lru.New[string, []float32](idx.cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *SQLiteIndex) createTables() error {
	_, err := i.db.Exec(`
	CREATE TABLE IF NOT EXISTS functions (
		path TEXT PRIMARY KEY,
		signature TEXT NOT NULL,
		summary TEXT NOT NULL,
		file TEXT NOT NULL,
		engine TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("creating index tables: %w", err)
	}
	return nil
}

// embedBatchSize bounds the texts sent to the engine per request.
const embedBatchSize = 64

// Upsert embeds and stores docs, replacing existing entries with the same path.
func (i *SQLiteIndex) Upsert(ctx context.Context, docs []Document) error {
	return i.ReplaceFiles(ctx, nil, docs)
}

// ReplaceFiles removes every entry extracted from files and stores docs in
// their place. All documents are embedded before the index is touched, and
// the delete and insert share one transaction, so a failure leaves the
// previous entries in place.
func (i *SQLiteIndex) ReplaceFiles(ctx context.Context, files []string, docs []Document) error {
	if len(files) == 0 && len(docs) == 0 {
		return nil
	}
	vecs, err := i.embed(ctx, docs)
	if err != nil {
		return err
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE file = ?`, f); err != nil {
			return fmt.Errorf("clearing %s: %w", f, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO functions (path, signature, summary, file, engine, dims, vector, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		signature = excluded.signature,
		summary = excluded.summary,
		file = excluded.file,
		engine = excluded.engine,
		dims = excluded.dims,
		vector = excluded.vector,
		updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for j, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.Path, d.Signature, d.Summary, d.File,
			i.engine.Name(), len(vecs[j]), encodeVector(vecs[j]), now); err != nil {
			return fmt.Errorf("storing %s: %w", d.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	i.logger.Debug("indexed documents",
		zap.Int("files", len(files)),
		zap.Int("count", len(docs)),
		zap.String("engine", i.engine.Name()))
	return nil
}

// embed returns one vector per doc, requesting them in batches.
func (i *SQLiteIndex) embed(ctx context.Context, docs []Document) ([][]float32, error) {
	vecs := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.Summary)
		}
		batch, err := i.engine.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding documents: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedding returned %d vectors for %d documents", len(batch), len(texts))
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

// Search returns the k entries nearest to query by cosine similarity.
// Entries embedded with a different dimensionality are skipped.
func (i *SQLiteIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := i.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := i.db.QueryContext(ctx, `SELECT path, signature, summary, vector FROM functions`)
	if err != nil {
		return nil, fmt.Errorf("scanning index: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	skipped := 0
	for rows.Next() {
		var (
			h    Hit
			blob []byte
		)
		if err := rows.Scan(&h.Metadata.Path, &h.Metadata.Signature, &h.Summary, &blob); err != nil {
			return nil, err
		}
		score, err := embedding.CosineSimilarity(qv, decodeVector(blob))
		if err != nil {
			skipped++
			continue
		}
		h.Score = score
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		i.logger.Warn("skipped entries with mismatched dimensions", zap.Int("skipped", skipped))
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Metadata.Path < hits[b].Metadata.Path
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (i *SQLiteIndex) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := i.engine.Name() + "\x00" + query
	if v, ok := i.cache.Get(key); ok {
		return v, nil
	}
	v, err := i.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	i.cache.Add(key, v)
	return v, nil
}

// Delete removes the entry for path. Deleting a missing path is not an error.
func (i *SQLiteIndex) Delete(ctx context.Context, path string) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM functions WHERE path = ?`, path)
	return err
}

// DeleteFile removes every entry extracted from file.
func (i *SQLiteIndex) DeleteFile(ctx context.Context, file string) (int64, error) {
	res, err := i.db.ExecContext(ctx, `DELETE FROM functions WHERE file = ?`, file)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of indexed functions.
func (i *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM functions`).Scan(&n)
	return n, err
}

// Get returns the document stored for path.
func (i *SQLiteIndex) Get(ctx context.Context, path string) (Document, error) {
	d := Document{Path: path}
	err := i.db.QueryRowContext(ctx,
		`SELECT signature, summary, file FROM functions WHERE path = ?`, path).
		Scan(&d.Signature, &d.Summary, &d.File)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("index entry %s: %w", path, ErrNotFound)
	}
	return d, err
}

// ErrNotFound is returned by Get for unknown paths.
var ErrNotFound = errors.New("not found")

// Close closes the database.
func (i *SQLiteIndex) Close() error {
	return i.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for j, f := range v {
		binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for j := range v {
		v[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*j:]))
	}
	return v
}
