// Package merge combines Python code fragments into a single deduplicated
// module using the tree-sitter Python grammar.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrSyntax is wrapped by DegradationError when a fragment does not parse.
var ErrSyntax = errors.New("syntax error")

// DegradationError reports that the structural merge was abandoned and the
// fragments were concatenated as text instead. It is carried in Result.Err,
// never returned.
type DegradationError struct {
	Fragment int // index into the fragments passed to Merge
	Err      error
}

func (e *DegradationError) Error() string {
	return fmt.Sprintf("merge degraded to text concatenation: fragment %d: %v", e.Fragment, e.Err)
}

func (e *DegradationError) Unwrap() error { return e.Err }

// Result is the outcome of a merge.
type Result struct {
	Source   string
	Degraded bool
	Err      error // *DegradationError when Degraded
}

// Merger merges code fragments. A Merger holds no per-call state and is safe
// for concurrent use.
type Merger struct {
	formatter Formatter
	logger    *zap.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithFormatter sets the formatting pass applied to every merge result.
func WithFormatter(f Formatter) Option {
	return func(m *Merger) { m.formatter = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Merger) { m.logger = l }
}

// New returns a Merger using the canonical formatter unless overridden.
func New(opts ...Option) *Merger {
	m := &Merger{formatter: Canonical{}, logger: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Merge merges fragments in order. Plain imports keep the first alias seen,
// from-imports keep the first alias per symbol, function definitions keep the
// last body seen at the position of the first, and everything else keeps
// encounter order. If any fragment fails to parse the fragments are joined
// with blank lines instead and the result is marked degraded.
//
// The only error returned is the context's.
func (m *Merger) Merge(ctx context.Context, fragments []string) (Result, error) {
	type fragment struct {
		index int
		src   string
	}
	var cleaned []fragment
	for i, f := range fragments {
		f = Clean(f)
		if strings.TrimSpace(f) == "" {
			continue
		}
		cleaned = append(cleaned, fragment{index: i, src: f})
	}
	if len(cleaned) == 0 {
		return Result{}, ctx.Err()
	}

	u := newUnit()
	for _, f := range cleaned {
		if err := u.add(ctx, []byte(f.src)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			m.logger.Warn("structural merge failed, concatenating fragments",
				zap.Int("fragment", f.index), zap.Error(err))
			raw := make([]string, len(cleaned))
			for i, c := range cleaned {
				raw[i] = c.src
			}
			return Result{
				Source:   m.format(strings.Join(raw, "\n\n")),
				Degraded: true,
				Err:      &DegradationError{Fragment: f.index, Err: err},
			}, nil
		}
	}

	src := m.format(u.String())
	m.logger.Debug("merged fragments",
		zap.Int("fragments", len(cleaned)),
		zap.Int("imports", u.importCount()),
		zap.Int("functions", len(u.funcNames)),
		zap.Int("bytes", len(src)))
	return Result{Source: src}, nil
}

func (m *Merger) format(src string) string {
	out, err := m.formatter.Format(src)
	if err != nil {
		m.logger.Warn("formatter failed, using canonical formatting", zap.Error(err))
		out, _ = Canonical{}.Format(src)
	}
	return out
}
