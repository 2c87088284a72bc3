package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Middleware decorates a Client with a cross-cutting concern.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// WithLogging logs every call: prompts at debug level, outcome at info.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Client) Client {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Client
	log  *zap.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) GenerateJSON(ctx context.Context, messages []Message, schema Schema) (json.RawMessage, error) {
	fields := []zap.Field{
		zap.String("client", l.next.Name()),
		zap.String("stage", StageFrom(ctx)),
		zap.String("schema", schema.Name),
	}
	l.log.Debug("llm request", append(fields, zap.String("prompt", lastUser(messages)))...)

	start := time.Now()
	raw, err := l.next.GenerateJSON(ctx, messages, schema)
	fields = append(fields, zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		l.log.Warn("llm error", append(fields, zap.Error(err))...)
		return nil, err
	}
	l.log.Info("llm response", append(fields, zap.Int("bytes", len(raw)))...)
	return raw, nil
}

// Retry retries GenerateJSON up to maxAttempts with exponential backoff
// starting at baseDelay. Validation errors and context cancellation are
// never retried.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Client) Client {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Client
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) GenerateJSON(ctx context.Context, messages []Message, schema Schema) (json.RawMessage, error) {
	var last error
	for i := 0; i < r.max; i++ {
		raw, err := r.next.GenerateJSON(ctx, messages, schema)
		if err == nil {
			return raw, nil
		}
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return nil, err
		}
		last = err
		if i == r.max-1 {
			break
		}
		t := time.NewTimer(r.base * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, last
}

// WithRecorder appends every exchange to h.
func WithRecorder(h *History) Middleware {
	return func(next Client) Client {
		return &recording{next: next, h: h}
	}
}

type recording struct {
	next Client
	h    *History
}

func (r *recording) Name() string { return r.next.Name() }
func (r *recording) Close() error { return r.next.Close() }

func (r *recording) GenerateJSON(ctx context.Context, messages []Message, schema Schema) (json.RawMessage, error) {
	start := time.Now()
	raw, err := r.next.GenerateJSON(ctx, messages, schema)
	r.h.Add(Exchange{
		Stage:    StageFrom(ctx),
		Schema:   schema.Name,
		Prompt:   lastUser(messages),
		Response: raw,
		Err:      err,
		Elapsed:  time.Since(start),
	})
	return raw, err
}
