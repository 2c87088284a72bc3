package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Responder produces a response for a schema when no scripted response is
// queued.
type Responder func(messages []Message, schema Schema) (any, error)

// ScriptedClient replays queued responses per schema name in FIFO order.
// It is deterministic and safe for concurrent use.
type ScriptedClient struct {
	mu       sync.Mutex
	name     string
	queues   map[string][]scripted
	fallback Responder
	calls    []Call
}

type scripted struct {
	value any
	err   error
}

// Call is a request received by a ScriptedClient.
type Call struct {
	Schema   string
	Messages []Message
}

// NewScriptedClient returns an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{name: "scripted", queues: make(map[string][]scripted)}
}

// Push queues a response for schema. v may be a json.RawMessage, a string
// of raw JSON, or any value that marshals to JSON.
func (s *ScriptedClient) Push(schema string, v any) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[schema] = append(s.queues[schema], scripted{value: v})
	return s
}

// PushError queues a failure for schema.
func (s *ScriptedClient) PushError(schema string, err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[schema] = append(s.queues[schema], scripted{err: err})
	return s
}

// SetFallback sets the responder used when a schema's queue is empty.
func (s *ScriptedClient) SetFallback(r Responder) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
	return s
}

// Calls returns the requests received so far.
func (s *ScriptedClient) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining returns the number of queued responses not yet consumed.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

func (s *ScriptedClient) Name() string { return s.name }
func (s *ScriptedClient) Close() error { return nil }

// GenerateJSON implements Client.
func (s *ScriptedClient) GenerateJSON(ctx context.Context, messages []Message, schema Schema) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Schema: schema.Name, Messages: append([]Message(nil), messages...)})
	q := s.queues[schema.Name]
	var next scripted
	var ok bool
	if len(q) > 0 {
		next, ok = q[0], true
		s.queues[schema.Name] = q[1:]
	}
	fallback := s.fallback
	s.mu.Unlock()

	if !ok {
		if fallback == nil {
			return nil, fmt.Errorf("scripted client: no response queued for %s", schema.Name)
		}
		v, err := fallback(messages, schema)
		next = scripted{value: v, err: err}
	}
	if next.err != nil {
		return nil, next.err
	}
	switch v := next.value.(type) {
	case json.RawMessage:
		return v, nil
	case string:
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("scripted client: marshaling %s response: %w", schema.Name, err)
		}
		return data, nil
	}
}
