package llm

import (
	"encoding/json"
	"sync"
	"time"
)

// Exchange is one recorded model call.
type Exchange struct {
	Stage    string
	Schema   string
	Prompt   string
	Response json.RawMessage
	Err      error
	Elapsed  time.Duration
}

// History is an ordered record of exchanges. Each run owns its own History;
// the zero value is ready to use.
type History struct {
	mu    sync.Mutex
	items []Exchange
}

// Add appends e.
func (h *History) Add(e Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, e)
}

// Exchanges returns a copy of the recorded exchanges.
func (h *History) Exchanges() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Exchange, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of recorded exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
