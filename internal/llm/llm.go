// Package llm provides structured-output completion against language model
// providers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Schema names and describes the JSON document a completion must produce.
type Schema struct {
	Name        string
	Description string
	JSON        json.RawMessage
}

// Client generates a JSON document conforming to a schema.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, messages []Message, schema Schema) (json.RawMessage, error)
	Close() error
}

// Validator is implemented by output types with constraints beyond their
// JSON shape. Validate may normalize the receiver.
type Validator interface {
	Validate() error
}

// ValidationError reports model output that does not satisfy its schema.
type ValidationError struct {
	Schema string
	Raw    json.RawMessage
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating %s output: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var schemaCache sync.Map // reflect.Type -> Schema

// SchemaFor reflects the JSON schema of T. Schemas are inlined (no $ref)
// and reject additional properties.
func SchemaFor[T any]() (Schema, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if s, ok := schemaCache.Load(t); ok {
		return s.(Schema), nil
	}

	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	js := r.ReflectFromType(t)
	js.Version = ""
	js.ID = ""
	data, err := json.Marshal(js)
	if err != nil {
		return Schema{}, fmt.Errorf("marshaling schema for %s: %w", t.Name(), err)
	}

	s := Schema{Name: t.Name(), Description: js.Description, JSON: data}
	schemaCache.Store(t, s)
	return s, nil
}

// Complete asks c for a T. The response is decoded strictly and validated;
// any mismatch is returned as a *ValidationError. Provider errors are
// returned unchanged.
func Complete[T any](ctx context.Context, c Client, messages []Message) (T, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	raw, err := c.GenerateJSON(ctx, messages, schema)
	if err != nil {
		return zero, err
	}
	return Decode[T](schema.Name, raw)
}

// Decode strictly decodes raw into a T and runs its Validate method.
func Decode[T any](schema string, raw json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(trimJSON(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, &ValidationError{Schema: schema, Raw: raw, Err: err}
	}
	if dec.More() {
		return v, &ValidationError{Schema: schema, Raw: raw, Err: fmt.Errorf("trailing data after JSON document")}
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, &ValidationError{Schema: schema, Raw: raw, Err: err}
		}
	}
	return v, nil
}

// trimJSON removes whitespace and a markdown code fence some models wrap
// around JSON output.
func trimJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}

type stageKey struct{}

// WithStage labels calls made with ctx, e.g. "plan_steps" or "review".
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage label of ctx, or "".
func StageFrom(ctx context.Context) string {
	s, _ := ctx.Value(stageKey{}).(string)
	return s
}

// lastUser returns the content of the last user message.
func lastUser(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
