// Package prompt renders the prompt templates sent to the language model.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// ErrTemplateNotFound is returned when a template key does not resolve.
var ErrTemplateNotFound = errors.New("template not found")

// Store holds parsed templates keyed by dotted path, e.g.
// "development.dev_plan.base". It is read-only after loading.
type Store struct {
	raw       map[string]string
	templates map[string]*template.Template
}

// DefaultStore returns the store built from the embedded prompts.
func DefaultStore() (*Store, error) {
	return ParseStore(defaultPrompts)
}

// LoadStore loads the embedded prompts and, when path is non-empty, overlays
// the templates defined in the YAML file at path.
func LoadStore(path string) (*Store, error) {
	raw, err := flatten(defaultPrompts)
	if err != nil {
		return nil, fmt.Errorf("parsing embedded prompts: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts: %w", err)
		}
		override, err := flatten(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for k, v := range override {
			raw[k] = v
		}
	}
	return newStore(raw)
}

// ParseStore builds a store from a nested YAML mapping of templates.
func ParseStore(data []byte) (*Store, error) {
	raw, err := flatten(data)
	if err != nil {
		return nil, err
	}
	return newStore(raw)
}

func newStore(raw map[string]string) (*Store, error) {
	s := &Store{raw: raw, templates: make(map[string]*template.Template, len(raw))}
	for key, text := range raw {
		t, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", key, err)
		}
		s.templates[key] = t
	}
	return s, nil
}

// Keys returns the template keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Execute renders the template at key with data.
func (s *Store) Execute(key string, data map[string]any) (string, error) {
	t, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", key, err)
	}
	return b.String(), nil
}

func flatten(data []byte) (map[string]string, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := flattenInto(out, "", tree); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]string, prefix string, node map[string]any) error {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case string:
			out[key] = v
		case map[string]any:
			if err := flattenInto(out, key, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("prompt %s: unsupported value of type %T", key, v)
		}
	}
	return nil
}
