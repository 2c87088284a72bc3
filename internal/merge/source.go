package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/phobologic/apdev/internal/lang"
)

// Clean strips a surrounding markdown code fence and any indentation common
// to every non-blank line.
func Clean(src string) string {
	return dedent(stripFences(src))
}

func stripFences(src string) string {
	t := strings.TrimSpace(src)
	if !strings.HasPrefix(t, "```") {
		return src
	}
	lines := strings.Split(t, "\n")[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

func dedent(src string) string {
	lines := strings.Split(src, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return src
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

// FunctionNames returns the names of the module-level functions in src,
// decorated and async definitions included, in source order.
func FunctionNames(src string) ([]string, error) {
	source := []byte(Clean(src))
	tree, err := lang.Python.Parse(context.Background(), source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%w at line %d", ErrSyntax, firstError(root).StartPoint().Row+1)
	}
	var names []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if name := lang.PythonFunctionName(root.NamedChild(i), source); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// RenameFunction renames the module-level definition of from to to. Only the
// name in the def line changes; call sites are left alone. The source is
// returned cleaned but otherwise unchanged when from is not defined.
func RenameFunction(src, from, to string) (string, error) {
	source := []byte(Clean(src))
	tree, err := lang.Python.Parse(context.Background(), source)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return "", fmt.Errorf("%w at line %d", ErrSyntax, firstError(root).StartPoint().Row+1)
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		def := lang.PythonDefinition(root.NamedChild(i))
		if def.Type() != "function_definition" {
			continue
		}
		name := def.ChildByFieldName("name")
		if name == nil || lang.NodeText(name, source) != from {
			continue
		}
		return string(source[:name.StartByte()]) + to + string(source[name.EndByte():]), nil
	}
	return string(source), nil
}
