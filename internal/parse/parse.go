// Package parse splits source files into module-level functions using tree-sitter.
package parse

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/apdev/internal/lang"
	"github.com/phobologic/apdev/internal/model"
)

// ExtractFunctions parses a source file and returns its module-level function
// definitions, decorators included, in source order. The parser must be
// created for l. modulePath is the dotted import path of the file and prefixes
// every returned FunctionSource.Path.
func ExtractFunctions(l *lang.Language, parser *sitter.Parser, query *sitter.Query, source []byte, file, modulePath string) []model.FunctionSource {
	if len(source) == 0 {
		return nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	var funcs []model.FunctionSource

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var nameNode, defNode *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "name":
				nameNode = c.Node
			case "definition.function":
				defNode = c.Node
			}
		}
		if nameNode == nil || defNode == nil {
			continue
		}

		name := lang.NodeText(nameNode, source)
		path := name
		if modulePath != "" {
			path = modulePath + "." + name
		}
		funcs = append(funcs, model.FunctionSource{
			Path:      path,
			Name:      name,
			Signature: l.ExtractSignature(defNode, source),
			Code:      lang.NodeText(defNode, source),
			Line:      int(nameNode.StartPoint().Row) + 1,
			File:      file,
		})
	}

	return funcs
}

// ModulePath converts a slash-separated file path relative to the ingestion
// root into a dotted module path, dropping the extension and an optional
// dotted prefix (e.g. "tmp.uningested").
func ModulePath(rel, stripPrefix string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	rel = strings.TrimPrefix(rel, "./")
	dotted := strings.ReplaceAll(rel, "/", ".")
	if stripPrefix != "" {
		stripPrefix = strings.TrimSuffix(stripPrefix, ".") + "."
		dotted = strings.TrimPrefix(dotted, stripPrefix)
	}
	if strings.HasSuffix(dotted, ".__init__") {
		dotted = strings.TrimSuffix(dotted, ".__init__")
	}
	return dotted
}
