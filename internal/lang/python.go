package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Python is the registered Python language.
var Python *Language

func init() {
	Python = &Language{
		Name:             "python",
		Extensions:       []string{".py"},
		lang:             python.GetLanguage(),
		ExtractSignature: pythonExtractFunctionSignature,
	}
	Languages["python"] = Python
}

// PythonDefinition unwraps a decorated_definition to the definition it
// decorates. Any other node is returned unchanged.
func PythonDefinition(node *sitter.Node) *sitter.Node {
	if node != nil && node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return node
}

// PythonFunctionName returns the name of a (possibly decorated) function
// definition, or "" when node is not a function.
func PythonFunctionName(node *sitter.Node, source []byte) string {
	def := PythonDefinition(node)
	if def == nil || def.Type() != "function_definition" {
		return ""
	}
	name := def.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return NodeText(name, source)
}

func pythonExtractFunctionSignature(node *sitter.Node, source []byte) string {
	node = PythonDefinition(node)
	var name, params, returnType string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = NodeText(child, source)
			}
		case "parameters":
			params = CollapseWhitespace(NodeText(child, source))
		case "type":
			returnType = NodeText(child, source)
		}
	}
	sig := name + params
	if returnType != "" {
		sig += " -> " + returnType
	}
	return sig
}
