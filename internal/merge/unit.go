package merge

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/apdev/internal/lang"
)

const futureModule = "__future__"

type importKey struct {
	from   bool
	module string
}

type fromImport struct {
	module  string
	symbols []string
	aliases map[string]string
}

func (f *fromImport) add(symbol, alias string) {
	if _, ok := f.aliases[symbol]; ok {
		return
	}
	f.aliases[symbol] = alias
	f.symbols = append(f.symbols, symbol)
}

func (f *fromImport) String() string {
	names := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		names[i] = withAlias(s, f.aliases[s])
	}
	return "from " + f.module + " import " + strings.Join(names, ", ")
}

// entry is a top-level statement with any comments attached to it.
type entry struct {
	code  string
	block bool // spans more than one line
}

// unit accumulates the merged top level of all fragments seen so far.
type unit struct {
	order     []importKey
	plain     map[string]string
	froms     map[string]*fromImport
	funcNames []string
	funcs     map[string]*entry
	others    []*entry
	pending   []string // comments waiting for the next statement
}

func newUnit() *unit {
	return &unit{
		plain: make(map[string]string),
		froms: make(map[string]*fromImport),
		funcs: make(map[string]*entry),
	}
}

func (u *unit) add(ctx context.Context, src []byte) error {
	tree, err := lang.Python.Parse(ctx, src)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		n := firstError(root)
		return fmt.Errorf("%w at line %d", ErrSyntax, n.StartPoint().Row+1)
	}

	var prev *entry
	prevRow := -1
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		text := lang.NodeText(n, src)

		switch n.Type() {
		case "comment":
			if int(n.StartPoint().Row) == prevRow {
				// Trailing comment on the previous statement's last line.
				if prev != nil {
					prev.code += "  " + text
				}
				continue
			}
			u.pending = append(u.pending, text)
			continue
		case "import_statement":
			u.addImport(n, src)
			u.pending, prev = nil, nil
		case "import_from_statement":
			u.addFromImport(n, src, false)
			u.pending, prev = nil, nil
		case "future_import_statement":
			u.addFromImport(n, src, true)
			u.pending, prev = nil, nil
		default:
			e := &entry{
				code:  u.takePending() + text,
				block: n.StartPoint().Row != n.EndPoint().Row,
			}
			if name := lang.PythonFunctionName(n, src); name != "" {
				u.addFunc(name, e)
			} else {
				u.others = append(u.others, e)
			}
			prev = e
		}
		prevRow = int(n.EndPoint().Row)
	}
	// Comments closing a fragment stay in it rather than attaching to the
	// next fragment's first statement.
	if tail := u.takePending(); tail != "" {
		u.others = append(u.others, &entry{code: strings.TrimSuffix(tail, "\n")})
	}
	return nil
}

func (u *unit) addImport(n *sitter.Node, src []byte) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		module, alias := importName(n.NamedChild(i), src)
		if module == "" {
			continue
		}
		if _, ok := u.plain[module]; ok {
			continue
		}
		u.plain[module] = alias
		u.order = append(u.order, importKey{module: module})
	}
}

func (u *unit) addFromImport(n *sitter.Node, src []byte, future bool) {
	module := futureModule
	var moduleNode *sitter.Node
	if !future {
		moduleNode = n.ChildByFieldName("module_name")
		if moduleNode == nil {
			return
		}
		module = lang.NodeText(moduleNode, src)
	}

	fi, ok := u.froms[module]
	if !ok {
		fi = &fromImport{module: module, aliases: make(map[string]string)}
		u.froms[module] = fi
		u.order = append(u.order, importKey{from: true, module: module})
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if moduleNode != nil && c.StartByte() == moduleNode.StartByte() && c.EndByte() == moduleNode.EndByte() {
			continue
		}
		if c.Type() == "wildcard_import" {
			fi.add("*", "")
			continue
		}
		if symbol, alias := importName(c, src); symbol != "" {
			fi.add(symbol, alias)
		}
	}
}

func (u *unit) addFunc(name string, e *entry) {
	if _, ok := u.funcs[name]; !ok {
		u.funcNames = append(u.funcNames, name)
	}
	u.funcs[name] = e
}

func (u *unit) takePending() string {
	if len(u.pending) == 0 {
		return ""
	}
	s := strings.Join(u.pending, "\n") + "\n"
	u.pending = nil
	return s
}

func (u *unit) importCount() int {
	n := len(u.plain)
	for _, fi := range u.froms {
		n += len(fi.symbols)
	}
	return n
}

// String serializes the unit: imports (future imports first), then
// functions in first-seen order, then the remaining statements.
func (u *unit) String() string {
	var imports []string
	if fi, ok := u.froms[futureModule]; ok {
		imports = append(imports, fi.String())
	}
	for _, k := range u.order {
		switch {
		case !k.from:
			imports = append(imports, "import "+withAlias(k.module, u.plain[k.module]))
		case k.module != futureModule:
			imports = append(imports, u.froms[k.module].String())
		}
	}

	var sections []string
	if len(imports) > 0 {
		sections = append(sections, strings.Join(imports, "\n"))
	}
	for _, name := range u.funcNames {
		sections = append(sections, u.funcs[name].code)
	}

	others := u.others
	if len(others) > 0 {
		var b strings.Builder
		for i, e := range others {
			if i > 0 {
				if e.block || others[i-1].block {
					b.WriteString("\n\n\n")
				} else {
					b.WriteString("\n")
				}
			}
			b.WriteString(e.code)
		}
		sections = append(sections, b.String())
	}

	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n\n") + "\n"
}

func importName(n *sitter.Node, src []byte) (name, alias string) {
	switch n.Type() {
	case "dotted_name":
		return lang.NodeText(n, src), ""
	case "aliased_import":
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			return "", ""
		}
		if a := n.ChildByFieldName("alias"); a != nil {
			alias = lang.NodeText(a, src)
		}
		return lang.NodeText(nameNode, src), alias
	}
	return "", ""
}

func withAlias(name, alias string) string {
	if alias == "" {
		return name
	}
	return name + " as " + alias
}

// firstError returns the first ERROR or missing node below n, or n itself.
func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			return firstError(c)
		}
	}
	return n
}
