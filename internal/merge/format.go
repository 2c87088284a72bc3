package merge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/apdev/internal/lang"
)

// Formatter rewrites Python source into a canonical form.
// Implementations must be idempotent.
type Formatter interface {
	Format(src string) (string, error)
}

// Canonical normalizes whitespace only: line endings become \n, trailing
// whitespace is stripped, leading blank lines are dropped, runs of blank
// lines are capped at two and the result ends with exactly one newline.
// Lines that lie inside a multi-line string literal are kept byte for byte.
// It never fails.
type Canonical struct{}

// Format implements Formatter.
func (Canonical) Format(src string) (string, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")

	literal := literalRows(src)
	lines := strings.Split(src, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for row, line := range lines {
		if literal[row] {
			blank = 0
			out = append(out, line)
			continue
		}
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if len(out) == 0 || blank > 2 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}

	s := strings.TrimRight(strings.Join(out, "\n"), "\n")
	if s == "" {
		return "", nil
	}
	return s + "\n", nil
}

// literalRows returns the rows whose line ending falls inside a string
// literal: every row of a multi-line string except its last. It returns
// nil when src cannot be parsed.
func literalRows(src string) map[int]bool {
	if !strings.Contains(src, "\n") {
		return nil
	}
	tree, err := lang.Python.Parse(context.Background(), []byte(src))
	if err != nil {
		return nil
	}
	defer tree.Close()

	rows := make(map[int]bool)
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "string" {
			for r := int(n.StartPoint().Row); r < int(n.EndPoint().Row); r++ {
				rows[r] = true
			}
			continue
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			stack = append(stack, n.Child(i))
		}
	}
	return rows
}

// Command pipes source through an external formatter such as
// "ruff format -" or "black -q -" and canonicalizes its output.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Format implements Formatter.
func (c Command) Format(src string) (string, error) {
	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = strings.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running %s: %w: %s", c.Name, err, strings.TrimSpace(stderr.String()))
	}
	return Canonical{}.Format(stdout.String())
}

// NewFormatter returns the formatter for kind: "canonical" (or empty) or
// "command", which requires a command line.
func NewFormatter(kind string, command []string, timeout time.Duration) (Formatter, error) {
	switch kind {
	case "", "canonical":
		return Canonical{}, nil
	case "command":
		if len(command) == 0 {
			return nil, fmt.Errorf("formatter %q: no command configured", kind)
		}
		return Command{Name: command[0], Args: command[1:], Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown formatter %q", kind)
	}
}
