package parse

import (
	"strings"
	"testing"

	"github.com/phobologic/apdev/internal/lang"
	"github.com/phobologic/apdev/internal/model"
)

func setup(t *testing.T) func(source, modulePath string) []model.FunctionSource {
	t.Helper()
	l := lang.Languages["python"]
	if l == nil {
		t.Fatal("python not registered")
	}
	q, err := l.GetDefinitionQuery()
	if err != nil {
		t.Fatalf("GetDefinitionQuery: %v", err)
	}
	return func(source, modulePath string) []model.FunctionSource {
		p := l.NewParser()
		return ExtractFunctions(l, p, q, []byte(source), "test.py", modulePath)
	}
}

func TestExtractFunctionsTopLevel(t *testing.T) {
	t.Parallel()
	extract := setup(t)

	source := `import boto3


def get_client(region: str) -> "boto3.client":
    return boto3.client("eks", region_name=region)


class Helper:
    def method(self):
        pass


def list_pods(namespace):
    def inner():
        pass
    return inner
`
	funcs := extract(source, "example.k8s.shared")
	if len(funcs) != 2 {
		t.Fatalf("expected 2 functions, got %d: %+v", len(funcs), funcs)
	}

	f := funcs[0]
	if f.Name != "get_client" {
		t.Errorf("name = %q, want get_client", f.Name)
	}
	if f.Path != "example.k8s.shared.get_client" {
		t.Errorf("path = %q", f.Path)
	}
	if f.Signature != `get_client(region: str) -> "boto3.client"` {
		t.Errorf("sig = %q", f.Signature)
	}
	if f.Line != 4 {
		t.Errorf("line = %d, want 4", f.Line)
	}
	if !strings.HasPrefix(f.Code, "def get_client") || !strings.HasSuffix(f.Code, `region_name=region)`) {
		t.Errorf("code = %q", f.Code)
	}

	if funcs[1].Name != "list_pods" {
		t.Errorf("second function = %q, want list_pods", funcs[1].Name)
	}
}

func TestExtractFunctionsDecorated(t *testing.T) {
	t.Parallel()
	extract := setup(t)

	funcs := extract("@cache\ndef lookup(key):\n    return key\n", "")
	if len(funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(funcs))
	}
	if funcs[0].Path != "lookup" {
		t.Errorf("path = %q, want lookup", funcs[0].Path)
	}
	if !strings.HasPrefix(funcs[0].Code, "@cache\n") {
		t.Errorf("decorator missing from code: %q", funcs[0].Code)
	}
	if funcs[0].Signature != "lookup(key)" {
		t.Errorf("sig = %q", funcs[0].Signature)
	}
}

func TestExtractFunctionsEmpty(t *testing.T) {
	t.Parallel()
	extract := setup(t)

	if funcs := extract("", "mod"); len(funcs) != 0 {
		t.Errorf("expected 0 functions for empty source, got %d", len(funcs))
	}
}

func TestModulePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel, strip, want string
	}{
		{"example/k8s/shared.py", "", "example.k8s.shared"},
		{"tmp/uningested/example/k8s/shared.py", "tmp.uningested", "example.k8s.shared"},
		{"tmp/uningested/example/k8s/shared.py", "tmp.uningested.", "example.k8s.shared"},
		{"pkg/__init__.py", "", "pkg"},
		{"./top.py", "", "top"},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			t.Parallel()
			if got := ModulePath(tt.rel, tt.strip); got != tt.want {
				t.Errorf("ModulePath(%q, %q) = %q, want %q", tt.rel, tt.strip, got, tt.want)
			}
		})
	}
}
