package toon

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/ingest"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/merge"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/pipeline"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"carriage return", "a\rb", `"a\rb"`},
		{"true keyword", "true", `"true"`},
		{"True keyword", "True", `"True"`},
		{"false keyword", "false", `"false"`},
		{"null keyword", "null", `"null"`},
		{"numeric string", "42", `"42"`},
		{"negative numeric string", "-1", `"-1"`},
		{"float string", "3.14", `"3.14"`},
		{"leading zero", "01", "01"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "a:b", `"a:b"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"bracket", "a[b", `"a[b"`},
		{"brace", "a{b", `"a{b"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"dotted path", "example.k8s.shared.get_client", "example.k8s.shared.get_client"},
		{"signature", "run(self) -> None", "run(self) -> None"},
		{"typed signature", "f(x: int)", `"f(x: int)"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := encodeValue(tt.in)
			if got != tt.want {
				t.Errorf("encodeValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{true, "true"},
		{false, "false"},
		{3, "3"},
		{int64(-7), "-7"},
		{0.5, "0.5000"},
		{"true", `"true"`},
		{time.Second, "1s"},
	}
	for _, tt := range tests {
		if got := encodeCell(tt.in); got != tt.want {
			t.Errorf("encodeCell(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeRun(t *testing.T) {
	t.Parallel()

	params := model.GenerationParams{
		Guideline: model.Guideline{
			Name:     "assert_pod_healthy",
			Purpose:  "Check pods are running",
			Services: []string{"eks", "ec2"},
		},
		Timestamp: "1715000000",
	}
	res := &pipeline.Result{
		RunID: "run-1",
		Plan: model.SubfunctionPlan{
			Subfunctions: []model.SubfunctionGuideline{
				{Guideline: model.Guideline{Name: "get_client"}, FunctionSignature: "get_client()", Reusable: true, FunctionImportPath: "pkg.get_client"},
				{Guideline: model.Guideline{Name: "list_pods"}, FunctionSignature: "list_pods(ns)"},
			},
			MainFunction: &model.SubfunctionGuideline{Guideline: model.Guideline{Name: "assert_pod_healthy"}, FunctionSignature: "assert_pod_healthy()"},
		},
		Merged: merge.Result{
			Source:   "def f(:\n",
			Degraded: true,
			Err:      &merge.DegradationError{Fragment: 1, Err: merge.ErrSyntax},
		},
		Degraded: true,
		History: []llm.Exchange{
			{Stage: "plan_steps", Schema: "StepByStepPlan", Prompt: "abc", Response: []byte(`{}`), Elapsed: 1500 * time.Microsecond},
			{Stage: "review", Schema: "ReviewResult", Err: errors.New("boom")},
		},
		Elapsed: 2 * time.Second,
	}

	lines := strings.Split(EncodeRun(params, res), "\n")
	want := []string{
		"run: run-1",
		"function: assert_pod_healthy",
		`timestamp: "1715000000"`,
		"purpose: Check pods are running",
		"services[2]: eks,ec2",
		"degraded: true",
		`merge_error: "merge degraded to text concatenation: fragment 1: syntax error"`,
		"main_function: assert_pod_healthy()",
		"subfunctions[2]{name,signature,reusable,import_path}:",
		"  get_client,get_client(),true,pkg.get_client",
		`  list_pods,list_pods(ns),false,""`,
		"reusables[0]{key,resolved}:",
		"stages[2]{stage,schema,prompt_bytes,response_bytes,elapsed_ms,error}:",
		`  plan_steps,StepByStepPlan,3,2,1,""`,
		"  review,ReviewResult,0,0,0,boom",
		"output_bytes: 8",
		"elapsed: 2s",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestEncodeRecord(t *testing.T) {
	t.Parallel()

	r := artifact.Record{
		Name:                 "f",
		Timestamp:            "2024-05-01T10:00:00Z",
		RunID:                "run-1",
		FunctionCode:         "def f():\n    pass\n",
		Commentary:           "simple",
		SampleUsagePrimary:   "f()",
		SampleUsageAlternate: "type: action\nname: f\n",
		CreatedAt:            time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
	}
	got := EncodeRecord(r)
	for _, want := range []string{
		"name: f",
		`timestamp: "2024-05-01T10:00:00Z"`,
		"degraded: false",
		`created_at: "2024-05-01T10:00:01Z"`,
		"sample_usage_python: f()",
		`sample_usage_chaos_toolkit: "type: action\nname: f\n"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "def f") {
		t.Error("function code should not be encoded")
	}

	list := EncodeRecords([]artifact.Record{r})
	if list != "artifacts[1]{name,timestamp,run,degraded,bytes}:\n  f,\"2024-05-01T10:00:00Z\",run-1,false,18" {
		t.Errorf("EncodeRecords = %q", list)
	}
}

func TestEncodeIngest(t *testing.T) {
	t.Parallel()

	got := EncodeIngest(&ingest.Report{
		BatchID:    "b1",
		Files:      3,
		Functions:  7,
		Summarized: 7,
		Skipped:    []string{"bad.py"},
		Elapsed:    1234 * time.Millisecond,
	})
	want := "batch: b1\nfiles: 3\nfunctions: 7\nsummarized: 7\nskipped[1]: bad.py\nelapsed: 1.234s"
	if got != want {
		t.Errorf("EncodeIngest =\n%s\nwant\n%s", got, want)
	}
}
