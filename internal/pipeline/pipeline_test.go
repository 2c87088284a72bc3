package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/merge"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

type stubSearcher struct {
	hits    []index.Hit
	err     error
	queries []string
	ks      []int
}

func (s *stubSearcher) Search(_ context.Context, query string, k int) ([]index.Hit, error) {
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.hits) {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func hit(path, signature, summary string) index.Hit {
	return index.Hit{Summary: summary, Metadata: index.Metadata{Signature: signature, Path: path}}
}

func testStore(t *testing.T) *prompt.Store {
	t.Helper()
	s, err := prompt.DefaultStore()
	require.NoError(t, err)
	return s
}

func steps(purposes ...string) map[string]any {
	list := make([]map[string]any, len(purposes))
	for i, p := range purposes {
		list[i] = map[string]any{"step_number": i + 1, "purpose": p}
	}
	return map[string]any{"list_of_steps": list}
}

func sub(name, signature, importPath string) map[string]any {
	return map[string]any{
		"name":                 name,
		"purpose":              "purpose of " + name,
		"services":             []string{"eks"},
		"function_signature":   signature,
		"reusable":             importPath != "",
		"function_import_path": importPath,
	}
}

func subPlan(main map[string]any, notes string, subs ...map[string]any) map[string]any {
	if subs == nil {
		subs = []map[string]any{}
	}
	return map[string]any{
		"list_of_subfunctions": subs,
		"main_function":        main,
		"combination_notes":    notes,
	}
}

func userPrompt(c llm.Call) string {
	for _, m := range c.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

var podGuideline = model.Guideline{
	Name:     "assert_pod_healthy",
	Purpose:  "Check that every pod in a namespace of an EKS cluster is running.",
	Services: []string{"eks"},
}

const (
	draftCode = `from kubernetes import client

def list_namespace_pods(api, namespace):
    return api.list_namespaced_pod(namespace).items
`
	revisedCode = "```python\n" + `import logging
from kubernetes import client


def list_namespace_pods(api: client.CoreV1Api, namespace: str) -> list:
    logging.info("listing pods in %s", namespace)
    return api.list_namespaced_pod(namespace).items
` + "```"
	combinedCode = `from example.k8s.shared import get_eks_api_client
from kubernetes import client


def list_namespace_pods(api: client.CoreV1Api, namespace: str) -> list:
    return api.list_namespaced_pod(namespace).items


def check_pods(cluster_name: str, namespace: str = "default") -> bool:
    api = get_eks_api_client(cluster_name)
    pods = list_namespace_pods(api, namespace)
    return all(p.status.phase == "Running" for p in pods)
`
)

func scriptPodRun() *llm.ScriptedClient {
	c := llm.NewScriptedClient()
	c.Push("StepByStepPlan", steps("get an EKS api client", "list the pods", "check their phase"))
	c.Push("SubfunctionPlan", subPlan(
		sub("assert_pod_healthy", "assert_pod_healthy(cluster_name: str, namespace: str) -> bool", ""),
		"get the client, list the pods and check that all are running",
		sub("get_eks_api_client", "get_eks_api_client(cluster_name: str) -> client.CoreV1Api", "example.k8s.shared.get_eks_api_client"),
		sub("list_namespace_pods", "list_namespace_pods(api: client.CoreV1Api, namespace: str) -> list", ""),
	))
	c.Push("StepByStepPlan", steps("call list_namespaced_pod", "return the items"))
	c.Push("GeneratedCode", map[string]any{"function_code": draftCode})
	c.Push("ReviewResult", map[string]any{"needs_revision": true, "revised_code": revisedCode})
	c.Push("CombinedOutput", map[string]any{
		"function_code":              combinedCode,
		"commentary":                 "uses the shared EKS client",
		"sample_usage_python":        `assert_pod_healthy("prod", "default")`,
		"sample_usage_chaos_toolkit": "type: probe\nname: assert-pod-healthy\n",
	})
	return c
}

func TestDeveloperRunAssertPodHealthy(t *testing.T) {
	t.Parallel()

	client := scriptPodRun()
	searcher := &stubSearcher{hits: []index.Hit{
		hit("example.k8s.shared.get_eks_api_client",
			"get_eks_api_client(cluster_name: str) -> client.CoreV1Api",
			"Builds a kubernetes API client for an EKS cluster."),
		hit("example.ec2.shared.stop_instance", "stop_instance(instance_id: str) -> None", "Stops an EC2 instance."),
	}}
	d := NewDeveloper(client, testStore(t), searcher, WithTopK(5), WithRunID("run-1"))

	res, err := d.Run(context.Background(), podGuideline)
	require.NoError(t, err)
	assert.Zero(t, client.Remaining())
	assert.Equal(t, "run-1", res.RunID)

	src := res.Combined.FunctionCode
	assert.Equal(t, res.Merged.Source, src)
	assert.False(t, res.Degraded)
	assert.Nil(t, res.Merged.Err)

	assert.Equal(t, 1, strings.Count(src, "def assert_pod_healthy("), src)
	assert.NotContains(t, src, "def check_pods(")
	assert.Equal(t, 1, strings.Count(src, "def list_namespace_pods("), src)
	assert.Equal(t, 1, strings.Count(src, "from kubernetes import client"), src)
	assert.Equal(t, 1, strings.Count(src, "from example.k8s.shared import get_eks_api_client"), src)
	assert.Contains(t, src, "import logging")
	assert.NotContains(t, src, "```")
	// the combined definition of list_namespace_pods is the last one seen
	assert.NotContains(t, src, "logging.info")
	assert.Less(t, strings.Index(src, "def list_namespace_pods("), strings.Index(src, "def assert_pod_healthy("))

	names, err := merge.FunctionNames(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"list_namespace_pods", "assert_pod_healthy"}, names)

	require.Len(t, searcher.queries, 1)
	assert.Equal(t, "1: get an EKS api client\n2: list the pods\n3: check their phase", searcher.queries[0])
	assert.Equal(t, []int{5}, searcher.ks)

	assert.Equal(t, []string{"get_eks_api_client"}, res.Reusables.Keys())
	assert.True(t, res.Reusables.Resolved("get_eks_api_client"))
	require.Len(t, res.Generated, 1)
	assert.Contains(t, res.Generated[0], "logging.info")

	calls := client.Calls()
	var schemas []string
	for _, c := range calls {
		schemas = append(schemas, c.Schema)
	}
	assert.Equal(t, []string{
		"StepByStepPlan", "SubfunctionPlan",
		"StepByStepPlan", "GeneratedCode", "ReviewResult",
		"CombinedOutput",
	}, schemas)

	assert.Contains(t, userPrompt(calls[1]), "Import Path: example.k8s.shared.get_eks_api_client")
	assert.Contains(t, userPrompt(calls[1]), "Import Path: example.ec2.shared.stop_instance")

	subGen := userPrompt(calls[3])
	assert.Contains(t, subGen, "Name: list_namespace_pods")
	assert.Contains(t, subGen, "Function_signature: list_namespace_pods(api: client.CoreV1Api, namespace: str) -> list")
	assert.Contains(t, subGen, "Step_number: 2\nPurpose: return the items")
	assert.NotContains(t, subGen, "Reusable")
	assert.NotContains(t, subGen, "Function_import_path")

	combine := userPrompt(calls[5])
	assert.Contains(t, combine, "Name: assert_pod_healthy")
	assert.Contains(t, combine, "Import them as needed")
	assert.Contains(t, combine, "Function Summary: Builds a kubernetes API client for an EKS cluster.")
	assert.Contains(t, combine, "logging.info")
	assert.Contains(t, combine, "get the client, list the pods and check that all are running")
	assert.NotContains(t, combine, "stop_instance")

	require.Len(t, res.History, 6)
	assert.Equal(t, StagePlanSteps, res.History[0].Stage)
	assert.Equal(t, StagePlanSubfunctions, res.History[1].Stage)
	assert.Equal(t, StageReview, res.History[4].Stage)
	assert.Equal(t, StageCombine, res.History[5].Stage)
	assert.Len(t, d.History(), 6)
}

func TestDeveloperRunFakeProvider(t *testing.T) {
	t.Parallel()

	g := model.Guideline{Name: "restart_node", Purpose: "Restart a node.", Services: []string{"ec2"}}
	res, err := NewDeveloper(llm.NewFakeClient(), testStore(t), nil).Run(context.Background(), g)
	require.NoError(t, err)

	src := res.Combined.FunctionCode
	assert.Equal(t, 1, strings.Count(src, "def restart_node("), src)
	assert.Equal(t, 1, strings.Count(src, "def restart_node_step("), src)
	assert.Contains(t, src, "    restart_node_step()")
	assert.Equal(t, 0, res.Reusables.Len())
	assert.NotEmpty(t, res.RunID)
}

func TestDeveloperRunInvalidGuideline(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	_, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(),
		model.Guideline{Name: "not valid", Purpose: "x"})
	require.ErrorIs(t, err, model.ErrInvalidGuideline)
	assert.Empty(t, client.Calls())
}

func TestDeveloperRunPlanValidation(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("StepByStepPlan", steps("do it"))
	client.Push("SubfunctionPlan", map[string]any{
		"list_of_subfunctions": []any{},
		"combination_notes":    "",
	})

	_, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(), podGuideline)
	require.ErrorIs(t, err, ErrPlanValidation)
	var ve *llm.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "SubfunctionPlan", ve.Schema)
	assert.Len(t, client.Calls(), 2, "no retry and no further stages")
}

func TestDeveloperRunEmptyStepPlan(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("StepByStepPlan", `{"list_of_steps": []}`)

	_, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(), podGuideline)
	require.ErrorIs(t, err, ErrPlanValidation)
}

func TestDeveloperRunCollaboratorFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("model", func(t *testing.T) {
		t.Parallel()
		client := llm.NewScriptedClient().PushError("StepByStepPlan", boom)
		_, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(), podGuideline)
		var ce *CollaboratorError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, StagePlanSteps, ce.Op)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrPlanValidation)
	})

	t.Run("index", func(t *testing.T) {
		t.Parallel()
		client := llm.NewScriptedClient().Push("StepByStepPlan", steps("do it"))
		_, err := NewDeveloper(client, testStore(t), &stubSearcher{err: boom}).Run(context.Background(), podGuideline)
		var ce *CollaboratorError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "search", ce.Op)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("review aborts the run", func(t *testing.T) {
		t.Parallel()
		client := llm.NewScriptedClient()
		client.Push("StepByStepPlan", steps("do it"))
		client.Push("SubfunctionPlan", subPlan(sub("assert_pod_healthy", "assert_pod_healthy() -> bool", ""), "",
			sub("helper", "helper() -> None", "")))
		client.Push("StepByStepPlan", steps("help"))
		client.Push("GeneratedCode", map[string]any{"function_code": "def helper():\n    pass\n"})
		client.Push("ReviewResult", map[string]any{"needs_revision": true, "revised_code": ""})

		_, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(), podGuideline)
		var ce *CollaboratorError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "review helper", ce.Op)
		var ve *llm.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Contains(t, err.Error(), "subfunction helper")
	})
}

func TestDeveloperRunDegradedMerge(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("StepByStepPlan", steps("do it"))
	client.Push("SubfunctionPlan", subPlan(sub("assert_pod_healthy", "assert_pod_healthy() -> bool", ""), ""))
	client.Push("CombinedOutput", map[string]any{
		"function_code":              "def assert_pod_healthy(:\n    return True\n",
		"commentary":                 "",
		"sample_usage_python":        "",
		"sample_usage_chaos_toolkit": "",
	})

	res, err := NewDeveloper(client, testStore(t), nil).Run(context.Background(), podGuideline)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	var de *merge.DegradationError
	require.ErrorAs(t, res.Merged.Err, &de)
	assert.Equal(t, 0, de.Fragment)
	assert.Contains(t, res.Combined.FunctionCode, "def assert_pod_healthy(:")
	assert.Empty(t, res.Generated)
}

func TestDeveloperRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDeveloper(llm.NewFakeClient(), testStore(t), nil).Run(ctx, podGuideline)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolverSuffixKeys(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("StepByStepPlan", steps("get a client", "scale the deployment"))
	client.Push("SubfunctionPlan", subPlan(sub("scale", "scale() -> None", ""), "",
		sub("get_client", "get_client() -> Client", "pkg.a.get_client"),
		sub("scale_deployment", "scale_deployment(name: str) -> None", "pkg.k8s.scale_deployment"),
		sub("missing", "missing() -> None", "pkg.gone.missing"),
		sub("write_code", "write_code() -> None", ""),
	))
	searcher := &stubSearcher{hits: []index.Hit{
		hit("other.mod.get_client", "get_client(region)", "first get_client"),
		hit("pkg.k8s.scale_deployment", "scale_deployment(name)", "scales"),
		hit("pkg.a.get_client", "get_client()", "second get_client"),
		hit("pkg.unrelated", "unrelated()", "not planned"),
	}}

	b := prompt.NewBuilder(testStore(t), model.Guideline{Name: "scale", Purpose: "Scale.", Services: []string{}})
	r := NewResolver(NewPlanner(client, nil), searcher, nil)
	plan, reusables, err := r.Resolve(context.Background(), b, 4)
	require.NoError(t, err)

	assert.Len(t, plan.Subfunctions, 4)
	assert.Equal(t, []string{"get_client", "scale_deployment", "missing"}, reusables.Keys())

	v, ok := reusables.Get("get_client")
	require.True(t, ok)
	assert.Contains(t, v, "Function Summary: second get_client")
	assert.Contains(t, v, "Import Path: pkg.a.get_client")

	v, _ = reusables.Get("scale_deployment")
	assert.Equal(t, "###\nFunction Signature: scale_deployment(name)\nFunction Summary: scales\nImport Path: pkg.k8s.scale_deployment", v)

	assert.False(t, reusables.Resolved("missing"))
	v, _ = reusables.Get("missing")
	assert.Contains(t, v, "Import Path: pkg.gone.missing")

	_, ok = reusables.Get("unrelated")
	assert.False(t, ok)
	assert.Len(t, reusables.Values(), 3)
}

func TestResolverWithoutSearch(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("StepByStepPlan", steps("do it"))
	client.Push("SubfunctionPlan", subPlan(sub("x", "x()", ""), "notes"))
	searcher := &stubSearcher{}

	b := prompt.NewBuilder(testStore(t), model.Guideline{Name: "x", Purpose: "X."})
	_, reusables, err := NewResolver(NewPlanner(client, nil), searcher, nil).Resolve(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Empty(t, searcher.queries)
	assert.Zero(t, reusables.Len())
}

func TestPlannerMapSubfunctions(t *testing.T) {
	t.Parallel()

	client := llm.NewScriptedClient()
	client.Push("SubfunctionPlan", subPlan(sub("x", "x()", ""), "notes", sub("y", "y()", "")))

	b := prompt.NewBuilder(testStore(t), model.Guideline{Name: "x", Purpose: "X."})
	plan, err := NewPlanner(client, nil).MapSubfunctions(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "x", plan.MainFunction.Name)
	require.Len(t, plan.Pending(), 1)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, userPrompt(calls[0]), "map every step of the plan onto a subfunction")
	assert.Equal(t, llm.RoleSystem, calls[0].Messages[0].Role)
}

func TestCombinerEntryRename(t *testing.T) {
	t.Parallel()

	plan := model.SubfunctionPlan{
		Subfunctions: []model.SubfunctionGuideline{{Guideline: model.Guideline{Name: "helper"}}},
		MainFunction: &model.SubfunctionGuideline{Guideline: model.Guideline{Name: "main_fn"}},
	}
	tests := []struct {
		name string
		code string
		want []string
	}{
		{"already named", "def helper():\n    pass\n\n\ndef main_fn():\n    helper()\n", []string{"helper", "main_fn"}},
		{"renamed", "def helper():\n    pass\n\n\ndef run():\n    helper()\n", []string{"helper", "main_fn"}},
		{"last unplanned wins", "def run():\n    pass\n\n\ndef go():\n    run()\n\n\ndef helper():\n    pass\n", []string{"run", "main_fn", "helper"}},
		{"only planned", "def helper():\n    pass\n", []string{"helper"}},
	}
	c := NewCombiner(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := merge.FunctionNames(c.normalizeEntry(tt.code, plan))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombinerUnparseableCodeUnchanged(t *testing.T) {
	t.Parallel()

	plan := model.SubfunctionPlan{MainFunction: &model.SubfunctionGuideline{Guideline: model.Guideline{Name: "main_fn"}}}
	code := "def run(:\n"
	assert.Equal(t, code, NewCombiner(nil, nil).normalizeEntry(code, plan))
}
