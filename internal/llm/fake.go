package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	guidelineNameRe = regexp.MustCompile(`(?m)^Name: (\w+)`)
	pythonDefRe     = regexp.MustCompile(`(?m)^def (\w+)\(([^)]*)\)`)
)

// NewFakeClient returns a scripted client whose fallback produces minimal,
// deterministic outputs for every pipeline schema. It lets the pipeline run
// offline.
func NewFakeClient() *ScriptedClient {
	c := NewScriptedClient().SetFallback(fakeResponse)
	c.name = "fake"
	return c
}

func fakeResponse(messages []Message, schema Schema) (any, error) {
	prompt := lastUser(messages)
	name := "generated_function"
	if m := guidelineNameRe.FindStringSubmatch(prompt); m != nil {
		name = m[1]
	}

	switch schema.Name {
	case "StepByStepPlan":
		return map[string]any{
			"list_of_steps": []map[string]any{
				{"step_number": 1, "purpose": "implement " + name},
			},
		}, nil
	case "SubfunctionPlan":
		helper := map[string]any{
			"name":                 name + "_step",
			"purpose":              "perform the work of " + name,
			"services":             []string{},
			"function_signature":   name + "_step() -> None",
			"reusable":             false,
			"function_import_path": "",
		}
		main := map[string]any{
			"name":                 name,
			"purpose":              "entry point",
			"services":             []string{},
			"function_signature":   name + "() -> None",
			"reusable":             false,
			"function_import_path": "",
		}
		return map[string]any{
			"list_of_subfunctions": []any{helper},
			"main_function":        main,
			"combination_notes":    "call " + name + "_step",
		}, nil
	case "GeneratedCode":
		return map[string]any{
			"function_code": fmt.Sprintf("def %s():\n    return None\n", name),
		}, nil
	case "ReviewResult":
		return map[string]any{"needs_revision": false, "revised_code": ""}, nil
	case "CombinedOutput":
		var calls []string
		for _, m := range pythonDefRe.FindAllStringSubmatch(prompt, -1) {
			if m[1] != name {
				calls = append(calls, "    "+m[1]+"()")
			}
		}
		if len(calls) == 0 {
			calls = []string{"    pass"}
		}
		return map[string]any{
			"function_code":              fmt.Sprintf("def %s():\n%s\n", name, strings.Join(calls, "\n")),
			"commentary":                 "generated offline by the fake provider",
			"sample_usage_python":        name + "()",
			"sample_usage_chaos_toolkit": fmt.Sprintf("type: action\nname: %s\nprovider:\n  type: python\n  func: %s\n", name, name),
		}, nil
	case "FunctionDescription":
		sig := name + "()"
		if m := pythonDefRe.FindStringSubmatch(prompt); m != nil {
			sig = m[1] + "(" + m[2] + ")"
		}
		return map[string]any{"function_signature": sig, "summary": "function " + sig}, nil
	}
	return nil, fmt.Errorf("fake client: unsupported schema %s", schema.Name)
}
