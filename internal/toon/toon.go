// Package toon encodes run reports in TOON (Token-Oriented Object Notation).
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/ingest"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/pipeline"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeRun summarizes a generation run: the guideline, the plan, the
// reuse mapping and one row per model exchange. Code is not included.
func EncodeRun(params model.GenerationParams, res *pipeline.Result) string {
	var parts []string

	parts = append(parts, field("run", res.RunID))
	parts = append(parts, field("function", params.Name))
	if params.Timestamp != "" {
		parts = append(parts, field("timestamp", params.Timestamp))
	}
	parts = append(parts, field("purpose", params.Purpose))
	parts = append(parts, formatList("services", params.Services))
	parts = append(parts, field("degraded", res.Degraded))
	if res.Merged.Err != nil {
		parts = append(parts, field("merge_error", res.Merged.Err.Error()))
	}

	if res.Plan.MainFunction != nil {
		parts = append(parts, field("main_function", res.Plan.MainFunction.FunctionSignature))
	}
	var subRows [][]any
	for _, s := range res.Plan.Subfunctions {
		subRows = append(subRows, []any{s.Name, s.FunctionSignature, s.Reusable, s.FunctionImportPath})
	}
	parts = append(parts, formatTabular("subfunctions", []string{"name", "signature", "reusable", "import_path"}, subRows))

	var reuseRows [][]any
	for _, k := range res.Reusables.Keys() {
		reuseRows = append(reuseRows, []any{k, res.Reusables.Resolved(k)})
	}
	parts = append(parts, formatTabular("reusables", []string{"key", "resolved"}, reuseRows))

	var stageRows [][]any
	for _, e := range res.History {
		errText := ""
		if e.Err != nil {
			errText = e.Err.Error()
		}
		stageRows = append(stageRows, []any{e.Stage, e.Schema, len(e.Prompt), len(e.Response), e.Elapsed.Milliseconds(), errText})
	}
	parts = append(parts, formatTabular("stages", []string{"stage", "schema", "prompt_bytes", "response_bytes", "elapsed_ms", "error"}, stageRows))

	parts = append(parts, field("output_bytes", len(res.Merged.Source)))
	parts = append(parts, field("elapsed", res.Elapsed.Round(time.Millisecond).String()))
	return strings.Join(parts, "\n")
}

// EncodeRecord renders a stored artifact without its function code.
func EncodeRecord(r artifact.Record) string {
	parts := []string{
		field("name", r.Name),
		field("timestamp", r.Timestamp),
		field("run", r.RunID),
		field("degraded", r.Degraded),
		field("created_at", r.CreatedAt.UTC().Format(time.RFC3339)),
		field("commentary", r.Commentary),
		field("sample_usage_python", r.SampleUsagePrimary),
		field("sample_usage_chaos_toolkit", r.SampleUsageAlternate),
	}
	return strings.Join(parts, "\n")
}

// EncodeRecords lists stored artifacts, one row each.
func EncodeRecords(records []artifact.Record) string {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.Name, r.Timestamp, r.RunID, r.Degraded, len(r.FunctionCode)}
	}
	return formatTabular("artifacts", []string{"name", "timestamp", "run", "degraded", "bytes"}, rows)
}

// EncodeIngest renders an ingestion report.
func EncodeIngest(r *ingest.Report) string {
	parts := []string{
		field("batch", r.BatchID),
		field("files", r.Files),
		field("functions", r.Functions),
		field("summarized", r.Summarized),
		formatList("skipped", r.Skipped),
		field("elapsed", r.Elapsed.Round(time.Millisecond).String()),
	}
	return strings.Join(parts, "\n")
}

func field(key string, value any) string {
	return fmt.Sprintf("%s: %s", key, encodeCell(value))
}

func formatList(name string, items []string) string {
	encoded := make([]string, len(items))
	for i, s := range items {
		encoded[i] = encodeValue(s)
	}
	if len(items) == 0 {
		return fmt.Sprintf("%s[0]:", name)
	}
	return fmt.Sprintf("%s[%d]: %s", name, len(items), strings.Join(encoded, ","))
}

func formatTabular(name string, columns []string, rows [][]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeCell(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

// encodeCell writes booleans and numbers bare and strings through
// encodeValue.
func encodeCell(v any) string {
	switch v := v.(type) {
	case string:
		return encodeValue(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', 4, 64)
	default:
		return encodeValue(fmt.Sprint(v))
	}
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return quote(value)
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
