package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/config"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeTestConfig writes an offline config with all state under a temp dir
// and returns its path along with the loaded values.
func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "fake"
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 256
	cfg.Index.Path = filepath.Join(dir, "index", "index.db")
	cfg.Artifacts.DSN = filepath.Join(dir, "artifacts.db")
	cfg.Storage.Root = filepath.Join(dir, "bucket")
	cfg.Ingest.WorkDir = filepath.Join(dir, "work")
	cfg.Ingest.Concurrency = 2
	cfg.Logging.Level = "error"

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Save(path))
	return path, cfg
}

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "example/k8s/shared.py", `from kubernetes import client


def get_eks_api_client(cluster: str) -> client.CoreV1Api:
    return client.CoreV1Api()


def list_namespace_pods(api: client.CoreV1Api, namespace: str) -> list:
    return api.list_namespaced_pod(namespace).items
`)
	writeTestFile(t, dir, "example/notes.txt", "not python\n")
	return dir
}

func runOK(t *testing.T, args ...string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())
	return stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, _ := runOK(t, "version")
	assert.Equal(t, "apdev "+version+"\n", out)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	err := run([]string{"frobnicate"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, filepath.Dir(path), "config.yaml", "llm:\n  provider: nope\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", path, "merge", path}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid LLM provider")
}

func TestGenerateToFile(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)
	outPath := filepath.Join(t.TempDir(), "out", "assert_pod_healthy.py")

	out, _ := runOK(t, "--config", cfgPath, "generate",
		"--name", "assert_pod_healthy",
		"--purpose", "Check that every pod in a namespace is running",
		"--service", "eks",
		"--out", outPath)

	assert.Contains(t, out, "function: assert_pod_healthy\n")
	assert.Contains(t, out, "services[1]: eks\n")
	assert.Contains(t, out, "degraded: false\n")
	assert.NotContains(t, out, "def assert_pod_healthy", "code goes to --out, not stdout")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	code := string(data)
	assert.Contains(t, code, "def assert_pod_healthy():")
	assert.Equal(t, 1, strings.Count(code, "def assert_pod_healthy("))
}

func TestGenerateInvalidGuideline(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", cfgPath, "generate", "--name", "not-an-identifier", "--purpose", "x"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid guideline")
}

func TestGenerateMissingFlags(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", cfgPath, "generate", "--name", "f"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purpose")
}

func TestGenerateThenShow(t *testing.T) {
	t.Parallel()
	cfgPath, cfg := writeTestConfig(t)

	out, _ := runOK(t, "--config", cfgPath, "generate",
		"--name", "restart_deployment",
		"--purpose", "Restart a deployment by patching its template annotation")
	assert.Contains(t, out, "\ndef restart_deployment():")

	ctx := context.Background()
	store, err := artifact.Open(ctx, cfg.Artifacts)
	require.NoError(t, err)
	records, err := store.List(ctx, "restart_deployment")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, records, 1)
	rec := records[0]
	assert.Contains(t, rec.FunctionCode, "def restart_deployment():")

	list, _ := runOK(t, "--config", cfgPath, "show", "restart_deployment")
	assert.Contains(t, list, "artifacts[1]{name,timestamp,run,degraded,bytes}:")
	assert.Contains(t, list, rec.RunID)

	shown, _ := runOK(t, "--config", cfgPath, "show", "restart_deployment", rec.Timestamp)
	assert.Contains(t, shown, "name: restart_deployment\n")
	assert.Contains(t, shown, "run: "+rec.RunID+"\n")
	assert.True(t, strings.HasSuffix(shown, "\n\n"+rec.FunctionCode), "code follows the header:\n%s", shown)
}

func TestGenerateNoStore(t *testing.T) {
	t.Parallel()
	cfgPath, cfg := writeTestConfig(t)

	runOK(t, "--config", cfgPath, "generate", "--no-store", "--name", "drain_node", "--purpose", "Drain a node")

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", cfgPath, "show", "drain_node"}, &stdout, &stderr)
	require.ErrorIs(t, err, artifact.ErrNotFound)

	_, statErr := os.Stat(cfg.Index.Path)
	assert.True(t, os.IsNotExist(statErr), "generate must not create an index")
}

func TestShowUnknownTimestamp(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", cfgPath, "show", "missing", "2024-01-01T00:00:00Z"}, &stdout, &stderr)
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestMergeFiles(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "a.py", "import os\n\n\ndef helper():\n    return 1\n")
	writeTestFile(t, dir, "b.py", "import os\nimport sys\n\n\ndef helper():\n    return 2\n\n\ndef main():\n    return helper()\n")

	out, stderr := runOK(t, "--config", cfgPath, "merge", filepath.Join(dir, "a.py"), filepath.Join(dir, "b.py"))
	assert.Empty(t, stderr)
	assert.Equal(t, 1, strings.Count(out, "import os"))
	assert.Equal(t, 1, strings.Count(out, "def helper():"))
	assert.Contains(t, out, "return 2")
	assert.NotContains(t, out, "return 1")
	assert.Less(t, strings.Index(out, "def helper"), strings.Index(out, "def main"))
}

func TestMergeDegraded(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.py")
	bad := filepath.Join(dir, "bad.py")
	writeTestFile(t, dir, "good.py", "def ok():\n    return 1\n")
	writeTestFile(t, dir, "bad.py", "def broken(:\n    pass\n")
	outPath := filepath.Join(dir, "merged.py")

	_, stderr := runOK(t, "--config", cfgPath, "merge", "--out", outPath, good, bad)
	assert.Contains(t, stderr, "warning: "+bad)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "def ok():")
	assert.Contains(t, string(data), "def broken(:")
}

func TestMergeMissingFile(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", cfgPath, "merge", filepath.Join(t.TempDir(), "nope.py")}, &stdout, &stderr)
	require.Error(t, err)
}

func TestIngestDir(t *testing.T) {
	t.Parallel()
	cfgPath, cfg := writeTestConfig(t)
	repo := createSampleRepo(t)

	out, _ := runOK(t, "--config", cfgPath, "ingest", repo)
	assert.Contains(t, out, "files: 1\n")
	assert.Contains(t, out, "functions: 2\n")
	assert.Contains(t, out, "summarized: 2\n")

	_, err := os.Stat(cfg.Index.Path)
	require.NoError(t, err)

	// generation now finds the index and searches it
	gen, _ := runOK(t, "--config", cfgPath, "generate", "--no-store",
		"--name", "count_pods", "--purpose", "Count the pods in a namespace")
	assert.Contains(t, gen, "function: count_pods\n")
}

func TestIngestNoSummarize(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)
	repo := createSampleRepo(t)

	out, _ := runOK(t, "--config", cfgPath, "ingest", "--no-summarize", repo)
	assert.Contains(t, out, "functions: 2\n")
	assert.Contains(t, out, "summarized: 0\n")
}

func TestIngestFlagErrors(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeTestConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"sync and watch", []string{"ingest", "--sync", "--watch"}, "cannot be combined"},
		{"sync with dir", []string{"ingest", "--sync", "somewhere"}, "takes no DIR"},
		{"missing dir", []string{"ingest", filepath.Join(t.TempDir(), "missing")}, "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			err := run(append([]string{"--config", cfgPath}, tt.args...), &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIngestSync(t *testing.T) {
	t.Parallel()
	cfgPath, cfg := writeTestConfig(t)
	bucket := cfg.Storage.Root
	writeTestFile(t, bucket, "uningested/example/k8s/shared.py",
		"def get_eks_api_client(cluster: str):\n    return cluster\n")

	out, _ := runOK(t, "--config", cfgPath, "ingest", "--sync", "--no-summarize")
	assert.Contains(t, out, "functions: 1\n")

	_, err := os.Stat(filepath.Join(bucket, "uningested", "example", "k8s", "shared.py"))
	assert.True(t, os.IsNotExist(err), "ingested files are deleted from storage")
	_, err = os.Stat(filepath.Join(bucket, "index", "index.db"))
	require.NoError(t, err, "index is uploaded")
	_, err = os.Stat(cfg.Ingest.WorkDir)
	assert.True(t, os.IsNotExist(err), "work dir is removed")

	// a second run has nothing pending and prints nothing
	out, _ = runOK(t, "--config", cfgPath, "ingest", "--sync")
	assert.Empty(t, out)
}
