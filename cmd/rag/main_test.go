package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommands_Registered(t *testing.T) {
	for _, name := range []string{"serve", "ingest", "ask", "remove"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestAskCmd_Flags(t *testing.T) {
	flag := askCmd.Flags().Lookup("top-k")
	require.NotNil(t, flag)
	assert.Equal(t, "k", flag.Shorthand)
	assert.NotNil(t, askCmd.Flags().Lookup("threshold"))
	assert.NotNil(t, askCmd.Flags().Lookup("json"))
}

func TestAskCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestCollectDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("B"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("C"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", ".git", "HEAD"), []byte("ref"), 0o644))

	docs, err := collectDocuments([]string{filepath.Join(dir, "*.txt"), dir})
	require.NoError(t, err)
	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Source)
		assert.Equal(t, service.DocumentID(d.Source), d.ID)
	}
	assert.Equal(t, []string{"a.txt", "b.md", "sub/c.txt"}, sources)

	_, err = collectDocuments([]string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}

func TestCollectDocuments_KeysMatchWatcherAndUpload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("C"), 0o644))

	// Named directly, a file is keyed like an upload of the same name.
	direct, err := collectDocuments([]string{filepath.Join(dir, "sub", "c.txt")})
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "c.txt", direct[0].Source)
	assert.Equal(t, service.DocumentID("c.txt"), direct[0].ID)

	// Walked, it is keyed relative to the directory, as the watcher does.
	walked, err := collectDocuments([]string{dir})
	require.NoError(t, err)
	require.Len(t, walked, 1)
	assert.Equal(t, service.DocumentID(service.SourceKey(dir, filepath.Join(dir, "sub", "c.txt"))), walked[0].ID)
	assert.Equal(t, "sub/c.txt", walked[0].Source)
}

func TestCollectDocuments_KeyCollision(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"x", "y"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, sub, "a.txt"), []byte(sub), 0o644))
	}
	_, err := collectDocuments([]string{filepath.Join(dir, "x", "a.txt"), filepath.Join(dir, "y", "a.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `both index as "a.txt"`)
}

func TestIngestAskRemove(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	sky := filepath.Join(docs, "sky.txt")
	require.NoError(t, os.WriteFile(sky, []byte("The sky is blue. Water is wet."), 0o644))

	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(fmt.Sprintf(`
vector_store:
  type: badger
  badger:
    path: %s
catalog:
  path: %s
cache:
  type: none
logging:
  level: error
`, filepath.Join(dir, "index"), filepath.Join(dir, "catalog.db"))), 0o644))
	t.Cleanup(func() { cfgPath = "" })

	out, err := execute(t, "--config", cfgFile, "ingest", docs)
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK    sky.txt")

	out, err = execute(t, "--config", cfgFile, "ingest", docs)
	require.NoError(t, err, out)
	assert.Contains(t, out, "SKIP  ")

	askJSON = true
	t.Cleanup(func() { askJSON = false })
	out, err = execute(t, "--config", cfgFile, "ask", "--json", "What color is the sky?")
	require.NoError(t, err, out)
	var ans domain.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &ans))
	assert.False(t, ans.InsufficientContext)
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, "sky.txt", ans.Citations[0].Source)

	out, err = execute(t, "--config", cfgFile, "remove", service.DocumentID("sky.txt"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "removed 1 chunks")
}

func TestIngest_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("logging:\n  level: error\n"), 0o644))
	t.Cleanup(func() { cfgPath = "" })

	out, err := execute(t, "--config", cfgFile, "ingest", filepath.Join(dir, "empty.txt"))
	require.Error(t, err)
	assert.Contains(t, out, "FAIL  ")
	assert.Contains(t, err.Error(), "1 of 1 documents failed")
}
