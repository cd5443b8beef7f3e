package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

type call struct {
	op     string
	id     string
	source string
	body   string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) Ingest(_ context.Context, doc domain.Document) (service.IngestReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "ingest", id: doc.ID, source: doc.Source, body: string(doc.Content)})
	return service.IngestReport{DocumentID: doc.ID, Chunks: 1}, nil
}

func (r *recorder) Remove(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "remove", id: id})
	return 1, nil
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) last() (call, bool) {
	calls := r.snapshot()
	if len(calls) == 0 {
		return call{}, false
	}
	return calls[len(calls)-1], true
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Chmod}, false},
		{"hidden", fsnotify.Event{Name: "/d/.a.txt.swp", Op: fsnotify.Write}, false},
		{"editor backup", fsnotify.Event{Name: "/d/a.txt~", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.ev))
		})
	}
}

func TestWatcher_SyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("already here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("ignored"), 0o644))

	rec := &recorder{}
	w := New(dir, 20*time.Millisecond, rec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool {
		c, ok := rec.last()
		return ok && c.source == "existing.txt"
	}, 5*time.Second, 10*time.Millisecond)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("The sky is blue."), 0o644))
	require.Eventually(t, func() bool {
		c, ok := rec.last()
		return ok && c.op == "ingest" && c.source == "notes.txt" && c.body == "The sky is blue."
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, service.DocumentID("notes.txt"), w.DocumentID(path))

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		c, ok := rec.last()
		return ok && c.op == "remove" && c.id == service.DocumentID("notes.txt")
	}, 5*time.Second, 10*time.Millisecond)

	for _, c := range rec.snapshot() {
		assert.NotEqual(t, ".hidden", c.source)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, 200*time.Millisecond, rec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("version "+string(rune('0'+i))), 0o644))
	}
	require.Eventually(t, func() bool {
		c, ok := rec.last()
		return ok && c.body == "version 4"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcher_MovedOutDirectoryRemovesItsFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep", "b.txt"), []byte("B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("K"), 0o644))

	rec := &recorder{}
	w := New(dir, 20*time.Millisecond, rec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)

	// Moving the directory out reports only the directory itself.
	require.NoError(t, os.Rename(sub, filepath.Join(t.TempDir(), "moved")))
	removed := func() map[string]bool {
		out := map[string]bool{}
		for _, c := range rec.snapshot() {
			if c.op == "remove" {
				out[c.id] = true
			}
		}
		return out
	}
	require.Eventually(t, func() bool {
		r := removed()
		return r[service.DocumentID("sub/a.txt")] && r[service.DocumentID("sub/deep/b.txt")]
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, removed()[service.DocumentID("keep.txt")])
}
