// Package watcher keeps the index in sync with a directory: files that
// appear or change are ingested, files that disappear are removed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

// Ingester is the part of service.Service the watcher drives.
type Ingester interface {
	Ingest(ctx context.Context, doc domain.Document) (service.IngestReport, error)
	Remove(ctx context.Context, docID string) (int, error)
}

type Watcher struct {
	dir      string
	debounce time.Duration
	svc      Ingester
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	// indexed holds the paths of files handed to the index and not removed since.
	indexed map[string]bool
	stopped bool
	wg      sync.WaitGroup
}

func New(dir string, debounce time.Duration, svc Ingester, log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      filepath.Clean(dir),
		debounce: debounce,
		svc:      svc,
		log:      log.With().Str("component", "watcher").Str("dir", dir).Logger(),
		pending:  make(map[string]*time.Timer),
		indexed:  make(map[string]bool),
	}
}

// DocumentID is the ID a watched file is indexed under.
func (w *Watcher) DocumentID(path string) string {
	return service.DocumentID(w.rel(path))
}

// Run ingests the files already present, then follows changes until ctx
// is done. Pending debounced work is dropped on exit; work in flight is
// waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(ctx, fw, w.dir); err != nil {
		return err
	}
	w.log.Info().Msg("watching directory")

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// addTree watches root and its non-hidden subdirectories and schedules
// every file below them for ingestion.
func (w *Watcher) addTree(ctx context.Context, fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.schedule(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !relevant(ev) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ctx, fw, ev.Name); err != nil {
				w.log.Warn().Err(err).Str("path", ev.Name).Msg("watching new directory failed")
			}
			return
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// A vanished directory takes its files with it.
		for _, path := range w.indexedUnder(ev.Name) {
			w.schedule(ctx, path)
		}
	}
	w.schedule(ctx, ev.Name)
}

// indexedUnder lists indexed files below dir.
func (w *Watcher) indexedUnder(dir string) []string {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path := range w.indexed {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	return out
}

func (w *Watcher) setIndexed(path string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.indexed[path] = true
	} else {
		delete(w.indexed, path)
	}
}

// relevant reports whether ev can change what is indexed.
func relevant(ev fsnotify.Event) bool {
	if isHidden(filepath.Base(ev.Name)) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// schedule (re)arms the debounce timer for path. When it fires, the file is
// ingested if it still exists and removed otherwise.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, path)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) sync(ctx context.Context, path string) {
	id := w.DocumentID(path)
	log := w.log.With().Str("path", path).Str("document_id", id).Logger()

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		n, err := w.svc.Remove(ctx, id)
		if err != nil {
			log.Warn().Err(err).Msg("removing deleted file failed")
			return
		}
		w.setIndexed(path, false)
		log.Info().Int("chunks", n).Msg("deleted file removed")
		return
	case err != nil:
		log.Warn().Err(err).Msg("reading file failed")
		return
	}

	w.setIndexed(path, true)
	report, err := w.svc.Ingest(ctx, domain.Document{
		ID:         id,
		Source:     w.rel(path),
		Content:    content,
		IngestedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("ingesting file failed")
		return
	}
	log.Debug().Int("chunks", report.Chunks).Bool("skipped", report.Skipped).Msg("file synced")
}

func (w *Watcher) rel(path string) string {
	return service.SourceKey(w.dir, path)
}
