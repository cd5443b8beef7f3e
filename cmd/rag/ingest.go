package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <files/globs/dirs...>",
	Short: "Index documents",
	Long: `Indexes the given files. Globs are expanded and directories are walked,
skipping hidden entries. A document that was indexed before is replaced.
Exits non-zero when any document failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	docs, err := collectDocuments(args)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents matched %s", strings.Join(args, " "))
	}

	a, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	failed := 0
	for _, r := range a.Service.IngestBatch(cmd.Context(), docs) {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", r.Source, r.Err)
		case r.Skipped:
			fmt.Fprintf(cmd.OutOrStdout(), "SKIP  %s (unchanged, %d chunks)\n", r.Source, r.Chunks)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (%d chunks, %s)\n", r.Source, r.Chunks, r.Duration.Round(time.Millisecond))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}

// collectDocuments expands args into documents. Each path is read once,
// in the order given. Files found by walking a directory are keyed relative
// to it; files named directly are keyed by base name. Two paths with the
// same key are an error.
func collectDocuments(args []string) ([]domain.Document, error) {
	type file struct{ path, key string }
	var files []file
	seen := map[string]bool{}
	owner := map[string]string{}
	add := func(root, p string) error {
		p = filepath.Clean(p)
		if seen[p] {
			return nil
		}
		key := service.SourceKey(root, p)
		if prev, ok := owner[key]; ok {
			return fmt.Errorf("%s and %s both index as %q", prev, p, key)
		}
		seen[p], owner[key] = true, p
		files = append(files, file{path: p, key: key})
		return nil
	}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if matches == nil {
			matches = []string{arg}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				if err := add(filepath.Dir(m), m); err != nil {
					return nil, err
				}
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if path != m && strings.HasPrefix(d.Name(), ".") {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.Type().IsRegular() {
					return add(m, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	docs := make([]domain.Document, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, domain.Document{
			ID:         service.DocumentID(f.key),
			Source:     f.key,
			Content:    data,
			IngestedAt: time.Now().UTC(),
		})
	}
	return docs, nil
}
