package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dgchat/internal/document"
	"dgchat/internal/text"

	"github.com/panjf2000/ants/v2"
)

const DefaultConcurrency = 4

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoDocuments       = errors.New("no documents extracted")
)

// Loader extracts documents from one file format.
type Loader interface {
	Load(ctx context.Context, path string) ([]document.Document, error)
}

// Result is the outcome of loading one file. Err is set whenever Documents
// is empty.
type Result struct {
	Path      string
	Documents []document.Document
	Err       error
}

type BatchResult struct {
	Results   []Result
	Succeeded int
	Failed    int
}

// Documents flattens successful results in input path order.
func (b BatchResult) Documents() []document.Document {
	var out []document.Document
	for _, r := range b.Results {
		out = append(out, r.Documents...)
	}
	return out
}

func (b BatchResult) Failures() []document.Failure {
	var out []document.Failure
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, document.Failure{Path: r.Path, Stage: "load", Err: r.Err})
		}
	}
	return out
}

// Registry dispatches files to loaders by extension.
type Registry struct {
	loaders map[string]Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// NewDefaultRegistry handles paginated PDFs, DGL markdown tables and DGL
// object text files.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("pdf", NewPDFLoader())
	r.Register("md", NewTableLoader())
	r.Register("txt", NewRecordLoader())
	return r
}

func (r *Registry) Register(ext string, l Loader) {
	r.loaders[strings.ToLower(strings.TrimPrefix(ext, "."))] = l
}

func (r *Registry) Supports(path string) bool {
	_, ok := r.loaders[extension(path)]
	return ok
}

// LoadFile never fails outright: problems come back in Result.Err with no
// documents. Content is normalized before it is returned.
func (r *Registry) LoadFile(ctx context.Context, path string) Result {
	res := Result{Path: path}
	l, ok := r.loaders[extension(path)]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		slog.WarnContext(ctx, "skipping unsupported file", "path", path)
		return res
	}

	start := time.Now()
	docs, err := l.Load(ctx, path)
	if err != nil {
		res.Err = err
		slog.WarnContext(ctx, "failed to load file", "path", path, "error", err)
		return res
	}

	for _, d := range docs {
		d.Content = text.Normalize(d.Content)
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		res.Documents = append(res.Documents, d)
	}
	if len(res.Documents) == 0 {
		res.Err = ErrNoDocuments
		slog.WarnContext(ctx, "file produced no documents", "path", path)
		return res
	}

	slog.InfoContext(ctx, "file loaded", "path", path, "documents", len(res.Documents), "duration", time.Since(start))
	return res
}

// LoadMany loads files on a bounded worker pool. Results keep the order of
// paths; a failing file never aborts the batch.
func (r *Registry) LoadMany(ctx context.Context, paths []string, maxConcurrency int) BatchResult {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency
	}

	batch := BatchResult{Results: make([]Result, len(paths))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(i int, res Result) {
		mu.Lock()
		defer mu.Unlock()
		batch.Results[i] = res
		if res.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
		slog.DebugContext(ctx, "load progress", "processed", batch.Succeeded+batch.Failed, "total", len(paths),
			"succeeded", batch.Succeeded, "failed", batch.Failed)
	}

	pool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		slog.WarnContext(ctx, "worker pool unavailable, loading sequentially", "error", err)
		for i, p := range paths {
			record(i, r.safeLoad(ctx, p))
		}
		return batch
	}
	defer pool.Release()

	for i, p := range paths {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			record(i, r.safeLoad(ctx, p))
		})
		if submitErr != nil {
			wg.Done()
			record(i, Result{Path: p, Err: fmt.Errorf("submit load task: %w", submitErr)})
		}
	}
	wg.Wait()

	slog.InfoContext(ctx, "batch load finished", "files", len(paths), "succeeded", batch.Succeeded, "failed", batch.Failed)
	return batch
}

func (r *Registry) safeLoad(ctx context.Context, path string) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "loader panicked", "path", path, "panic", rec)
			res = Result{Path: path, Err: fmt.Errorf("loader panic: %v", rec)}
		}
	}()
	return r.LoadFile(ctx, path)
}

// Discover lists supported files under dir in lexical order.
func (r *Registry) Discover(dir string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if r.Supports(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func sourceMetadata(path string) document.DocumentMetadata {
	return document.DocumentMetadata{
		SourceID: filepath.Clean(path),
		Filename: filepath.Base(path),
	}
}
