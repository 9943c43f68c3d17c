package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"dgchat/internal/document"

	"github.com/ledongthuc/pdf"
)

var (
	ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")
	ErrMalformedPDF    = errors.New("malformed pdf")
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed binary, path comes from ingestion input
}

// PDFLoader extracts one document per page. Text is read from the page
// content streams; files that cannot be parsed or carry no text layer go
// through pdftotext when it is installed.
type PDFLoader struct {
	runner   CommandRunner
	lookPath func(string) (string, error)
	native   bool
}

func NewPDFLoader() *PDFLoader {
	return &PDFLoader{runner: execRunner{}, lookPath: exec.LookPath, native: true}
}

// NewPDFLoaderWithRunner extracts with pdftotext only, through r.
func NewPDFLoaderWithRunner(r CommandRunner) *PDFLoader {
	return &PDFLoader{runner: r}
}

func (l *PDFLoader) Load(ctx context.Context, path string) ([]document.Document, error) {
	if !l.native {
		return l.loadWithTool(ctx, path)
	}

	docs, err := readPages(path)
	if err == nil && len(docs) > 0 {
		return docs, nil
	}
	if l.lookPath != nil {
		if _, lerr := l.lookPath("pdftotext"); lerr != nil {
			if err != nil {
				return nil, fmt.Errorf("read pdf %s: %w", path, err)
			}
			return nil, nil
		}
	}

	slog.DebugContext(ctx, "no text from pdf reader, trying pdftotext", "path", path, "error", err)
	return l.runTool(ctx, path)
}

func (l *PDFLoader) loadWithTool(ctx context.Context, path string) ([]document.Document, error) {
	if l.lookPath != nil {
		if _, err := l.lookPath("pdftotext"); err != nil {
			return nil, ErrPDFToolNotFound
		}
	}
	return l.runTool(ctx, path)
}

// runTool splits pdftotext output on the form feeds it puts between pages.
func (l *PDFLoader) runTool(ctx context.Context, path string) ([]document.Document, error) {
	out, err := l.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext %s: %w", path, err)
	}

	var docs []document.Document
	for i, page := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		docs = append(docs, pageDocument(path, i+1, page))
	}
	return docs, nil
}

// readPages parses the file in process. Blank pages are skipped; any page
// that fails to decode fails the whole file.
func readPages(path string) (docs []document.Document, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPDF, err)
	}
	defer f.Close()
	defer func() {
		if rec := recover(); rec != nil {
			docs, err = nil, fmt.Errorf("%w: %v", ErrMalformedPDF, rec)
		}
	}()

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, pageDocument(path, i, text))
	}
	return docs, nil
}

func pageDocument(path string, page int, content string) document.Document {
	meta := sourceMetadata(path)
	meta.Page = page
	return document.Document{Content: content, Metadata: meta}
}
