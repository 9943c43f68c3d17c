package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dgchat/internal/document"
)

const dglTitle = "DANGEROUS GOODS LIST - IMDG CODE"

var ErrTableHeaderNotFound = errors.New("dangerous goods list header not found")

// TableLoader reads the markdown rendering of the Dangerous Goods List and
// emits one document per table row.
type TableLoader struct{}

func NewTableLoader() *TableLoader {
	return &TableLoader{}
}

func (l *TableLoader) Load(ctx context.Context, path string) ([]document.Document, error) {
	raw, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- ingestion reads operator-supplied paths
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseTable(string(raw), path)
}

// ParseTable finds the "| UN No." header and turns every following pipe row
// into a labelled record.
func ParseTable(content, path string) ([]document.Document, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")

	headerAt := -1
	for i, line := range lines {
		if strings.Contains(line, "| UN No.") {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, ErrTableHeaderNotFound
	}

	headers := splitRow(lines[headerAt])
	dataStart := headerAt + 1
	if dataStart < len(lines) && strings.Contains(lines[dataStart], "|------") {
		dataStart++
	}

	var docs []document.Document
	for _, line := range lines[dataStart:] {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		row := splitRow(line)
		if len(row) < 2 || strings.Join(row, "") == "" {
			continue
		}

		var b strings.Builder
		b.WriteString(dglTitle + "\n" + strings.Repeat("=", 40))
		for i, h := range headers {
			if i >= len(row) {
				break
			}
			if row[i] == "" {
				continue
			}
			fmt.Fprintf(&b, "\n%s: %s", h, row[i])
		}
		fmt.Fprintf(&b, "\n\nSource: %s", filepath.Base(path))

		meta := sourceMetadata(path)
		meta.Extra = map[string]string{
			"un_number":      row[0],
			"substance_name": row[1],
			"type":           "dangerous_goods_list",
		}
		docs = append(docs, document.Document{Content: b.String(), Metadata: meta})
	}
	return docs, nil
}

// splitRow keeps empty inner cells so values stay under their headers.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
