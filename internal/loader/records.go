package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dgchat/internal/document"
)

var (
	objectHeaderRe = regexp.MustCompile(`OBJECT\s+(\d+/\d+)\s*\n`)
	unNumberRe     = regexp.MustCompile(`UN\s+(\d+)`)
	substanceRe    = regexp.MustCompile(`UN\s+\d+:\s*([^;]+)`)
)

// RecordLoader reads DGL object dumps: blocks introduced by "OBJECT n/m"
// holding an original_data JSON line and a summarization line. Only objects
// with a summarization become documents.
type RecordLoader struct{}

func NewRecordLoader() *RecordLoader {
	return &RecordLoader{}
}

func (l *RecordLoader) Load(ctx context.Context, path string) ([]document.Document, error) {
	raw, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- ingestion reads operator-supplied paths
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRecords(ctx, string(raw), path), nil
}

func ParseRecords(ctx context.Context, content, path string) []document.Document {
	matches := objectHeaderRe.FindAllStringSubmatchIndex(content, -1)

	var docs []document.Document
	for i, m := range matches {
		objectID := content[m[2]:m[3]]
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		summary, ok := parseObject(ctx, objectID, content[m[1]:end])
		if !ok {
			continue
		}

		un := "Unknown"
		if sm := unNumberRe.FindStringSubmatch(summary); sm != nil {
			un = sm[1]
		}
		name := "Unknown"
		if sm := substanceRe.FindStringSubmatch(summary); sm != nil {
			name = strings.TrimSpace(sm[1])
		}

		body := strings.Join([]string{
			dglTitle,
			strings.Repeat("=", 50),
			"UN Number: " + un,
			"Substance: " + name,
			"",
			"Summary:",
			summary,
			"",
		}, "\n")

		meta := sourceMetadata(path)
		meta.Extra = map[string]string{
			"un_number":      un,
			"substance_name": name,
			"object_id":      objectID,
			"type":           "dangerous_goods_list",
		}
		docs = append(docs, document.Document{Content: body, Metadata: meta})
	}
	return docs
}

func parseObject(ctx context.Context, objectID, block string) (string, bool) {
	var summary string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "original_data:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "original_data:"))
			if !json.Valid([]byte(raw)) {
				slog.DebugContext(ctx, "object has malformed original_data", "object_id", objectID)
			}
		case strings.HasPrefix(line, "summarization:"):
			summary = strings.TrimSpace(strings.TrimPrefix(line, "summarization:"))
		}
	}
	return summary, summary != ""
}
