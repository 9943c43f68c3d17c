package document

import (
	"fmt"
	"strconv"
)

// Sentinel placeholder seeded into a fresh index so it is never empty.
const (
	SentinelSourceID = "empty"
	SentinelFilename = "empty.pdf"
	SentinelContent  = " "
)

type DocumentMetadata struct {
	SourceID string            `json:"source_id"`
	Page     int               `json:"page,omitempty"`
	Filename string            `json:"filename"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Document is one loaded unit of text, typically a page or a table row.
type Document struct {
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

type ChunkMetadata struct {
	SourceID      string            `json:"source_id"`
	SequenceIndex int               `json:"sequence_index"`
	Page          int               `json:"page,omitempty"`
	Filename      string            `json:"filename,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Key identifies a chunk for deduplication across ranked lists.
func (c Chunk) Key() string {
	return c.Metadata.SourceID + "\x00" + strconv.Itoa(c.Metadata.SequenceIndex) + "\x00" + c.Content
}

// Fields flattens chunk metadata for callers that expect a loose map.
func (c Chunk) Fields() map[string]any {
	m := map[string]any{
		"source_id":      c.Metadata.SourceID,
		"sequence_index": c.Metadata.SequenceIndex,
	}
	if c.Metadata.Page > 0 {
		m["page"] = c.Metadata.Page
	}
	if c.Metadata.Filename != "" {
		m["filename"] = c.Metadata.Filename
	}
	for k, v := range c.Metadata.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}

func SentinelChunk() Chunk {
	return Chunk{
		Content: SentinelContent,
		Metadata: ChunkMetadata{
			SourceID: SentinelSourceID,
			Page:     1,
			Filename: SentinelFilename,
		},
	}
}

func IsSentinel(c Chunk) bool {
	return c.Metadata.SourceID == SentinelSourceID && c.Metadata.Filename == SentinelFilename
}

// Failure records why a file or document produced nothing.
type Failure struct {
	Path  string
	Stage string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Path, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}
