package document_test

import (
	"errors"
	"testing"

	"dgchat/internal/document"

	"github.com/stretchr/testify/assert"
)

func TestChunk_Key(t *testing.T) {
	a := document.Chunk{Content: "x", Metadata: document.ChunkMetadata{SourceID: "a.pdf", SequenceIndex: 1}}
	b := document.Chunk{Content: "x", Metadata: document.ChunkMetadata{SourceID: "a.pdf", SequenceIndex: 2}}
	c := document.Chunk{Content: "x", Metadata: document.ChunkMetadata{SourceID: "a.pdf", SequenceIndex: 1, Page: 4}}

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), c.Key())
}

func TestChunk_Fields(t *testing.T) {
	c := document.Chunk{
		Content: "x",
		Metadata: document.ChunkMetadata{
			SourceID:      "dgl.md",
			SequenceIndex: 3,
			Filename:      "dgl.md",
			Extra:         map[string]string{"un_number": "1263", "source_id": "ignored"},
		},
	}

	f := c.Fields()
	assert.Equal(t, "dgl.md", f["source_id"])
	assert.Equal(t, 3, f["sequence_index"])
	assert.Equal(t, "1263", f["un_number"])
	_, hasPage := f["page"]
	assert.False(t, hasPage)
}

func TestSentinel(t *testing.T) {
	s := document.SentinelChunk()
	assert.True(t, document.IsSentinel(s))
	assert.Equal(t, 1, s.Metadata.Page)

	s.Metadata.Filename = "real.pdf"
	assert.False(t, document.IsSentinel(s))
}

func TestFailure_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	f := document.Failure{Path: "a.pdf", Stage: "load", Err: cause}

	assert.ErrorIs(t, f, cause)
	assert.Equal(t, "load a.pdf: boom", f.Error())
}
