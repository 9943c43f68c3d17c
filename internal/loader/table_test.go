package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dgchat/internal/loader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dglTable = `# Dangerous Goods List

| UN No. | Proper Shipping Name | Class | Packing Group |
|------|------|------|------|
| 1263 | PAINT | 3 | II |
| 1090 | ACETONE | 3 | II |
| broken |
not a row
| 3480 | LITHIUM ION BATTERIES | 9 |
`

func TestParseTable(t *testing.T) {
	docs, err := loader.ParseTable(dglTable, "data/dgl.md")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	first := docs[0]
	assert.Equal(t, "1263", first.Metadata.Extra["un_number"])
	assert.Equal(t, "PAINT", first.Metadata.Extra["substance_name"])
	assert.Equal(t, "dangerous_goods_list", first.Metadata.Extra["type"])
	assert.Equal(t, "data/dgl.md", first.Metadata.SourceID)
	assert.True(t, strings.HasPrefix(first.Content, "DANGEROUS GOODS LIST - IMDG CODE\n"+strings.Repeat("=", 40)))
	assert.Contains(t, first.Content, "\nProper Shipping Name: PAINT")
	assert.Contains(t, first.Content, "\nPacking Group: II")
	assert.True(t, strings.HasSuffix(first.Content, "\n\nSource: dgl.md"))

	short := docs[2]
	assert.Contains(t, short.Content, "Class: 9")
	assert.NotContains(t, short.Content, "Packing Group")
}

func TestParseTable_BlankCellsKeepColumns(t *testing.T) {
	table := "| UN No. | Proper Shipping Name | Class | Subsidiary Risk | Packing Group |\n" +
		"|------|------|------|------|------|\n" +
		"| 1263 | PAINT | 3 |  | III |\n" +
		"|  |  |  |  |  |\n"

	docs, err := loader.ParseTable(table, "dgl.md")
	require.NoError(t, err)
	require.Len(t, docs, 1, "all-blank rows are skipped")

	assert.Contains(t, docs[0].Content, "\nPacking Group: III")
	assert.NotContains(t, docs[0].Content, "Subsidiary Risk")
	assert.Equal(t, "PAINT", docs[0].Metadata.Extra["substance_name"])
}

func TestParseTable_NoHeader(t *testing.T) {
	_, err := loader.ParseTable("| a | b |\n| 1 | 2 |", "x.md")
	assert.ErrorIs(t, err, loader.ErrTableHeaderNotFound)
}

func TestTableLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dgl.md")
	require.NoError(t, os.WriteFile(path, []byte(dglTable), 0o600))

	docs, err := loader.NewTableLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	_, err = loader.NewTableLoader().Load(context.Background(), filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
