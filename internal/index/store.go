package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"dgchat/internal/document"
)

// Both files must be present, non-empty and agree on generation and count.
// The previous committed pair is kept next to them with BackupSuffix.
const (
	VectorFile   = "index.vec"
	MetaFile     = "index.json"
	BackupSuffix = ".prev"

	formatVersion = 1
	maxDimension  = 1 << 16
	maxEntries    = 1 << 26
)

var (
	vectorMagic = [4]byte{'D', 'G', 'I', 'X'}

	errNotFound = errors.New("index files not found")
	errCorrupt  = errors.New("index files corrupt")
)

// renameFile is replaced in tests to cut a save short.
var renameFile = os.Rename

type metaFile struct {
	Version    int              `json:"version"`
	Generation uint64           `json:"generation"`
	Chunks     []document.Chunk `json:"chunks"`
}

type vectorHeader struct {
	Magic      [4]byte
	Version    uint32
	Generation uint64
	Count      uint32
}

// load reads the current pair. When it is unusable but the previous pair is
// intact, the previous pair is copied back and served instead.
func load(dir string) ([]Entry, uint64, error) {
	entries, gen, err := loadPair(dir, VectorFile, MetaFile)
	if err == nil {
		return entries, gen, nil
	}

	prev, prevGen, prevErr := loadPair(dir, VectorFile+BackupSuffix, MetaFile+BackupSuffix)
	if prevErr != nil {
		return nil, 0, err
	}
	slog.Warn("vector index unreadable, restoring previous generation", "dir", dir, "generation", prevGen, "error", err)
	if err := restore(dir); err != nil {
		slog.Warn("failed to restore previous vector index files", "dir", dir, "error", err)
	}
	return prev, prevGen, nil
}

func loadPair(dir, vecName, metaName string) ([]Entry, uint64, error) {
	vecPath := filepath.Join(dir, vecName)
	metaPath := filepath.Join(dir, metaName)

	vecInfo, vecErr := os.Stat(vecPath)
	metaInfo, metaErr := os.Stat(metaPath)
	if errors.Is(vecErr, os.ErrNotExist) && errors.Is(metaErr, os.ErrNotExist) {
		return nil, 0, errNotFound
	}
	if vecErr != nil || metaErr != nil {
		return nil, 0, fmt.Errorf("%w: %v", errCorrupt, errors.Join(vecErr, metaErr))
	}
	if vecInfo.Size() == 0 || metaInfo.Size() == 0 {
		return nil, 0, fmt.Errorf("%w: empty file", errCorrupt)
	}

	raw, err := os.ReadFile(metaPath) // #nosec G304 -- index dir comes from configuration
	if err != nil {
		return nil, 0, err
	}
	var meta metaFile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, 0, fmt.Errorf("%w: metadata: %v", errCorrupt, err)
	}
	if meta.Version != formatVersion {
		return nil, 0, fmt.Errorf("%w: metadata version %d", errCorrupt, meta.Version)
	}

	vecs, gen, err := readVectors(vecPath)
	if err != nil {
		return nil, 0, err
	}
	if gen != meta.Generation {
		return nil, 0, fmt.Errorf("%w: generation %d in vectors, %d in metadata", errCorrupt, gen, meta.Generation)
	}
	if len(vecs) != len(meta.Chunks) || len(vecs) == 0 {
		return nil, 0, fmt.Errorf("%w: %d vectors for %d chunks", errCorrupt, len(vecs), len(meta.Chunks))
	}

	entries := make([]Entry, len(vecs))
	for i := range vecs {
		entries[i] = Entry{Chunk: meta.Chunks[i], Embedding: vecs[i]}
	}
	return entries, gen, nil
}

func readVectors(path string) ([][]float32, uint64, error) {
	f, err := os.Open(path) // #nosec G304 -- index dir comes from configuration
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var h vectorHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", errCorrupt, err)
	}
	if h.Magic != vectorMagic || h.Version != formatVersion {
		return nil, 0, fmt.Errorf("%w: bad header", errCorrupt)
	}
	if h.Count > maxEntries {
		return nil, 0, fmt.Errorf("%w: %d entries", errCorrupt, h.Count)
	}

	vecs := make([][]float32, h.Count)
	for i := range vecs {
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, 0, fmt.Errorf("%w: entry %d: %v", errCorrupt, i, err)
		}
		if dim > maxDimension {
			return nil, 0, fmt.Errorf("%w: entry %d dimension %d", errCorrupt, i, dim)
		}
		if dim == 0 {
			continue
		}
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, 0, fmt.Errorf("%w: entry %d: %v", errCorrupt, i, err)
		}
		vecs[i] = v
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, 0, fmt.Errorf("%w: trailing data", errCorrupt)
	}
	return vecs, h.Generation, nil
}

// save writes both files through temp files and renames. The committed pair
// is copied aside first, so a save cut short between the two renames leaves a
// generation mismatch that load rejects and repairs from the copy.
func save(dir string, entries []Entry, gen uint64) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	var vbuf bytes.Buffer
	h := vectorHeader{Magic: vectorMagic, Version: formatVersion, Generation: gen, Count: uint32(len(entries))} // #nosec G115 -- bounded by maxEntries on load
	if err := binary.Write(&vbuf, binary.LittleEndian, h); err != nil {
		return err
	}
	var word [4]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(word[:], uint32(len(e.Embedding))) // #nosec G115
		vbuf.Write(word[:])
		for _, x := range e.Embedding {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(x))
			vbuf.Write(word[:])
		}
	}

	meta := metaFile{Version: formatVersion, Generation: gen, Chunks: make([]document.Chunk, len(entries))}
	for i, e := range entries {
		meta.Chunks[i] = e.Chunk
	}
	mbuf, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	if err := backup(dir); err != nil {
		return fmt.Errorf("back up index: %w", err)
	}
	if err := writeAtomic(dir, VectorFile, vbuf.Bytes()); err != nil {
		return err
	}
	return writeAtomic(dir, MetaFile, mbuf)
}

// backup copies the current pair aside when it agrees with itself. A pair
// that does not agree comes from an interrupted save, and the copy from
// before that save is still the committed state.
func backup(dir string) error {
	if !consistent(dir) {
		return nil
	}
	for _, name := range []string{VectorFile, MetaFile} {
		if err := copyFile(dir, name, name+BackupSuffix); err != nil {
			return err
		}
	}
	return nil
}

func restore(dir string) error {
	for _, name := range []string{VectorFile, MetaFile} {
		if err := copyFile(dir, name+BackupSuffix, name); err != nil {
			return err
		}
	}
	return nil
}

// consistent checks the headers only: same generation and entry count.
func consistent(dir string) bool {
	f, err := os.Open(filepath.Join(dir, VectorFile)) // #nosec G304 -- index dir comes from configuration
	if err != nil {
		return false
	}
	var h vectorHeader
	err = binary.Read(bufio.NewReader(f), binary.LittleEndian, &h)
	f.Close()
	if err != nil || h.Magic != vectorMagic {
		return false
	}

	raw, err := os.ReadFile(filepath.Join(dir, MetaFile)) // #nosec G304 -- index dir comes from configuration
	if err != nil {
		return false
	}
	var meta struct {
		Generation uint64            `json:"generation"`
		Chunks     []json.RawMessage `json:"chunks"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false
	}
	return meta.Generation == h.Generation && len(meta.Chunks) == int(h.Count)
}

func copyFile(dir, from, to string) error {
	data, err := os.ReadFile(filepath.Join(dir, from)) // #nosec G304 -- index dir comes from configuration
	if err != nil {
		return err
	}
	return writeAtomic(dir, to, data)
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return renameFile(tmpName, filepath.Join(dir, name))
}
