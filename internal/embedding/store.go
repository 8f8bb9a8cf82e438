// Package embedding provides read-only access to precomputed node embeddings.
//
// Two on-disk layouts are supported: the keyed text layout written by
// node2vec-style trainers ("N D" header followed by "id v1 ... vD" rows), and
// a binary layout that can be memory-mapped. Lookups behave identically for
// both, whether vectors are fully loaded or paged in lazily.
package embedding

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/viterin/vek/vek32"
)

// Errors returned by embedding store operations.
var (
	ErrNotFound    = errors.New("embedding store not found")
	ErrCorrupt     = fmt.Errorf("corrupt embedding file: %w", ErrNotFound)
	ErrUnknownNode = errors.New("unknown node")
)

// Store maps node identifiers to fixed-dimension vectors.
// Implementations are safe for concurrent reads.
type Store interface {
	// Contains reports whether id has a vector.
	Contains(id string) bool
	// Vector returns the vector for id. The slice must not be modified.
	Vector(id string) ([]float32, error)
	// Similarity returns the cosine similarity of two nodes, in [-1, 1].
	Similarity(a, b string) (float64, error)
	// Dim returns the vector dimension shared by all nodes.
	Dim() int
	// Len returns the number of nodes.
	Len() int
	// IDs returns the node identifiers in storage order.
	IDs() []string
	// Close releases resources held by the store.
	Close() error
}

// Format names accepted by Options.Format.
const (
	FormatAuto   = "auto"
	FormatText   = "text"
	FormatMapped = "mapped"
)

// Options controls how Load opens an embedding file.
type Options struct {
	Format string // auto (detect from magic bytes), text, or mapped
	Mmap   bool   // map binary files instead of reading them into memory
}

// Load opens the embedding file at path.
// Returns an error wrapping ErrNotFound if the file is absent or corrupt.
func Load(path string, opts Options) (Store, error) {
	format := opts.Format
	if format == "" || format == FormatAuto {
		detected, err := detectFormat(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	switch format {
	case FormatText:
		return LoadText(path)
	case FormatMapped:
		if opts.Mmap {
			return OpenMapped(path)
		}
		return ReadMapped(path)
	default:
		return nil, fmt.Errorf("unsupported embedding format %q", format)
	}
}

func detectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("opening embedding file: %w", err)
	}
	defer f.Close()

	head := make([]byte, len(mappedMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading embedding file: %w", err)
	}
	if n == len(mappedMagic) && bytes.Equal(head, []byte(mappedMagic)) {
		return FormatMapped, nil
	}
	return FormatText, nil
}

// table is the lookup core shared by the in-memory and mapped stores.
// rows holds len(ids)*dim values in id-table order.
type table struct {
	dim   int
	ids   []string
	index map[string]int
	rows  []float32
}

func (t *table) Contains(id string) bool {
	_, ok := t.index[id]
	return ok
}

func (t *table) Vector(id string) ([]float32, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return t.rows[i*t.dim : (i+1)*t.dim : (i+1)*t.dim], nil
}

func (t *table) Similarity(a, b string) (float64, error) {
	va, err := t.Vector(a)
	if err != nil {
		return 0, err
	}
	vb, err := t.Vector(b)
	if err != nil {
		return 0, err
	}
	return Cosine(va, vb), nil
}

func (t *table) Dim() int {
	return t.dim
}

func (t *table) Len() int {
	return len(t.ids)
}

// IDs returns the node identifiers in storage order.
func (t *table) IDs() []string {
	return append([]string(nil), t.ids...)
}

// Cosine computes the cosine similarity between two vectors.
// Returns 0 if either vector has zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := float64(vek32.Dot(a, b)) / (normA * normB)
	// Rounding can push identical directions just past 1.
	return math.Max(-1, math.Min(1, sim))
}
