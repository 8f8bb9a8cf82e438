package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// KeyedVectors is a fully materialized embedding store.
type KeyedVectors struct {
	table
}

// NewKeyedVectors creates an empty in-memory store of the given dimension.
func NewKeyedVectors(dim int) *KeyedVectors {
	return &KeyedVectors{table: table{
		dim:   dim,
		index: make(map[string]int),
	}}
}

// Add inserts or replaces the vector for id.
// Add is not safe for use concurrently with lookups.
func (kv *KeyedVectors) Add(id string, vector []float32) error {
	if len(vector) != kv.dim {
		return fmt.Errorf("embedding dimension mismatch for %q: got %d, want %d", id, len(vector), kv.dim)
	}
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("invalid node id %q", id)
	}
	if i, ok := kv.index[id]; ok {
		copy(kv.rows[i*kv.dim:(i+1)*kv.dim], vector)
		return nil
	}
	kv.index[id] = len(kv.ids)
	kv.ids = append(kv.ids, id)
	kv.rows = append(kv.rows, vector...)
	return nil
}

// Close is a no-op for in-memory stores.
func (kv *KeyedVectors) Close() error {
	return nil
}

// LoadText reads the keyed text layout:
//
//	N D
//	id v1 v2 ... vD
//	...
func LoadText(path string) (*KeyedVectors, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening embedding file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading embedding file: %w", err)
		}
		return nil, fmt.Errorf("%w: %s: missing header", ErrCorrupt, path)
	}

	count, dim, err := parseTextHeader(scanner.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	kv := NewKeyedVectors(dim)

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != dim+1 {
			return nil, fmt.Errorf("%w: %s line %d: got %d values, want %d", ErrCorrupt, path, lineNum, len(fields)-1, dim)
		}

		vec := make([]float32, dim)
		for i, tok := range fields[1:] {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, path, lineNum, err)
			}
			vec[i] = float32(v)
		}

		if kv.Contains(fields[0]) {
			return nil, fmt.Errorf("%w: %s line %d: duplicate node %q", ErrCorrupt, path, lineNum, fields[0])
		}
		if err := kv.Add(fields[0], vec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, path, lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading embedding file: %w", err)
	}

	if kv.Len() != count {
		return nil, fmt.Errorf("%w: %s: header declares %d vectors, found %d", ErrCorrupt, path, count, kv.Len())
	}

	return kv, nil
}

func parseTextHeader(line string) (count, dim int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("header must be \"<count> <dim>\", got %q", line)
	}
	if count, err = strconv.Atoi(fields[0]); err != nil || count < 0 {
		return 0, 0, fmt.Errorf("invalid vector count %q", fields[0])
	}
	if dim, err = strconv.Atoi(fields[1]); err != nil || dim <= 0 {
		return 0, 0, fmt.Errorf("invalid dimension %q", fields[1])
	}
	return count, dim, nil
}

// WriteText writes a store in the keyed text layout.
func WriteText(path string, s Store) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d %d\n", s.Len(), s.Dim())
	for _, id := range s.IDs() {
		vec, err := s.Vector(id)
		if err != nil {
			f.Close()
			os.Remove(tempPath)
			return err
		}
		w.WriteString(id)
		for _, v := range vec {
			w.WriteByte(' ')
			w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing embedding file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
