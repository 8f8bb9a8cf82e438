package embedding

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"unsafe"
)

// Binary layout (little-endian):
//
//	Offset  Size  Field
//	0       8     magic "COAUTHKV"
//	8       4     version (uint32)
//	12      4     dim     (uint32)
//	16      8     count   (uint64)
//	24      8     idBytes (uint64) - length of the id table
//	32      ...   id table: count x (uint16 length, UTF-8 bytes)
//	...     0-3   zero padding to a 4-byte boundary
//	...     ...   count x dim float32 rows, in id-table order
const (
	mappedMagic      = "COAUTHKV"
	mappedVersion    = 1
	mappedHeaderSize = 32
)

// MappedVectors is an embedding store backed by a memory-mapped file.
// Vectors are read zero-copy from the mapping and are valid until Close.
type MappedVectors struct {
	table
	region *mmapRegion
}

// OpenMapped memory-maps a binary embedding file.
func OpenMapped(path string) (*MappedVectors, error) {
	region, err := mapReadOnly(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	t, err := parseMapped(region.Data(), false)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &MappedVectors{table: *t, region: region}, nil
}

// Close unmaps the file. Vectors returned earlier must not be used afterwards,
// and lookups after Close fail with ErrMmapClosed. Close must not race with
// lookups.
func (m *MappedVectors) Close() error {
	return m.region.Close()
}

func (m *MappedVectors) closed() bool {
	return m.region.Data() == nil
}

// Contains reports whether id has a vector. It is false once closed.
func (m *MappedVectors) Contains(id string) bool {
	if m.closed() {
		return false
	}
	return m.table.Contains(id)
}

// Vector returns the vector for id, aliasing the mapping.
func (m *MappedVectors) Vector(id string) ([]float32, error) {
	if m.closed() {
		return nil, ErrMmapClosed
	}
	return m.table.Vector(id)
}

// Similarity returns the cosine similarity of two nodes.
func (m *MappedVectors) Similarity(a, b string) (float64, error) {
	if m.closed() {
		return 0, ErrMmapClosed
	}
	return m.table.Similarity(a, b)
}

// ReadMapped reads a binary embedding file fully into memory.
func ReadMapped(path string) (*KeyedVectors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading embedding file: %w", err)
	}

	t, err := parseMapped(data, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &KeyedVectors{table: *t}, nil
}

// parseMapped validates the binary layout and builds the lookup table.
// With copyRows the float data is decoded into a fresh slice; otherwise rows
// alias data directly.
func parseMapped(data []byte, copyRows bool) (*table, error) {
	if len(data) < mappedHeaderSize || string(data[:8]) != mappedMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	version := binary.LittleEndian.Uint32(data[8:12])
	if version != mappedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	dim := int(binary.LittleEndian.Uint32(data[12:16]))
	count := binary.LittleEndian.Uint64(data[16:24])
	idBytes := binary.LittleEndian.Uint64(data[24:32])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}

	if idBytes > uint64(len(data)-mappedHeaderSize) {
		return nil, fmt.Errorf("%w: id table exceeds file size", ErrCorrupt)
	}
	idEnd := uint64(mappedHeaderSize) + idBytes

	// Each id needs at least its length prefix and each row dim*4 bytes.
	if count > idBytes/2 {
		return nil, fmt.Errorf("%w: count %d exceeds id table", ErrCorrupt, count)
	}
	rowStart := align4(idEnd)
	var rowBytes uint64
	if rowStart < uint64(len(data)) {
		rowBytes = uint64(len(data)) - rowStart
	}
	if count > rowBytes/(uint64(dim)*4) {
		return nil, fmt.Errorf("%w: %d rows exceed file size", ErrCorrupt, count)
	}

	t := &table{
		dim:   dim,
		ids:   make([]string, 0, count),
		index: make(map[string]int, count),
	}

	pos := uint64(mappedHeaderSize)
	for i := uint64(0); i < count; i++ {
		if pos+2 > idEnd {
			return nil, fmt.Errorf("%w: truncated id table", ErrCorrupt)
		}
		n := uint64(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+n > idEnd {
			return nil, fmt.Errorf("%w: truncated id table", ErrCorrupt)
		}
		id := string(data[pos : pos+n])
		pos += n
		if _, dup := t.index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrCorrupt, id)
		}
		t.index[id] = len(t.ids)
		t.ids = append(t.ids, id)
	}
	if pos != idEnd {
		return nil, fmt.Errorf("%w: id table length mismatch", ErrCorrupt)
	}

	want := rowStart + count*uint64(dim)*4
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: size %d, want %d", ErrCorrupt, len(data), want)
	}

	n := int(count) * dim
	if n == 0 {
		return t, nil
	}

	raw := data[rowStart:]
	if copyRows {
		t.rows = make([]float32, n)
		for i := range t.rows {
			t.rows[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return t, nil
	}

	// The mapping is page aligned and rowStart is 4-byte aligned.
	t.rows = unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n)
	return t, nil
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}

// WriteMapped writes a store in the binary layout, atomically replacing path.
func WriteMapped(path string, s Store) error {
	ids := s.IDs()

	var idBytes uint64
	for _, id := range ids {
		if len(id) > math.MaxUint16 {
			return fmt.Errorf("node id too long: %d bytes", len(id))
		}
		idBytes += 2 + uint64(len(id))
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(tempPath)
		return err
	}

	w := bufio.NewWriter(f)

	header := make([]byte, mappedHeaderSize)
	copy(header[0:8], mappedMagic)
	binary.LittleEndian.PutUint32(header[8:12], mappedVersion)
	binary.LittleEndian.PutUint32(header[12:16], uint32(s.Dim()))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(ids)))
	binary.LittleEndian.PutUint64(header[24:32], idBytes)
	w.Write(header)

	var lenBuf [2]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(id)))
		w.Write(lenBuf[:])
		w.WriteString(id)
	}

	idEnd := mappedHeaderSize + idBytes
	for i := idEnd; i < align4(idEnd); i++ {
		w.WriteByte(0)
	}

	var valBuf [4]byte
	for _, id := range ids {
		vec, err := s.Vector(id)
		if err != nil {
			return fail(err)
		}
		for _, v := range vec {
			binary.LittleEndian.PutUint32(valBuf[:], math.Float32bits(v))
			w.Write(valBuf[:])
		}
	}

	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("writing embedding file: %w", err))
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
