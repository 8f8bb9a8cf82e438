package embedding

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureText = `4 3
a 1 0 0
b 0.5 0.5 0
c 0 0 2
z 0 0 0
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.kv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// openAll returns the fixture opened through every access path.
func openAll(t *testing.T) map[string]Store {
	t.Helper()
	textPath := writeFixture(t, fixtureText)
	text, err := Load(textPath, Options{})
	require.NoError(t, err)

	binPath := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteMapped(binPath, text))

	mapped, err := Load(binPath, Options{Mmap: true})
	require.NoError(t, err)
	read, err := Load(binPath, Options{Mmap: false})
	require.NoError(t, err)

	t.Cleanup(func() {
		mapped.Close()
	})

	return map[string]Store{"text": text, "mapped": mapped, "read": read}
}

func TestLoad_Formats(t *testing.T) {
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 3, s.Dim())
			assert.Equal(t, 4, s.Len())
			assert.Equal(t, []string{"a", "b", "c", "z"}, s.IDs())

			assert.True(t, s.Contains("a"))
			assert.False(t, s.Contains("d"))

			v, err := s.Vector("c")
			require.NoError(t, err)
			assert.Equal(t, []float32{0, 0, 2}, v)

			sim, err := s.Similarity("a", "b")
			require.NoError(t, err)
			assert.InDelta(t, 1/math.Sqrt2, sim, 1e-6)

			sim, err = s.Similarity("a", "c")
			require.NoError(t, err)
			assert.Equal(t, 0.0, sim)

			// zero-magnitude vectors have no direction
			sim, err = s.Similarity("a", "z")
			require.NoError(t, err)
			assert.Equal(t, 0.0, sim)
		})
	}
}

func TestUnknownNode(t *testing.T) {
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Vector("d")
			assert.True(t, errors.Is(err, ErrUnknownNode), "Vector error = %v", err)

			_, err = s.Similarity("a", "d")
			assert.True(t, errors.Is(err, ErrUnknownNode), "Similarity error = %v", err)

			_, err = s.Similarity("d", "a")
			assert.True(t, errors.Is(err, ErrUnknownNode), "Similarity error = %v", err)
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.kv")

	for _, opts := range []Options{{}, {Format: FormatText}, {Format: FormatMapped, Mmap: true}, {Format: FormatMapped}} {
		_, err := Load(missing, opts)
		assert.True(t, errors.Is(err, ErrNotFound), "Load(%+v) error = %v", opts, err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"bad header", "three 2\n"},
		{"short row", "1 3\na 1 2\n"},
		{"bad value", "1 2\na 1 x\n"},
		{"count mismatch", "2 2\na 1 2\n"},
		{"duplicate", "2 2\na 1 2\na 3 4\n"},
		{"huge count", "4611686018427387904 4\na 1 2 3 4\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFixture(t, tt.content), Options{})
			assert.True(t, errors.Is(err, ErrCorrupt), "error = %v", err)
			assert.True(t, errors.Is(err, ErrNotFound), "corrupt files must report ErrNotFound")
		})
	}
}

// mappedHeader builds a binary header followed by body.
func mappedHeader(dim uint32, count, idBytes uint64, body []byte) []byte {
	data := make([]byte, mappedHeaderSize, mappedHeaderSize+len(body))
	copy(data, mappedMagic)
	binary.LittleEndian.PutUint32(data[8:12], mappedVersion)
	binary.LittleEndian.PutUint32(data[12:16], dim)
	binary.LittleEndian.PutUint64(data[16:24], count)
	binary.LittleEndian.PutUint64(data[24:32], idBytes)
	return append(data, body...)
}

func TestLoad_CorruptMappedHeader(t *testing.T) {
	// one id "a" (3 bytes), padding, one 2-dim row
	body := []byte{1, 0, 'a', 0, 0, 0, 0x80, 0x3f, 0, 0, 0x80, 0x3f}

	tests := []struct {
		name string
		data []byte
	}{
		{"huge count, empty id table", mappedHeader(4, 1<<62, 0, nil)},
		{"huge count", mappedHeader(2, 1<<62, 3, body)},
		{"rows overflow", mappedHeader(1<<31, 1, 3, body)},
		{"id table overflow", mappedHeader(2, 1, 1<<64-1, body)},
		{"count beyond rows", mappedHeader(2, 2, 3, body)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vectors.bin")
			require.NoError(t, os.WriteFile(path, tt.data, 0644))
			for _, mmap := range []bool{true, false} {
				_, err := Load(path, Options{Mmap: mmap})
				assert.True(t, errors.Is(err, ErrCorrupt), "mmap=%v error = %v", mmap, err)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.bin")
		require.NoError(t, os.WriteFile(path, mappedHeader(2, 1, 3, body), 0644))
		s, err := Load(path, Options{Mmap: false})
		require.NoError(t, err)
		v, err := s.Vector("a")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 1}, v)
	})
}

func TestLoad_TruncatedMapped(t *testing.T) {
	text, err := LoadText(writeFixture(t, fixtureText))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteMapped(path, text))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0644))

	for _, mmap := range []bool{true, false} {
		_, err := Load(path, Options{Mmap: mmap})
		assert.True(t, errors.Is(err, ErrCorrupt), "mmap=%v error = %v", mmap, err)
	}
}

func TestWriteTextRoundTrip(t *testing.T) {
	kv := NewKeyedVectors(2)
	require.NoError(t, kv.Add("x", []float32{0.25, -1.5}))
	require.NoError(t, kv.Add("y", []float32{3, 4}))

	path := filepath.Join(t.TempDir(), "out.kv")
	require.NoError(t, WriteText(path, kv))

	loaded, err := LoadText(path)
	require.NoError(t, err)

	for _, id := range kv.IDs() {
		want, _ := kv.Vector(id)
		got, err := loaded.Vector(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestKeyedVectorsAdd(t *testing.T) {
	kv := NewKeyedVectors(2)
	assert.Error(t, kv.Add("a", []float32{1}))
	assert.Error(t, kv.Add("a b", []float32{1, 2}))
	assert.Error(t, kv.Add("", []float32{1, 2}))

	require.NoError(t, kv.Add("a", []float32{1, 2}))
	require.NoError(t, kv.Add("a", []float32{3, 4}))
	assert.Equal(t, 1, kv.Len())
	v, _ := kv.Vector("a")
	assert.Equal(t, []float32{3, 4}, v)
}

func TestMappedConcurrentReads(t *testing.T) {
	s := openAll(t)["mapped"]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sim, err := s.Similarity("a", "b")
				assert.NoError(t, err)
				assert.InDelta(t, 1/math.Sqrt2, sim, 1e-6)
			}
		}()
	}
	wg.Wait()
}

func TestMappedClose(t *testing.T) {
	text, err := LoadText(writeFixture(t, fixtureText))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteMapped(path, text))

	m, err := OpenMapped(path)
	require.NoError(t, err)
	assert.True(t, m.Contains("a"))
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "second Close should be a no-op")

	assert.False(t, m.Contains("a"))
	_, err = m.Vector("a")
	assert.True(t, errors.Is(err, ErrMmapClosed), "Vector error = %v", err)
	_, err = m.Similarity("a", "b")
	assert.True(t, errors.Is(err, ErrMmapClosed), "Similarity error = %v", err)
	assert.Equal(t, 4, m.Len())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}
