package nn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Errors returned by model persistence.
var (
	ErrModelNotFound      = errors.New("model file not found")
	ErrUnsupportedVersion = errors.New("unsupported model version")
)

// CurrentModelVersion is the format version for compatibility checking.
// Increment this when making breaking changes to the model format.
const CurrentModelVersion = 1

// modelFile is the gob-encoded on-disk form of an MLP.
type modelFile struct {
	Version int
	In      int
	Hidden  int
	Params  [][]byte // MarshalBinary of W1, B1, W2, B2
}

// Exists checks if a model file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Save persists the network to path using GOB encoding.
func (m *MLP) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	file := modelFile{Version: CurrentModelVersion, In: m.In, Hidden: m.Hidden}
	for _, p := range m.Params() {
		b, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding parameters: %w", err)
		}
		file.Params = append(file.Params, b)
	}

	// Write to a temp file first, then rename for atomicity
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(file); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encoding model: %w", err)
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

// Load reads a network saved with Save.
func Load(path string) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	var file modelFile
	if err := gob.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}

	if file.Version != CurrentModelVersion {
		return nil, fmt.Errorf("%w: got %d, want %d (delete %s to retrain)",
			ErrUnsupportedVersion, file.Version, CurrentModelVersion, path)
	}
	if len(file.Params) != 4 {
		return nil, fmt.Errorf("decoding model: expected 4 parameter blocks, got %d", len(file.Params))
	}

	params := make([]*mat.Dense, len(file.Params))
	for i, b := range file.Params {
		var d mat.Dense
		if err := d.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("decoding parameters: %w", err)
		}
		params[i] = &d
	}

	m := &MLP{
		In:     file.In,
		Hidden: file.Hidden,
		W1:     params[0],
		B1:     params[1],
		W2:     params[2],
		B2:     params[3],
	}
	if err := m.checkShapes(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MLP) checkShapes() error {
	want := [][2]int{{m.In, m.Hidden}, {1, m.Hidden}, {m.Hidden, Classes}, {1, Classes}}
	for i, p := range m.Params() {
		r, c := p.Dims()
		if r != want[i][0] || c != want[i][1] {
			return fmt.Errorf("decoding model: parameter %d has shape %dx%d, want %dx%d", i, r, c, want[i][0], want[i][1])
		}
	}
	return nil
}
