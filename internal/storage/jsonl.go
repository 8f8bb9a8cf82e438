// Package storage records experiment runs. Finished runs and threshold
// results are appended to JSONL logs, which are the source of truth; a SQLite
// database indexes runs, epochs and threshold results and can be rebuilt from
// the logs.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (4MB per line).
// A run with all its epochs is one line.
const MaxJSONLLineCapacity = 4 * 1024 * 1024

// ReadRuns reads all runs from a JSONL file.
// A missing file means no runs yet.
func ReadRuns(path string) ([]Run, error) {
	return readJSONL[Run](path, "runs")
}

// AppendRun adds a run to the end of a JSONL file.
func AppendRun(path string, run Run) error {
	return appendJSONL(path, run, "run")
}

// ReadThresholds reads all threshold results from a JSONL file.
func ReadThresholds(path string) ([]ThresholdResult, error) {
	return readJSONL[ThresholdResult](path, "thresholds")
}

// AppendThreshold adds a threshold result to the end of a JSONL file.
func AppendThreshold(path string, r ThresholdResult) error {
	return appendJSONL(path, r, "threshold result")
}

func readJSONL[T any](path, what string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s file: %w", what, err)
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)

	// Increase buffer size for long lines
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue // Skip empty lines
		}

		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", what, lineNum, err)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s file: %w", what, err)
	}

	return items, nil
}

func appendJSONL(path string, v interface{}, what string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log for append: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", what, err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", what, err)
	}
	return nil
}
