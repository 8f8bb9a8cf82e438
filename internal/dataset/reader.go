// Package dataset reads query/answer files and builds train/validation splits.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Errors returned by dataset operations.
var (
	ErrNotFound = errors.New("data file not found")
	ErrFormat   = errors.New("malformed data file")
)

// FormatError describes a malformed data file.
type FormatError struct {
	Path string
	Line int // 1-based; 0 when the problem is not tied to a line
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s line %d: %s", ErrFormat, e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrFormat, e.Path, e.Msg)
}

// Is makes errors.Is(err, ErrFormat) match any FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErr(path string, line int, format string, args ...interface{}) error {
	return &FormatError{Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// readCounted reads a file whose first line is a record count N followed by
// exactly N records. Trailing blank lines are ignored.
func readCounted(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return nil, formatErr(path, 0, "empty file, expected a record count")
	}

	header := strings.TrimSpace(scanner.Text())
	count, err := strconv.Atoi(header)
	if err != nil || count < 0 {
		return nil, formatErr(path, 1, "invalid record count %q", header)
	}

	// The count is untrusted; a short file is reported below.
	var records []string
	lineNum := 1
	trailing := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if len(records) == count {
			if line != "" {
				trailing++
			}
			continue
		}
		records = append(records, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(records) < count {
		return nil, formatErr(path, 0, "header declares %d records, found %d", count, len(records))
	}
	if trailing > 0 {
		return nil, formatErr(path, 0, "header declares %d records, found %d extra", count, trailing)
	}
	return records, nil
}

// ReadQueries reads a query file: a count N, then N lines of
// whitespace-separated author identifiers.
func ReadQueries(path string) ([][]string, error) {
	lines, err := readCounted(path)
	if err != nil {
		return nil, err
	}

	queries := make([][]string, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, formatErr(path, i+2, "empty query")
		}
		queries[i] = fields
	}
	return queries, nil
}

// ReadLabels reads a label file: a count N, then N boolean literals.
func ReadLabels(path string) ([]bool, error) {
	lines, err := readCounted(path)
	if err != nil {
		return nil, err
	}

	labels := make([]bool, len(lines))
	for i, line := range lines {
		v, err := ParseLabel(line)
		if err != nil {
			return nil, formatErr(path, i+2, "%v", err)
		}
		labels[i] = v
	}
	return labels, nil
}

// ParseLabel parses a boolean label token.
// Accepts True/False, 1/0 and yes/no in any case.
func ParseLabel(tok string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(tok)) {
	case "true", "1", "yes", "t", "y":
		return true, nil
	case "false", "0", "no", "f", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid label %q", tok)
	}
}

// FormatLabel renders a label the way answer files spell it.
func FormatLabel(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// WriteLabels writes labels in the answer file format, atomically replacing path.
func WriteLabels(path string, labels []bool) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n", len(labels))
	for _, l := range labels {
		w.WriteString(FormatLabel(l))
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing labels: %w", err)
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
