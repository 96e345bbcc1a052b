// ABOUTME: Reads comment-tolerant CSV definition files (*.users, *.roles, *.rules, ...)
// ABOUTME: Skips blank lines and lines starting with #, ; or // and reports arity errors with location

package records

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is one parsed line of a definition file.
type Record struct {
	File   string
	Line   int
	Text   string
	Fields []string
}

// MalformedError reports a record whose field count is not accepted.
type MalformedError struct {
	File string
	Line int
	Text string
	Want string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed row in %s line %d (want %s fields): %q", e.File, e.Line, e.Want, e.Text)
}

// Malformed builds a MalformedError for r.
func (r Record) Malformed(want string) error {
	return &MalformedError{File: r.File, Line: r.Line, Text: r.Text, Want: want}
}

// Field returns the i-th field or "" when the record is shorter.
func (r Record) Field(i int) string {
	if i < len(r.Fields) {
		return r.Fields[i]
	}
	return ""
}

// IsComment reports whether a line is blank or a comment.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, ";") ||
		strings.HasPrefix(trimmed, "//")
}

// Glob returns the files in dir ending in ext (e.g. ".roles"), sorted by name.
func Glob(dir, ext string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return nil, fmt.Errorf("listing %s files: %w", ext, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile parses every non-comment line of path as one CSV record.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if IsComment(line) {
			continue
		}

		r := csv.NewReader(strings.NewReader(line))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		fields, err := r.Read()
		if err != nil {
			return nil, &MalformedError{File: path, Line: lineNo, Text: line, Want: "valid CSV"}
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		out = append(out, Record{File: path, Line: lineNo, Text: line, Fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

// ReadDir parses every file in dir ending in ext, in file name order.
func ReadDir(dir, ext string) ([]Record, error) {
	files, err := Glob(dir, ext)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, file := range files {
		recs, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
