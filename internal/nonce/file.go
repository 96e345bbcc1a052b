// ABOUTME: Flat-file nonce store with one "nonce,timestamp" line per record
// ABOUTME: Rewrites the file without expired lines on every Record

package nonce

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MalformedLineError reports a nonce file line that is not "nonce,timestamp".
type MalformedLineError struct {
	Path string
	Line int
	Text string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed row in %s line %d: %q", e.Path, e.Line, e.Text)
}

// FileStore keeps nonces in a single text file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	expire time.Duration
	now    func() time.Time
}

// NewFileStore returns a store writing to FileName inside dir.
func NewFileStore(dir string, expire time.Duration) *FileStore {
	return &FileStore{
		path:   filepath.Join(dir, FileName),
		expire: expire,
		now:    time.Now,
	}
}

// Path returns the nonce file location.
func (s *FileStore) Path() string {
	return s.path
}

type fileRecord struct {
	nonce      string
	recordedAt int64
	line       string
}

// read parses the nonce file. A missing file yields no records.
func (s *FileStore) read() ([]fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading nonce file: %w", err)
	}

	var records []fileRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, &MalformedLineError{Path: s.path, Line: lineNo, Text: line}
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, &MalformedLineError{Path: s.path, Line: lineNo, Text: line}
		}
		records = append(records, fileRecord{nonce: parts[0], recordedAt: ts, line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning nonce file: %w", err)
	}
	return records, nil
}

// Exists reports whether nonce appears in the file.
func (s *FileStore) Exists(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.nonce == nonce {
			return true, nil
		}
	}
	return false, nil
}

// Record drops expired lines, then appends nonce with the current time.
func (s *FileStore) Record(_ context.Context, nonce string) error {
	if strings.ContainsAny(nonce, ",\n") {
		return fmt.Errorf("%w in a nonce file: %q", ErrUnstorable, nonce)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}

	now := s.now()
	var buf bytes.Buffer
	for _, r := range records {
		if expired(r.recordedAt, s.expire, now) {
			continue
		}
		buf.WriteString(r.line)
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "%s,%d\n", nonce, now.Unix())

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing nonce file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing nonce file: %w", err)
	}
	return nil
}
