// Package ingestlog implements the Ingest Log: an append-only, UTC-day
// partitioned NDJSON file set that is the sole source of ordering truth for
// accepted envelopes.
package ingestlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fetchwell/ingestcore/internal/observability"
)

// ErrEndOfStream is returned by a Reader when it has consumed every record
// currently on disk for its stream. It is not an error condition; callers
// decide whether to poll again later.
var ErrEndOfStream = errors.New("ingestlog: end of stream")

// symlinkName is the stable name consumers open to find "the current file",
// kept pointing at the active day's file via atomic rename.
const symlinkName = "ingest.ndjson"

const maxSymlinkRetries = 8

// Position identifies a point in the log: a UTC day's file and a byte offset
// within it.
type Position struct {
	FileDate   string
	ByteOffset int64
}

// Log is the append-only writer side of the Ingest Log. One process-wide
// append mutex protects the active file handle and symlink rotation, matching
// the single-writer invariant over a data root.
type Log struct {
	mu         sync.Mutex
	root       string
	hooks      *observability.Registry
	now        func() time.Time
	currentDay string
	file       *os.File
}

// New opens (or creates) the log rooted at dir. dir typically matches the
// filesystem layout's ingest_log/ directory under the data root.
func New(dir string, hooks *observability.Registry) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ingestlog: create dir: %w", err)
	}
	return &Log{
		root:  dir,
		hooks: hooks,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *Log) pathFor(fileDate string) string {
	return filepath.Join(l.root, "ingest_"+fileDate+".ndjson")
}

// Append writes line (expected to be a single JSON object with no trailing
// newline) as one record, fsyncs, and returns the position it landed at.
// Rotation to a new day's file happens transparently on the first append
// after a day boundary.
func (l *Log) Append(ctx context.Context, line []byte) (string, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.now().Format("2006-01-02")
	if l.file == nil || day != l.currentDay {
		if err := l.rotate(day); err != nil {
			return "", 0, err
		}
	}

	offset, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return "", 0, fmt.Errorf("ingestlog: seek: %w", err)
	}

	start := time.Now()
	if _, err := l.file.Write(append(append([]byte{}, line...), '\n')); err != nil {
		return "", 0, fmt.Errorf("ingestlog: write: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return "", 0, fmt.Errorf("ingestlog: fsync: %w", err)
	}

	l.hooks.EmitLogAppend(ctx, observability.LogAppendEvent{
		Timestamp:  l.now(),
		FileDate:   l.currentDay,
		ByteOffset: offset,
		LineBytes:  len(line) + 1,
		Duration:   time.Since(start),
	})

	return l.currentDay, offset, nil
}

// rotate closes the previous day's file handle (if any) and opens newDay's
// file in append mode, then repoints the ingest.ndjson symlink at it using
// create-temp-then-rename semantics, tolerating a stale symlink left by a
// prior crash.
func (l *Log) rotate(newDay string) error {
	previousDay := l.currentDay
	if l.file != nil {
		l.file.Close()
	}

	path := l.pathFor(newDay)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ingestlog: open %q: %w", path, err)
	}

	if err := l.repointSymlink(newDay); err != nil {
		f.Close()
		return err
	}

	l.file = f
	l.currentDay = newDay

	if previousDay != "" {
		l.hooks.EmitLogRotation(context.Background(), observability.LogRotationEvent{
			Timestamp:   l.now(),
			PreviousDay: previousDay,
			NewDay:      newDay,
		})
	}
	return nil
}

func (l *Log) repointSymlink(day string) error {
	target := filepath.Base(l.pathFor(day))
	linkPath := filepath.Join(l.root, symlinkName)
	tmpLink := linkPath + ".tmp"

	os.Remove(tmpLink)
	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("ingestlog: create temp symlink: %w", err)
	}

	for attempt := 0; attempt < maxSymlinkRetries; attempt++ {
		err := os.Rename(tmpLink, linkPath)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("ingestlog: rename symlink: %w", err)
		}
		os.Remove(linkPath)
	}
	return fmt.Errorf("ingestlog: could not repoint symlink after %d attempts", maxSymlinkRetries)
}

// Close flushes and closes the active file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Reader streams newline-delimited records for one consumer starting from a
// committed position. Readers are cooperative: they never block on new
// writes, returning ErrEndOfStream on exhaustion instead.
type Reader struct {
	root   string
	file   *os.File
	scan   *bufio.Scanner
	day    string
	offset int64
}

// NewReader opens a reader at start. A zero-value start.FileDate means "the
// earliest available day".
func NewReader(root string, start Position) (*Reader, error) {
	day := start.FileDate
	if day == "" {
		earliest, err := earliestDay(root)
		if err != nil {
			return nil, err
		}
		day = earliest
	}
	r := &Reader{root: root}
	if err := r.openDay(day, start.ByteOffset); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openDay(day string, offset int64) error {
	if r.file != nil {
		r.file.Close()
	}
	path := filepath.Join(r.root, "ingest_"+day+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ingestlog: open %q: %w", path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("ingestlog: seek: %w", err)
		}
	}
	r.file = f
	r.scan = bufio.NewScanner(f)
	r.scan.Buffer(make([]byte, 64*1024), 1<<20)
	r.day = day
	r.offset = offset
	return nil
}

// Next returns the next line and the position a consumer should commit to
// resume immediately after it — the start of the following record, not of
// the line just returned. At end of the current day's file it advances to
// the next day (offset 0) if that file exists; otherwise it returns
// ErrEndOfStream.
func (r *Reader) Next() ([]byte, Position, error) {
	if r.scan.Scan() {
		line := append([]byte{}, r.scan.Bytes()...)
		r.offset += int64(len(line)) + 1
		pos := Position{FileDate: r.day, ByteOffset: r.offset}
		return line, pos, nil
	}
	if err := r.scan.Err(); err != nil {
		return nil, Position{}, fmt.Errorf("ingestlog: scan: %w", err)
	}

	nextDay, ok := dayAfter(r.root, r.day)
	if !ok {
		return nil, Position{}, ErrEndOfStream
	}
	if err := r.openDay(nextDay, 0); err != nil {
		return nil, Position{}, err
	}
	return r.Next()
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
