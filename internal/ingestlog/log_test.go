package ingestlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/observability"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	log, err := New(dir, observability.NewRegistry(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log, dir
}

func TestAppend_ReturnsIncreasingOffsets(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	_, off1, err := log.Append(ctx, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	_, off2, err := log.Append(ctx, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if off2 <= off1 {
		t.Fatalf("expected increasing offsets, got %d then %d", off1, off2)
	}
}

func TestAppend_CreatesSymlinkToCurrentDay(t *testing.T) {
	log, dir := newTestLog(t)
	day, _, err := log.Append(context.Background(), []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	linkPath := filepath.Join(dir, symlinkName)
	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	want := "ingest_" + day + ".ndjson"
	if target != want {
		t.Fatalf("expected symlink target %q, got %q", want, target)
	}
}

func TestReader_StreamsAppendedLinesInOrder(t *testing.T) {
	log, dir := newTestLog(t)
	ctx := context.Background()

	lines := []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}
	for _, line := range lines {
		if _, _, err := log.Append(ctx, []byte(line)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reader, err := NewReader(dir, Position{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	for i, want := range lines {
		got, _, err := reader.Next()
		if err != nil {
			t.Fatalf("Next() at index %d: %v", i, err)
		}
		if string(got) != want {
			t.Fatalf("line %d: got %q, want %q", i, got, want)
		}
	}

	if _, _, err := reader.Next(); err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestReader_ResumesFromCommittedOffset(t *testing.T) {
	log, dir := newTestLog(t)
	ctx := context.Background()

	if _, _, err := log.Append(ctx, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	day, pos2, err := log.Append(ctx, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}

	// pos2 is the byte offset where the second line starts, as if a consumer had
	// already committed past the first line.
	reader, err := NewReader(dir, Position{FileDate: day, ByteOffset: pos2})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	got, _, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Fatalf("expected to resume at second line, got %q", got)
	}
}
