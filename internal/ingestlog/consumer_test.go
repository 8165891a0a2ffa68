package ingestlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
)

func newTestMetastore(t *testing.T) metastore.Store {
	t.Helper()
	store, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConsumer_CommitsAndResumesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := New(dir, observability.NewRegistry(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, line := range []string{`{"a":1}`, `{"a":2}`, `{"a":3}`} {
		if _, _, err := log.Append(ctx, []byte(line)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	log.Close()

	meta := newTestMetastore(t)

	consumer, err := NewConsumer(ctx, dir, "parser-1", meta)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	line, pos, err := consumer.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Fatalf("expected first line, got %q", line)
	}
	if err := consumer.Commit(ctx, pos); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	consumer.Close()

	// A fresh consumer with the same id should resume at the committed position,
	// not replay from the start.
	resumed, err := NewConsumer(ctx, dir, "parser-1", meta)
	if err != nil {
		t.Fatalf("NewConsumer (resume): %v", err)
	}
	defer resumed.Close()

	line, _, err = resumed.Next()
	if err != nil {
		t.Fatalf("Next (resume): %v", err)
	}
	if string(line) != `{"a":2}` {
		t.Fatalf("expected resume to continue past the committed line, got %q", line)
	}
}
