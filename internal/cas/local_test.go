package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_PutThenGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	data := []byte("hello ingestion core")
	digest, alreadyExisted, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if alreadyExisted {
		t.Fatalf("expected fresh write, got alreadyExisted=true")
	}

	sum := sha256.Sum256(data)
	if digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest mismatch: got %s", digest)
	}

	got, err := store.Get(ctx, digest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-tripped bytes differ")
	}
}

func TestLocalStore_PutIsIdempotent(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	data := []byte("duplicate content")

	digest1, already1, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if already1 {
		t.Fatalf("expected first Put to be a fresh write")
	}

	digest2, already2, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if !already2 {
		t.Fatalf("expected second Put to report alreadyExisted")
	}
	if digest1 != digest2 {
		t.Fatalf("expected identical digests, got %s and %s", digest1, digest2)
	}
}

func TestLocalStore_FanOutLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	digest, _, err := store.Put(ctx, []byte("fan-out check"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	want := filepath.Join(root, "sha256", digest[:2], digest[2:4], digest[4:])
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected blob at %s: %v", want, err)
	}
}

func TestLocalStore_GetMissingReturnsNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	_, err = store.Get(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_ExistsReflectsState(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	digest, _, err := store.Put(ctx, []byte("exists check"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, digest)
	if err != nil || !exists {
		t.Fatalf("expected Exists to be true, err=%v exists=%v", err, exists)
	}
}
