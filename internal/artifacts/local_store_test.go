package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_PutGetRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	data := []byte("hello artifact")
	hash, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	sum := sha256.Sum256(data)
	if hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("expected hash to be sha256 of data, got %s", hash)
	}

	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-trip mismatch: got %q", got)
	}
}

func TestLocalStore_PutIsShardedByFirstTwoHexChars(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(base)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	hash, err := store.Put(context.Background(), []byte("shard me"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	expected := filepath.Join(base, hash[:2], hash)
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected blob at %s: %v", expected, err)
	}
}

func TestLocalStore_GetRejectsMalformedHash(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	cases := []string{"../../etc/passwd", "not-a-hash", "", "deadbeef"}
	for _, c := range cases {
		if _, err := store.Get(context.Background(), c); err != ErrInvalidHash {
			t.Errorf("Get(%q): expected ErrInvalidHash, got %v", c, err)
		}
	}
}

func TestLocalStore_GetMissingReturnsNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	missing := "0000000000000000000000000000000000000000000000000000000000000000"[:64]
	if _, err := store.Get(context.Background(), missing); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_PutIsIdempotent(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	data := []byte("idempotent")

	h1, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	h2, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
}
