package store

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryStoreGetSetRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if b, err := m.Get(ctx, "missing"); err != nil || b != nil {
		t.Fatalf("expected nil, nil for a missing key, got %v, %v", b, err)
	}

	if err := m.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "v1" {
		t.Fatalf("expected v1, got %s", b)
	}
}

func TestMemoryStoreGetReturnsACopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.Set(ctx, "k", []byte("original")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := m.Get(ctx, "k")
	b[0] = 'X'

	b2, _ := m.Get(ctx, "k")
	if string(b2) != "original" {
		t.Fatalf("expected stored value unaffected by caller mutation, got %s", b2)
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for i, want := range []int64{1, 2, 3} {
		got, err := m.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Fatalf("iteration %d: expected %d, got %d", i, want, got)
		}
	}
}

type fakeRedisBackend struct {
	data map[string][]byte
	incr map[string]int64
}

func newFakeRedisBackend() *fakeRedisBackend {
	return &fakeRedisBackend{data: make(map[string][]byte), incr: make(map[string]int64)}
}

func (f *fakeRedisBackend) Get(_ context.Context, key string) ([]byte, error) {
	return f.data[key], nil
}

func (f *fakeRedisBackend) Set(_ context.Context, key string, value []byte) error {
	f.data[key] = value
	return nil
}

func (f *fakeRedisBackend) Incr(_ context.Context, key string) (int64, error) {
	f.incr[key]++
	return f.incr[key], nil
}

func TestRedisStoreNamespacesKeysWithShardPrefix(t *testing.T) {
	backend := newFakeRedisBackend()
	rs := NewRedisStore(backend, "slimclaw")
	ctx := context.Background()

	if err := rs.Set(ctx, "budget_snapshot", []byte("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := rs.Get(ctx, "budget_snapshot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %s", got)
	}

	// Exactly one sharded key should exist on the backend, prefixed with
	// the namespace and a shard bucket rather than the bare logical key.
	if len(backend.data) != 1 {
		t.Fatalf("expected exactly one sharded key on the backend, got %d", len(backend.data))
	}
	for k := range backend.data {
		if _, ok := backend.data["budget_snapshot"]; ok {
			t.Fatalf("expected the bare logical key to never be used directly, got %s", k)
		}
		if !strings.HasPrefix(k, "slimclaw:shard") || !strings.HasSuffix(k, ":budget_snapshot") {
			t.Fatalf("expected a namespaced shard-prefixed key, got %s", k)
		}
	}
}

func TestRedisStoreIncrDelegates(t *testing.T) {
	backend := newFakeRedisBackend()
	rs := NewRedisStore(backend, "slimclaw")
	ctx := context.Background()

	got, err := rs.Incr(ctx, "requests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
