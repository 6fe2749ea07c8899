package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache(WithMemoryCleanup(0))
	defer m.Close()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "intel:p1", payload{Name: "p1", Price: 9.5}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := GetTyped[payload](ctx, m, "intel:p1")
	if err != nil || got.Price != 9.5 {
		t.Fatalf("GetTyped = %+v, %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := GetTyped[payload](ctx, m, "intel:p1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer m.Close()

	_ = m.Set(ctx, "a", "1", 0)
	_ = m.Set(ctx, "b", "2", 0)
	var s string
	_ = m.Get(ctx, "a", &s) // a is now most recent
	_ = m.Set(ctx, "c", "3", 0)

	if err := m.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should have been evicted")
	}
	if err := m.Get(ctx, "a", &s); err != nil || s != "1" {
		t.Fatalf("a should survive: %q %v", s, err)
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache(WithMemoryCleanup(0))
	defer m.Close()
	_ = m.Set(ctx, "intel:p1", "x", 0)
	_ = m.Set(ctx, "intel:p2", "x", 0)
	_ = m.Set(ctx, "lock:p1", "x", 0)

	if err := m.DeleteByPattern(ctx, "intel:*"); err != nil {
		t.Fatalf("DeleteByPattern: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache(WithMemoryCleanup(0))
	defer m.Close()

	ok, _ := m.TryLock(ctx, "job:p1", time.Minute)
	if !ok {
		t.Fatalf("first lock should succeed")
	}
	if ok, _ := m.TryLock(ctx, "job:p1", time.Minute); ok {
		t.Fatalf("second lock should fail")
	}
	_ = m.Unlock(ctx, "job:p1")
	if ok, _ := m.TryLock(ctx, "job:p1", time.Minute); !ok {
		t.Fatalf("lock should be free after unlock")
	}
}

func TestLayeredCacheFillsL1(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(WithMemoryCleanup(0))
	l2 := NewMemoryCache(WithMemoryCleanup(0))
	c := NewLayeredCache(l1, l2, time.Minute)
	defer c.Close()

	_ = l2.Set(ctx, "k", payload{Name: "shared"}, 0)
	got, err := GetTyped[payload](ctx, c, "k")
	if err != nil || got.Name != "shared" {
		t.Fatalf("layered get = %+v, %v", got, err)
	}
	if l1.Len() != 1 {
		t.Fatalf("l1 should be populated after read-through")
	}
	_ = c.Delete(ctx, "k")
	if l1.Len() != 0 || l2.Len() != 0 {
		t.Fatalf("delete should clear both layers")
	}
}
