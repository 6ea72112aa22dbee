package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)}
	mc := newMemoryCache(time.Hour, clock.Now)
	defer mc.Close()

	exerciseCache(t, mc)

	ctx := context.Background()
	if err := mc.Set(ctx, "short", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := mc.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected expired entry to miss, got %v", err)
	}
	if ok, _ := mc.Exists(ctx, "short"); ok {
		t.Error("Expired entry reported as existing")
	}

	mc.evictExpired()
	if _, ok := mc.entries["short"]; ok {
		t.Error("Expired entry not evicted")
	}
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	mc := NewMemoryCache(0)
	defer mc.Close()

	ctx := context.Background()
	value := []byte("abc")
	_ = mc.Set(ctx, "k", value, 0)
	value[0] = 'x'

	got, _ := mc.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("Stored value aliased caller slice: %q", got)
	}
	got[1] = 'y'
	if again, _ := mc.Get(ctx, "k"); string(again) != "abc" {
		t.Errorf("Returned value aliased stored slice: %q", again)
	}
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	mc := NewMemoryCache(time.Millisecond)
	if err := mc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		key, pattern string
		want         bool
	}{
		{"neurai:pacs:studies:a:1", "*", true},
		{"neurai:pacs:studies:a:1", "neurai:pacs:studies:a:*", true},
		{"neurai:pacs:studies:b:1", "neurai:pacs:studies:a:*", false},
		{"neurai:pacs:patients:x", "neurai:pacs:patients:x", true},
		{"neurai:pacs:patients:xy", "neurai:pacs:patients:x", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.key, tt.pattern); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v", tt.key, tt.pattern, got)
		}
	}
}

func TestKeyAndDigest(t *testing.T) {
	if got := Key("studies", "abc"); got != "neurai:pacs:studies:abc" {
		t.Errorf("Unexpected key %q", got)
	}

	a, b := Digest([]byte("P001*")), Digest([]byte("P001*"))
	if a != b {
		t.Error("Digest is not deterministic")
	}
	if strings.ContainsAny(a, "*?[]:") {
		t.Errorf("Digest contains pattern characters: %q", a)
	}
	if a == Digest([]byte("P002")) {
		t.Error("Different inputs share a digest")
	}
}

// exerciseCache runs the behaviour shared by every Cache implementation.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, err := c.Get(ctx, Key("missing")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}

	keys := []string{Key("studies", "p1", "a"), Key("studies", "p1", "b"), Key("studies", "p2", "a"), Key("patients", "x")}
	for _, key := range keys {
		if err := c.Set(ctx, key, []byte(key), time.Hour); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}

	got, err := c.Get(ctx, keys[0])
	if err != nil || string(got) != keys[0] {
		t.Errorf("Get returned %q, %v", got, err)
	}
	if ok, err := c.Exists(ctx, keys[3]); err != nil || !ok {
		t.Errorf("Exists returned %v, %v", ok, err)
	}

	if err := c.Clear(ctx, Key("studies", "p1")+":*"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for i, key := range keys {
		ok, _ := c.Exists(ctx, key)
		if wantGone := i < 2; ok == wantGone {
			t.Errorf("Key %s: exists=%v after clear", key, ok)
		}
	}

	if err := c.Delete(ctx, keys[3]); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, keys[3]); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected deleted key to miss, got %v", err)
	}
}
