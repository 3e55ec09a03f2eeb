// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get = (%v, %v), want (v, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get of missing key reported a hit")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New(time.Minute)

	c.SetWithTTL("k", "v", 10*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestCache_Sweep(t *testing.T) {
	c := New(time.Minute)

	c.SetWithTTL("stale", 1, 5*time.Millisecond)
	c.Set("fresh", 2)
	time.Sleep(20 * time.Millisecond)

	c.Sweep()
	if c.Len() != 1 {
		t.Errorf("Len after sweep = %d, want 1", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("sweep evicted a live entry")
	}
}

func TestCache_DeleteClear(t *testing.T) {
	c := New(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after clear = %d, want 0", c.Len())
	}
}

func TestGenerateKey_Deterministic(t *testing.T) {
	type params struct {
		A string
		B int
	}

	k1 := GenerateKey("method", params{A: "x", B: 1})
	k2 := GenerateKey("method", params{A: "x", B: 1})
	if k1 != k2 {
		t.Errorf("same inputs produced different keys: %s vs %s", k1, k2)
	}

	k3 := GenerateKey("method", params{A: "x", B: 2})
	if k1 == k3 {
		t.Error("different inputs produced the same key")
	}

	k4 := GenerateKey("other", params{A: "x", B: 1})
	if k1 == k4 {
		t.Error("different methods produced the same key")
	}
}

func TestSlidingWindowStore_CountAndExpiry(t *testing.T) {
	s := NewSlidingWindowStore(100*time.Millisecond, 10, 100)

	s.Increment("src")
	s.Increment("src")
	s.IncrementBy("src", 3)
	if got := s.Count("src"); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if got := s.Count("other"); got != 0 {
		t.Errorf("Count of untouched key = %d, want 0", got)
	}

	time.Sleep(150 * time.Millisecond)
	if got := s.Count("src"); got != 0 {
		t.Errorf("Count after window elapsed = %d, want 0", got)
	}
}

func TestSlidingWindowStore_Remove(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 100)

	s.Increment("a")
	s.Increment("b")
	s.Remove("a")
	if got := s.Count("a"); got != 0 {
		t.Errorf("Count after remove = %d, want 0", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
