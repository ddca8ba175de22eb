package util

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// 10 tokens per second, burst of 2
	l := NewLimiter(10, 2)

	if !l.Allow(1) {
		t.Error("expected first token to be allowed")
	}
	if !l.Allow(1) {
		t.Error("expected second token to be allowed (burst)")
	}
	if l.Allow(1) {
		t.Error("expected third token to be rejected (burst exhausted)")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Allow(1) {
		t.Error("expected token to be refilled after wait")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	l := NewLimiter(0, 0)
	if l != nil {
		t.Fatalf("expected nil limiter for zero rate")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow(1) {
			t.Fatal("nil limiter rejected a request")
		}
	}
	if err := l.Wait(context.Background(), 1); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}
}

func TestLimiterRegistry(t *testing.T) {
	reg := NewLimiterRegistry(100, 10, 100*time.Millisecond)
	defer reg.Close()

	l1 := reg.Get("conn-1")
	l2 := reg.Get("conn-2")
	if l1 == l2 {
		t.Error("expected different limiters for different connections")
	}
	if reg.Get("conn-1") != l1 {
		t.Error("expected the same limiter for the same connection")
	}

	reg.Release("conn-2")
	if reg.Len() != 1 {
		t.Errorf("expected 1 limiter after release, got %d", reg.Len())
	}

	time.Sleep(250 * time.Millisecond)
	if reg.Len() != 0 {
		t.Errorf("expected idle limiters to be cleaned up, got %d", reg.Len())
	}
}

func TestHasNamespacePrefix(t *testing.T) {
	cases := []struct {
		name, prefix string
		want         bool
	}{
		{"Newtonsoft.Json", "Newtonsoft.Json", true},
		{"Newtonsoft.Json.Linq", "Newtonsoft.Json", true},
		{"Newtonsoft.JsonX", "Newtonsoft.Json", false},
		{"System", "", false},
	}
	for _, tc := range cases {
		if got := HasNamespacePrefix(tc.name, tc.prefix); got != tc.want {
			t.Errorf("HasNamespacePrefix(%q, %q) = %v, want %v", tc.name, tc.prefix, got, tc.want)
		}
	}
}

func TestHasPathPrefix(t *testing.T) {
	if !HasPathPrefix("src/bin/Debug", "src/bin") {
		t.Error("expected nested path to match")
	}
	if HasPathPrefix("src/binary", "src/bin") {
		t.Error("expected sibling path not to match")
	}
}

func TestFileURI(t *testing.T) {
	if got := FileURI("/repo/src/Home Controller.cs"); got != "file:///repo/src/Home%20Controller.cs" {
		t.Errorf("unexpected uri %q", got)
	}
}
