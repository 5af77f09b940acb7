// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if got, err := c.Get(ctx, "abc"); err != nil || got != nil {
		t.Fatalf("Get on empty cache = %v, %v", got, err)
	}

	in := CachedVerdict{
		Verdict:    "FALSE",
		Sound:      true,
		FaultEdges: []string{"y = x", "assume y == 0"},
		Tasks:      3,
	}
	if err := c.Put(ctx, "abc", in); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	got, err := c.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got == nil {
		t.Fatal("Get returned a miss after Put")
	}
	if got.Verdict != in.Verdict || got.Tasks != in.Tasks || len(got.FaultEdges) != 2 {
		t.Errorf("Get = %+v, want %+v", got, in)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped on Put")
	}
}

func TestCacheDelete(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "gone", CachedVerdict{Verdict: "TRUE"}); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if err := c.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if got, err := c.Get(ctx, "gone"); err != nil || got != nil {
		t.Errorf("Get after Delete = %v, %v", got, err)
	}
	if err := c.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete of missing key = %v", err)
	}
}

func TestCacheHonoursContext(t *testing.T) {
	c := openTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Put(ctx, "x", CachedVerdict{}); err == nil {
		t.Error("Put with cancelled context succeeded")
	}
	if _, err := c.Get(ctx, "x"); err == nil {
		t.Error("Get with cancelled context succeeded")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open without path succeeded")
	}
}
