// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/errs"
)

type testDoc struct {
	Name  string   `json:"name"`
	Score int      `json:"score"`
	Tags  []string `json:"tags,omitempty"`
	When  string   `json:"when,omitempty"`
}

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "docs", "a", &testDoc{Name: "alpha", Score: 10}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got testDoc
	if err := s.Get(ctx, "docs", "a", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "alpha" || got.Score != 10 {
		t.Errorf("got %+v, want alpha/10", got)
	}

	if err := s.Get(ctx, "docs", "missing", &got); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	found, err := s.GetOptional(ctx, "docs", "missing", &got)
	if err != nil || found {
		t.Errorf("GetOptional missing = (%v, %v), want (false, nil)", found, err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "docs", "a", &testDoc{Name: "alpha", Score: 10}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Update(ctx, "docs", "a", map[string]interface{}{"score": 42}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got testDoc
	if err := s.Get(ctx, "docs", "a", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Score != 42 || got.Name != "alpha" {
		t.Errorf("after update got %+v, want score 42, name alpha", got)
	}

	if err := s.Update(ctx, "docs", "missing", map[string]interface{}{"score": 1}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seed := map[string]testDoc{
		"a": {Name: "alpha", Score: 10, Tags: []string{"x"}, When: "2026-01-01T00:00:00Z"},
		"b": {Name: "beta", Score: 20, Tags: []string{"x", "y"}, When: "2026-01-02T00:00:00Z"},
		"c": {Name: "gamma", Score: 30, When: "2026-01-03T00:00:00Z"},
	}
	for id, doc := range seed {
		if err := s.Set(ctx, "docs", id, doc); err != nil {
			t.Fatalf("Set %s: %v", id, err)
		}
	}

	tests := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{"no filters", nil, 3},
		{"equal", []Filter{{Field: "name", Op: OpEqual, Value: "beta"}}, 1},
		{"greater than", []Filter{{Field: "score", Op: OpGreater, Value: 10}}, 2},
		{"gte string timestamp", []Filter{{Field: "when", Op: OpGreaterEqual, Value: "2026-01-02T00:00:00Z"}}, 2},
		{"in", []Filter{{Field: "name", Op: OpIn, Value: []interface{}{"alpha", "gamma"}}}, 2},
		{"array contains", []Filter{{Field: "tags", Op: OpArrayContains, Value: "y"}}, 1},
		{"conjunction", []Filter{
			{Field: "score", Op: OpGreaterEqual, Value: 20},
			{Field: "name", Op: OpEqual, Value: "gamma"},
		}, 1},
		{"no match", []Filter{{Field: "name", Op: OpEqual, Value: "delta"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := s.Query(ctx, QuerySpec{Collection: "docs", Filters: tt.filters})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(raws) != tt.want {
				t.Errorf("got %d results, want %d", len(raws), tt.want)
			}
		})
	}
}

func TestMemoryStore_QueryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, doc := range []testDoc{
		{Name: "a", Score: 30},
		{Name: "b", Score: 10},
		{Name: "c", Score: 20},
	} {
		if err := s.Set(ctx, "docs", doc.Name, doc); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	raws, err := s.Query(ctx, QuerySpec{Collection: "docs", OrderBy: "score", Descending: true, Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d results, want 2", len(raws))
	}
	var first testDoc
	if err := json.Unmarshal(raws[0], &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Score != 30 {
		t.Errorf("first score = %d, want 30 (descending order)", first.Score)
	}
}

func TestMemoryStore_AppendQueryGroup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	entries := []map[string]string{
		{"actor": "alice", "action": "collected"},
		{"actor": "bob", "action": "transferred"},
		{"actor": "alice", "action": "analyzed"},
	}
	for i, entry := range entries {
		parent := "inc-1"
		if i == 1 {
			parent = "inc-2"
		}
		if err := s.Append(ctx, "incidents", parent, "custody", entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.QueryGroup(ctx, "custody", QuerySpec{})
	if err != nil {
		t.Fatalf("QueryGroup: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("group query got %d rows, want 3", len(all))
	}

	alice, err := s.QueryGroup(ctx, "custody", QuerySpec{
		Filters: []Filter{{Field: "actor", Op: OpEqual, Value: "alice"}},
	})
	if err != nil {
		t.Fatalf("QueryGroup filtered: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("filtered group query got %d rows, want 2", len(alice))
	}
}
