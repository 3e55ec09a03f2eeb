// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package store defines the persistence collaborator contract: an abstract
// document/query store with get, upsert, partial update, sub-collection
// append, and filtered queries including collection-group queries across
// parent documents.
//
// Two implementations ship with the engine: BadgerStore for durable local
// storage and MemoryStore for tests. Both evaluate query filters in-process
// against the decoded document, which keeps the contract identical across
// backends.
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/fieldpath"
)

// FilterOp is a query filter operator.
type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpGreater       FilterOp = ">"
	OpGreaterEqual  FilterOp = ">="
	OpLess          FilterOp = "<"
	OpLessEqual     FilterOp = "<="
	OpIn            FilterOp = "in"
	OpArrayContains FilterOp = "array-contains"
)

// Filter constrains a query. Field is a dotted path into the document.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// QuerySpec describes a filtered, ordered, limited query over a collection.
type QuerySpec struct {
	Collection string
	Filters    []Filter
	OrderBy    string // dotted field path; empty = unspecified order
	Descending bool
	Limit      int // 0 = no limit
}

// Store is the persistence collaborator interface.
type Store interface {
	// Get loads a document into out. Returns errs.NotFound if absent.
	Get(ctx context.Context, collection, id string, out interface{}) error

	// GetOptional loads a document into out, reporting presence instead of
	// erroring on absence.
	GetOptional(ctx context.Context, collection, id string, out interface{}) (bool, error)

	// Set upserts a document.
	Set(ctx context.Context, collection, id string, value interface{}) error

	// Update applies a partial update: each field path in fields is set on
	// the stored document. Returns errs.NotFound if the document is absent.
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error

	// Append adds a value to a named sub-collection of a parent document.
	// The parent does not need to exist.
	Append(ctx context.Context, collection, parentID, sub string, value interface{}) error

	// Query returns raw documents matching the given QuerySpec.
	Query(ctx context.Context, spec QuerySpec) ([]json.RawMessage, error)

	// QueryGroup queries a named sub-collection across all parent documents
	// of all collections (collection-group semantics).
	QueryGroup(ctx context.Context, sub string, spec QuerySpec) ([]json.RawMessage, error)

	// Close releases the backing resources.
	Close() error
}

// decode unmarshals a raw document for filter evaluation.
func decode(raw []byte) (map[string]interface{}, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// matchesAll reports whether the document satisfies every filter.
func matchesAll(doc map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

// matches evaluates one filter against the document.
func matches(doc map[string]interface{}, f Filter) bool {
	value, ok := fieldpath.Lookup(doc, f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEqual:
		return compare(value, f.Value) == 0
	case OpGreater:
		return comparable2(value, f.Value) && compare(value, f.Value) > 0
	case OpGreaterEqual:
		return comparable2(value, f.Value) && compare(value, f.Value) >= 0
	case OpLess:
		return comparable2(value, f.Value) && compare(value, f.Value) < 0
	case OpLessEqual:
		return comparable2(value, f.Value) && compare(value, f.Value) <= 0
	case OpIn:
		candidates, ok := f.Value.([]interface{})
		if !ok {
			return false
		}
		for _, c := range candidates {
			if compare(value, c) == 0 {
				return true
			}
		}
		return false
	case OpArrayContains:
		arr, ok := value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range arr {
			if compare(item, f.Value) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// comparable2 reports whether both values render to a comparable form.
func comparable2(a, b interface{}) bool {
	_, aNum := asNumber(a)
	_, bNum := asNumber(b)
	if aNum && bNum {
		return true
	}
	return fieldpath.Render(a) != "" && fieldpath.Render(b) != ""
}

// compare orders two JSON scalars: numerically when both are numeric,
// lexically otherwise. Returns -1, 0, or 1.
func compare(a, b interface{}) int {
	aNum, aOK := asNumber(a)
	bNum, bOK := asNumber(b)
	if aOK && bOK {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(render(a), render(b))
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func render(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fieldpath.Render(v)
}

// orderAndLimit sorts decoded documents by spec.OrderBy and applies the
// limit. Documents that failed to decode keep their scan position.
func orderAndLimit(raws []json.RawMessage, docs []map[string]interface{}, spec QuerySpec) []json.RawMessage {
	if spec.OrderBy != "" {
		type pair struct {
			raw json.RawMessage
			doc map[string]interface{}
		}
		pairs := make([]pair, len(raws))
		for i := range raws {
			pairs[i] = pair{raw: raws[i], doc: docs[i]}
		}
		sort.SliceStable(pairs, func(i, j int) bool {
			vi, _ := fieldpath.Lookup(pairs[i].doc, spec.OrderBy)
			vj, _ := fieldpath.Lookup(pairs[j].doc, spec.OrderBy)
			if spec.Descending {
				return compare(vi, vj) > 0
			}
			return compare(vi, vj) < 0
		})
		for i := range pairs {
			raws[i] = pairs[i].raw
		}
	}

	if spec.Limit > 0 && len(raws) > spec.Limit {
		raws = raws[:spec.Limit]
	}
	return raws
}
