// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
)

// MemoryStore implements Store with mutex-guarded maps. Used in tests and
// as a stand-in when no durable storage is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte   // "collection:id" -> raw doc
	subs map[string][]subRow // sub-collection name -> ordered rows
}

type subRow struct {
	collection string
	parentID   string
	seq        string
	raw        []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		subs: make(map[string][]subRow),
	}
}

func memKey(collection, id string) string {
	return collection + ":" + id
}

// Get loads a document. Returns errs.NotFound if absent.
func (s *MemoryStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	found, err := s.GetOptional(ctx, collection, id, out)
	if err != nil {
		return err
	}
	if !found {
		return errs.NotFound(collection, id)
	}
	return nil
}

// GetOptional loads a document, reporting presence.
func (s *MemoryStore) GetOptional(ctx context.Context, collection, id string, out interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.docs[memKey(collection, id)]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errs.Storage("get", fmt.Errorf("decode %s/%s: %w", collection, id, err))
	}
	return true, nil
}

// Set upserts a document.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Storage("set", fmt.Errorf("encode %s/%s: %w", collection, id, err))
	}

	s.mu.Lock()
	s.docs[memKey(collection, id)] = data
	s.mu.Unlock()
	return nil
}

// Update applies a partial update to the stored document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(collection, id)
	raw, ok := s.docs[key]
	if !ok {
		return errs.NotFound(collection, id)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errs.Storage("update", err)
	}

	applyFields(doc, fields)

	data, err := json.Marshal(doc)
	if err != nil {
		return errs.Storage("update", err)
	}
	s.docs[key] = data
	return nil
}

// Append adds a value to a sub-collection, preserving insertion order.
func (s *MemoryStore) Append(ctx context.Context, collection, parentID, sub string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Storage("append", fmt.Errorf("encode %s: %w", sub, err))
	}

	s.mu.Lock()
	s.subs[sub] = append(s.subs[sub], subRow{
		collection: collection,
		parentID:   parentID,
		seq:        fmt.Sprintf("%020d-%s", time.Now().UnixNano(), uuid.New().String()[:8]),
		raw:        data,
	})
	s.mu.Unlock()
	return nil
}

// Query filters a collection in-process.
func (s *MemoryStore) Query(ctx context.Context, spec QuerySpec) ([]json.RawMessage, error) {
	prefix := spec.Collection + ":"

	s.mu.RLock()
	var raws []json.RawMessage
	var docs []map[string]interface{}
	for key, raw := range s.docs {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		doc, ok := decode(raw)
		if !ok {
			continue
		}
		if !matchesAll(doc, spec.Filters) {
			continue
		}
		raws = append(raws, raw)
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	return orderAndLimit(raws, docs, spec), nil
}

// QueryGroup queries a named sub-collection across all parents.
func (s *MemoryStore) QueryGroup(ctx context.Context, sub string, spec QuerySpec) ([]json.RawMessage, error) {
	s.mu.RLock()
	var raws []json.RawMessage
	var docs []map[string]interface{}
	for _, row := range s.subs[sub] {
		if spec.Collection != "" && row.collection != spec.Collection {
			continue
		}
		doc, ok := decode(row.raw)
		if !ok {
			continue
		}
		if !matchesAll(doc, spec.Filters) {
			continue
		}
		raws = append(raws, row.raw)
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	return orderAndLimit(raws, docs, spec), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
