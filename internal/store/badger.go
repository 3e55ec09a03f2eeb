// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
)

// Key layout:
//
//	doc:<collection>:<id>                      top-level documents
//	sub:<subname>:<collection>:<parentID>:<seq> sub-collection entries
//
// Sub-collection keys lead with the sub-collection name so a collection-group
// query is a single prefix scan.
const (
	docKeyPrefix = "doc:"
	subKeyPrefix = "sub:"
)

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed store at dir. An empty dir
// opens an in-memory database, useful for tests that still want the badger
// code path.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Storage("open", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an existing badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func docKey(collection, id string) []byte {
	return []byte(docKeyPrefix + collection + ":" + id)
}

func subKey(sub, collection, parentID, seq string) []byte {
	return []byte(subKeyPrefix + sub + ":" + collection + ":" + parentID + ":" + seq)
}

// Get loads a document. Returns errs.NotFound if absent.
func (s *BadgerStore) Get(ctx context.Context, collection, id string, out interface{}) error {
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
func (s *BadgerStore) GetOptional(ctx context.Context, collection, id string, out interface{}) (bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return false, errs.Storage("get", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errs.Storage("get", fmt.Errorf("decode %s/%s: %w", collection, id, err))
	}
	return true, nil
}

// Set upserts a document.
func (s *BadgerStore) Set(ctx context.Context, collection, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Storage("set", fmt.Errorf("encode %s/%s: %w", collection, id, err))
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, id), data)
	})
	if err != nil {
		return errs.Storage("set", err)
	}
	return nil
}

// Update applies a partial update to the stored document.
func (s *BadgerStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := docKey(collection, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.NotFound(collection, id)
		}
		if err != nil {
			return err
		}

		var doc map[string]interface{}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}

		applyFields(doc, fields)

		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return err
		}
		return errs.Storage("update", err)
	}
	return nil
}

// Append adds a value to a sub-collection. Entries are keyed by insertion
// time plus a UUID suffix so scans return them oldest-first.
func (s *BadgerStore) Append(ctx context.Context, collection, parentID, sub string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Storage("append", fmt.Errorf("encode %s: %w", sub, err))
	}
	seq := fmt.Sprintf("%020d-%s", time.Now().UnixNano(), uuid.New().String()[:8])
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(subKey(sub, collection, parentID, seq), data)
	})
	if err != nil {
		return errs.Storage("append", err)
	}
	return nil
}

// Query scans a collection and filters in-process.
func (s *BadgerStore) Query(ctx context.Context, spec QuerySpec) ([]json.RawMessage, error) {
	prefix := []byte(docKeyPrefix + spec.Collection + ":")
	return s.scan(ctx, prefix, spec)
}

// QueryGroup scans a named sub-collection across all parents.
func (s *BadgerStore) QueryGroup(ctx context.Context, sub string, spec QuerySpec) ([]json.RawMessage, error) {
	prefix := []byte(subKeyPrefix + sub + ":")
	if spec.Collection != "" {
		prefix = []byte(subKeyPrefix + sub + ":" + spec.Collection + ":")
	}
	return s.scan(ctx, prefix, spec)
}

func (s *BadgerStore) scan(ctx context.Context, prefix []byte, spec QuerySpec) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	var docs []map[string]interface{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
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
		return nil
	})
	if err != nil {
		return nil, errs.Storage("query", err)
	}

	return orderAndLimit(raws, docs, spec), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// applyFields sets each dotted field path on the document, creating
// intermediate maps as needed.
func applyFields(doc map[string]interface{}, fields map[string]interface{}) {
	for path, value := range fields {
		segments := strings.Split(path, ".")
		node := doc
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[seg] = child
			}
			node = child
		}
		node[segments[len(segments)-1]] = normalize(value)
	}
}

// normalize round-trips a value through JSON so stored partial updates have
// the same representation as full documents.
func normalize(value interface{}) interface{} {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}
