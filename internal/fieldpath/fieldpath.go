// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package fieldpath walks decoded JSON documents by dotted path. It backs the
// policy engine's field-condition triggers, which compare an operator-supplied
// path (e.g. "request.items.0.amount") against untyped payload data.
package fieldpath

import (
	"strconv"
	"strings"
)

// Lookup resolves a dotted path against a decoded JSON value (maps, slices,
// scalars). Numeric segments index into slices. Returns (value, true) when
// the full path resolves.
func Lookup(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, doc != nil
	}

	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// LookupString resolves a path and renders the result as a string. Numbers
// are rendered without a trailing ".0" for integral values so operator
// conditions like equals "42" behave as expected.
func LookupString(doc interface{}, path string) (string, bool) {
	value, ok := Lookup(doc, path)
	if !ok {
		return "", false
	}
	return Render(value), true
}

// LookupNumber resolves a path to a float64 when the value is numeric or a
// numeric string.
func LookupNumber(doc interface{}, path string) (float64, bool) {
	value, ok := Lookup(doc, path)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Render converts a JSON scalar to its operator-facing string form.
func Render(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
