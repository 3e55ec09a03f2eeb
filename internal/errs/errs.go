// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package errs defines the error taxonomy shared by all engine components.
//
// Four classes cover every failure a public entry point may surface:
//
//   - ValidationError: a malformed policy/rule/grant/playbook definition,
//     rejected synchronously at create or update time, never partially stored.
//   - NotFoundError: an unknown entity id referenced by an update or action
//     call; no state is mutated.
//   - EvaluationFault: an unexpected failure while scoring, deciding, or
//     correlating. Components decide fail-open vs fail-closed individually.
//   - StorageFault: the persistence collaborator is unavailable.
//
// All are compatible with errors.Is and errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel values for errors.Is checks.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrEvaluation = errors.New("evaluation fault")
	ErrStorage    = errors.New("storage fault")
)

// ValidationError describes a rejected definition. Field identifies the
// offending field where known.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: field %q: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError.
func Validation(entity, field, reason string) error {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}

// NotFoundError identifies a missing entity by kind and id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is makes NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// EvaluationFault wraps an unexpected failure inside a component with the
// context needed to reconstruct the decision.
type EvaluationFault struct {
	Component string
	Err       error
}

func (e *EvaluationFault) Error() string {
	return fmt.Sprintf("%s: evaluation fault: %v", e.Component, e.Err)
}

func (e *EvaluationFault) Unwrap() error { return e.Err }

// Is makes EvaluationFault match ErrEvaluation.
func (e *EvaluationFault) Is(target error) bool { return target == ErrEvaluation }

// Evaluation wraps err as an EvaluationFault for the named component.
func Evaluation(component string, err error) error {
	return &EvaluationFault{Component: component, Err: err}
}

// StorageFault wraps a persistence collaborator failure.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// Is makes StorageFault match ErrStorage.
func (e *StorageFault) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageFault for the named operation.
func Storage(op string, err error) error {
	return &StorageFault{Op: op, Err: err}
}
