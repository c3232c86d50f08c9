// Package faults classifies pipeline errors so callers can decide between
// redelivery and a terminal failure record.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Category partitions failures by how they are handled.
type Category string

const (
	// CategoryValidation covers unsupported file types and unreadable
	// byte sources; rejected client-side before any upload.
	CategoryValidation Category = "validation"
	// CategoryTransient covers storage or oracle timeouts and throttling;
	// safe to resolve via at-least-once redelivery.
	CategoryTransient Category = "transient"
	// CategoryClassification covers explicit oracle failures; terminal.
	CategoryClassification Category = "classification"
	// CategoryIntegrity covers missing objects, write conflicts, and
	// malformed keys; terminal, with detail retained on the record.
	CategoryIntegrity Category = "integrity"
)

// Fault carries a category alongside the operation that failed.
type Fault struct {
	Category Category
	Op       string
	Err      error
}

func (f *Fault) Error() string {
	if f == nil || f.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", f.Category, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// New wraps err with a category. Returns nil when err is nil.
func New(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Category: category, Op: op, Err: err}
}

func Validation(op string, err error) error     { return New(CategoryValidation, op, err) }
func Transient(op string, err error) error      { return New(CategoryTransient, op, err) }
func Classification(op string, err error) error { return New(CategoryClassification, op, err) }
func Integrity(op string, err error) error      { return New(CategoryIntegrity, op, err) }

// CategoryOf extracts the category from err, or "" when err is unclassified.
func CategoryOf(err error) Category {
	var f *Fault
	if errors.As(err, &f) {
		return f.Category
	}
	return ""
}

// IsTransient reports whether err should be resolved by redelivery rather
// than a terminal failure record. Unclassified errors are checked against
// the net-style Timeout/Temporary interfaces.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if CategoryOf(err) == CategoryTransient {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
