package storage

import (
	"errors"
	"fmt"
)

// Class is the engine-neutral classification of a storage error.
type Class int

const (
	// ClassFatal is any failure the loader cannot absorb.
	ClassFatal Class = iota
	// ClassForeignKey is a foreign-key constraint violation on one row.
	ClassForeignKey
	// ClassTransient is a busy/locked/serialization signal worth retrying.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassForeignKey:
		return "foreign_key"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error wraps an engine error with its classification.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage: %v", e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the Class of err. Errors that did not come through a Conn
// are fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassFatal
}

// IsForeignKey reports whether err is a foreign-key violation.
func IsForeignKey(err error) bool {
	return err != nil && Classify(err) == ClassForeignKey
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// EngineMessage returns the innermost engine error text of err.
func EngineMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// TransientClassifier adapts IsTransient to retry.ErrorClassifier.
type TransientClassifier struct{}

func (TransientClassifier) IsTransient(err error) bool { return IsTransient(err) }
