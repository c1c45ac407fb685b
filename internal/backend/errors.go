package backend

import (
	"errors"
	"fmt"
)

// EngineStartError is returned by Start when a sub-engine fails to start.
type EngineStartError struct {
	Engine string // "primary" or "index"
	Name   string
	Err    error
}

func (e *EngineStartError) Error() string {
	return fmt.Sprintf("failed to start %s engine %q: %v", e.Engine, e.Name, e.Err)
}

func (e *EngineStartError) Unwrap() error { return e.Err }

// IndexWriteError is returned by Put when the index engine rejects the
// posting batch. The primary engine was not touched.
type IndexWriteError struct {
	Postings int
	Err      error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write of %d postings failed: %v", e.Postings, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// IndexDeleteError is returned by Delete when the postings of the record
// could not be removed. The primary record still exists.
type IndexDeleteError struct {
	Postings int
	Err      error
}

func (e *IndexDeleteError) Error() string {
	return fmt.Sprintf("index delete of %d postings failed: %v", e.Postings, e.Err)
}

func (e *IndexDeleteError) Unwrap() error { return e.Err }

// ValueDecodeError is returned by Put when value checking is enabled and
// the decoder rejects the value. Neither engine was touched.
type ValueDecodeError struct {
	Err error
}

func (e *ValueDecodeError) Error() string {
	return fmt.Sprintf("value cannot be decoded: %v", e.Err)
}

func (e *ValueDecodeError) Unwrap() error { return e.Err }

// PrimaryEngineError carries a failure reported by the primary engine.
type PrimaryEngineError struct {
	Op  string
	Err error
}

func (e *PrimaryEngineError) Error() string {
	return fmt.Sprintf("primary engine %s failed: %v", e.Op, e.Err)
}

func (e *PrimaryEngineError) Unwrap() error { return e.Err }

// DropError reports which engines failed to drop. A nil field means that
// engine dropped successfully.
type DropError struct {
	Primary error
	Index   error
}

func (e *DropError) Error() string {
	return fmt.Sprintf("drop failed: primary: %v, index: %v", orNone(e.Primary), orNone(e.Index))
}

// Unwrap exposes both slots to errors.Is and errors.As.
func (e *DropError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Primary, e.Index} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func orNone(err error) any {
	if err == nil {
		return "none"
	}
	return err
}

// IsIndexWriteFailure checks if an error is an index write failure
func IsIndexWriteFailure(err error) bool {
	var target *IndexWriteError
	return errors.As(err, &target)
}

// IsIndexDeleteFailure checks if an error is an index delete failure
func IsIndexDeleteFailure(err error) bool {
	var target *IndexDeleteError
	return errors.As(err, &target)
}

// IsPrimaryFailure checks if an error came from the primary engine
func IsPrimaryFailure(err error) bool {
	var target *PrimaryEngineError
	return errors.As(err, &target)
}

// IsValueDecodeFailure checks if Put refused an undecodable value
func IsValueDecodeFailure(err error) bool {
	var target *ValueDecodeError
	return errors.As(err, &target)
}
