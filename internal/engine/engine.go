// Package engine defines the contracts shared by the primary and
// secondary-index storage engines and the backend that coordinates them.
package engine

import (
	"errors"

	"github.com/neogan74/dualkv/internal/config"
)

var (
	// ErrNotFound is returned by PrimaryEngine.Get when the key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotStarted is returned when an engine is used before Start or after Stop.
	ErrNotStarted = errors.New("engine not started")

	// ErrStopFold may be returned by a fold callback to end the fold early.
	// Engines swallow it and report success.
	ErrStopFold = errors.New("stop fold")
)

// BucketFunc is called once per bucket during FoldBuckets.
type BucketFunc func(bucket []byte) error

// KeyFunc is called once per (bucket, key) during FoldKeys and FoldIndex.
type KeyFunc func(bucket, key []byte) error

// ObjectFunc is called once per stored object during FoldObjects.
type ObjectFunc func(bucket, key, value []byte) error

// PrimaryEngine stores the authoritative bucket/key -> value records.
type PrimaryEngine interface {
	// Name identifies the engine in status reports and errors.
	Name() string

	Start(partition uint64, cfg config.EngineConfig) error
	Stop() error

	// Get returns ErrNotFound when the key is absent.
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	Delete(bucket, key []byte) error

	FoldBuckets(fn BucketFunc, opts FoldOptions) error
	FoldKeys(fn KeyFunc, opts FoldOptions) error
	FoldObjects(fn ObjectFunc, opts FoldOptions) error

	Drop() error
	IsEmpty() bool
	Status() any
	Callback(ref string, msg any) error
}

// IndexEngine stores postings linking secondary keys to primary keys.
type IndexEngine interface {
	Name() string

	Start(partition uint64, cfg config.EngineConfig) error
	Stop() error

	// Index writes a batch of postings. Implementations may panic on
	// internal failure; callers must not assume a structured error.
	Index(postings []Posting) error
	// Delete removes a batch of postings.
	Delete(postings []Posting) error
	// FoldIndex calls fn for every primary key matched by the index query
	// carried in opts.
	FoldIndex(fn KeyFunc, opts FoldOptions) error

	Drop() error
	Status() any
	Callback(ref string, msg any) error
}

// IgnoreStop maps ErrStopFold to nil.
func IgnoreStop(err error) error {
	if errors.Is(err, ErrStopFold) {
		return nil
	}
	return err
}
