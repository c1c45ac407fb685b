package backend

import (
	"errors"

	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
)

// Get reads a value from the primary engine. A missing key yields
// engine.ErrNotFound.
func (b *Backend) Get(bucket, key []byte) ([]byte, error) {
	value, err := b.primary.Get(bucket, key)
	b.stats.Operation("get", ignoreNotFound(err))
	return value, err
}

// FoldKeys visits keys. Index-scoped options, either an explicit index
// query or a three-part bucket qualifier, are served by the index engine;
// everything else by the primary engine.
func (b *Backend) FoldKeys(fn engine.KeyFunc, opts engine.FoldOptions) (err error) {
	defer func() { b.stats.Operation("fold_keys", err) }()

	if opts.IndexScoped() {
		b.log.Debug("Routing key fold to index engine", logger.String("engine", b.index.Name()))
		return b.index.FoldIndex(fn, opts)
	}
	return b.primary.FoldKeys(fn, opts)
}

// FoldBuckets visits buckets of the primary engine.
func (b *Backend) FoldBuckets(fn engine.BucketFunc, opts engine.FoldOptions) (err error) {
	defer func() { b.stats.Operation("fold_buckets", err) }()
	return b.primary.FoldBuckets(fn, opts)
}

// FoldObjects visits objects of the primary engine.
func (b *Backend) FoldObjects(fn engine.ObjectFunc, opts engine.FoldOptions) (err error) {
	defer func() { b.stats.Operation("fold_objects", err) }()
	return b.primary.FoldObjects(fn, opts)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}
