package backend

import (
	"errors"
	"fmt"

	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
)

// Put writes the postings for specs and then stores value. If the index
// write fails the primary engine is not called.
//
// Delete recovers postings by decoding the stored value, so value must be
// readable by the configured Decoder. A value it rejects is stored but can
// never be deleted; WithValueCheck refuses such values up front.
func (b *Backend) Put(bucket, key []byte, specs []engine.IndexSpec, value []byte) (err error) {
	defer func() { b.stats.Operation("put", err) }()

	if b.checkValues {
		if _, err := b.decoder.IndexSpecs(value); err != nil {
			return &ValueDecodeError{Err: err}
		}
	}

	if len(specs) > 0 {
		postings := b.postings(bucket, key, specs, false)
		if err := b.index.index(postings); err != nil {
			b.log.Error("Index write failed, primary write skipped",
				logger.ByteString("bucket", bucket),
				logger.ByteString("key", key),
				logger.Int("postings", len(postings)),
				logger.Error(err))
			return &IndexWriteError{Postings: len(postings), Err: err}
		}
		b.stats.IndexWrites(len(postings))
	}

	if err := b.primary.Put(bucket, key, value); err != nil {
		return &PrimaryEngineError{Op: "put", Err: err}
	}
	return nil
}

// Delete removes the record's postings and then the record. The postings
// are recovered by decoding the stored value. Deleting a missing key
// succeeds without touching the index engine.
func (b *Backend) Delete(bucket, key []byte) (err error) {
	defer func() { b.stats.Operation("delete", err) }()

	value, err := b.primary.Get(bucket, key)
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &PrimaryEngineError{Op: "get", Err: err}
	}

	specs, err := b.decoder.IndexSpecs(value)
	if err != nil {
		// Without the specs the postings cannot be found; keep the record.
		return &IndexDeleteError{Err: fmt.Errorf("failed to decode stored value: %w", err)}
	}

	if len(specs) > 0 {
		postings := b.postings(bucket, key, specs, true)
		if err := b.index.delete(postings); err != nil {
			b.log.Error("Index delete failed, primary delete skipped",
				logger.ByteString("bucket", bucket),
				logger.ByteString("key", key),
				logger.Int("postings", len(postings)),
				logger.Error(err))
			return &IndexDeleteError{Postings: len(postings), Err: err}
		}
		b.stats.IndexDeletes(len(postings))
	}

	if err := b.primary.Delete(bucket, key); err != nil {
		return &PrimaryEngineError{Op: "delete", Err: err}
	}
	return nil
}

// postings builds one posting per spec, each with its own timestamp.
// With removeAll every posting is a removal regardless of the spec's op.
func (b *Backend) postings(bucket, key []byte, specs []engine.IndexSpec, removeAll bool) []engine.Posting {
	postings := make([]engine.Posting, 0, len(specs))
	for _, spec := range specs {
		p := engine.Posting{
			Op:           spec.Op,
			Bucket:       bucket,
			Index:        spec.Index,
			SecondaryKey: spec.Key,
			PrimaryKey:   key,
			Timestamp:    b.clock.Now(),
		}
		if removeAll {
			p.Op = engine.OpRemove
		}
		if p.Op == engine.OpAdd {
			p.Payload = []byte{}
		}
		postings = append(postings, p)
	}
	return postings
}
