// Package index implements secondary-index engines. Both engines store
// postings ordered by (bucket, index, secondary key, primary key) and serve
// equality and range folds over a single index.
//
// A posting is applied only if its timestamp is not older than the stored
// posting for the same entry, so a stale add or removal cannot override a
// newer add. Removals keep no tombstone: an add older than a removal that
// already cleared the entry still lands, leaving a dangling posting that
// points at a record the primary engine no longer holds.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/neogan74/dualkv/internal/engine"
)

var (
	// ErrInvalidPosting is returned when a batch contains a malformed posting.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrNotIndexQuery is returned by FoldIndex when the options carry no index query.
	ErrNotIndexQuery = errors.New("fold options carry no index query")
)

func validate(postings []engine.Posting) error {
	for i, p := range postings {
		switch {
		case p.Index == "":
			return fmt.Errorf("%w: posting %d has no index name", ErrInvalidPosting, i)
		case p.PrimaryKey == nil:
			return fmt.Errorf("%w: posting %d has no primary key", ErrInvalidPosting, i)
		case p.Op != engine.OpAdd && p.Op != engine.OpRemove:
			return fmt.Errorf("%w: posting %d has unknown op %v", ErrInvalidPosting, i, p.Op)
		}
	}
	return nil
}

func resolve(opts engine.FoldOptions) ([]byte, engine.IndexQuery, error) {
	bucket, q, ok := opts.ResolveIndexQuery()
	if !ok || q.Index == "" {
		return nil, engine.IndexQuery{}, ErrNotIndexQuery
	}
	return bucket, q, nil
}

// lowerBound is the first secondary key a query can match.
func lowerBound(q engine.IndexQuery) []byte {
	if q.Eq != nil {
		return q.Eq
	}
	return q.Start
}

// encodeValue lays out a stored posting as an 8-byte big-endian timestamp
// followed by the payload.
func encodeValue(ts time.Time, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint64(b, uint64(ts.UnixNano()))
	return append(b, payload...)
}

func decodeValue(b []byte) (time.Time, []byte, error) {
	if len(b) < 8 {
		return time.Time{}, nil, fmt.Errorf("posting value too short: %d bytes", len(b))
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
	return ts, b[8:], nil
}
