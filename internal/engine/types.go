package engine

import (
	"bytes"
	"fmt"
	"time"
)

// IndexOp is the kind of change an IndexSpec describes.
type IndexOp int

const (
	OpAdd IndexOp = iota
	OpRemove
)

func (o IndexOp) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("IndexOp(%d)", int(o))
	}
}

// IndexSpec adds or removes one (index, secondary key) entry for a record.
type IndexSpec struct {
	Op    IndexOp
	Index string
	Key   []byte
}

// Add returns an OpAdd spec.
func Add(index string, key []byte) IndexSpec {
	return IndexSpec{Op: OpAdd, Index: index, Key: key}
}

// Remove returns an OpRemove spec.
func Remove(index string, key []byte) IndexSpec {
	return IndexSpec{Op: OpRemove, Index: index, Key: key}
}

// Posting is the unit of work submitted to an IndexEngine.
// Removals carry no payload.
type Posting struct {
	Op           IndexOp
	Bucket       []byte
	Index        string
	SecondaryKey []byte
	PrimaryKey   []byte
	Payload      []byte
	Timestamp    time.Time
}

// IsRemoval reports whether the posting deletes an entry.
func (p Posting) IsRemoval() bool {
	return p.Op == OpRemove
}

// IndexQuery selects postings from a single index. When Eq is set it is an
// equality lookup, otherwise it matches secondary keys in [Start, End].
// A nil End is unbounded.
type IndexQuery struct {
	Index string
	Eq    []byte
	Start []byte
	End   []byte
}

// Match reports whether the secondary key satisfies the query.
func (q IndexQuery) Match(skey []byte) bool {
	if q.Eq != nil {
		return bytes.Equal(q.Eq, skey)
	}
	if bytes.Compare(skey, q.Start) < 0 {
		return false
	}
	return q.End == nil || bytes.Compare(skey, q.End) <= 0
}

// BucketQualifier restricts a fold to a bucket. With Index set it is the
// three-part form (bucket, index, query) and carries an index query.
type BucketQualifier struct {
	Name  []byte
	Index string
	Query IndexQuery
}

// ThreePart reports whether the qualifier carries index query parameters.
func (b *BucketQualifier) ThreePart() bool {
	return b != nil && b.Index != ""
}

// FoldOptions controls which records a fold visits.
type FoldOptions struct {
	Bucket *BucketQualifier
	// Index selects an explicit index-scoped fold. IndexBucket names the
	// bucket it applies to.
	Index       *IndexQuery
	IndexBucket []byte
}

// InBucket returns options restricted to a bucket.
func InBucket(bucket []byte) FoldOptions {
	return FoldOptions{Bucket: &BucketQualifier{Name: bucket}}
}

// IndexScoped reports whether the fold must be served by the index engine:
// an explicit index option, or a three-part bucket qualifier.
func (o FoldOptions) IndexScoped() bool {
	return o.Index != nil || o.Bucket.ThreePart()
}

// BucketName returns the bucket restriction, or nil for all buckets.
func (o FoldOptions) BucketName() []byte {
	if o.Bucket == nil {
		return nil
	}
	return o.Bucket.Name
}

// ResolveIndexQuery returns the bucket and query of an index-scoped fold.
func (o FoldOptions) ResolveIndexQuery() ([]byte, IndexQuery, bool) {
	if o.Index != nil {
		return o.IndexBucket, *o.Index, true
	}
	if o.Bucket.ThreePart() {
		q := o.Bucket.Query
		q.Index = o.Bucket.Index
		return o.Bucket.Name, q, true
	}
	return nil, IndexQuery{}, false
}
