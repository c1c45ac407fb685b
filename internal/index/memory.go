package index

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
)

// MemoryIndex is an in-memory engine.IndexEngine backed by a B-tree.
type MemoryIndex struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[entry]
	partition uint64
}

type entry struct {
	bucket  []byte
	index   string
	skey    []byte
	pkey    []byte
	payload []byte
	ts      time.Time
}

func lessEntry(a, b entry) bool {
	if c := bytes.Compare(a.bucket, b.bucket); c != 0 {
		return c < 0
	}
	if a.index != b.index {
		return a.index < b.index
	}
	if c := bytes.Compare(a.skey, b.skey); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.pkey, b.pkey) < 0
}

// NewMemoryIndex creates an unstarted in-memory index engine
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Name() string { return "memory_index" }

func (m *MemoryIndex) Start(partition uint64, _ config.EngineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree = btree.NewG(32, lessEntry)
	m.partition = partition
	return nil
}

func (m *MemoryIndex) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree = nil
	return nil
}

func (m *MemoryIndex) Index(postings []engine.Posting) error {
	if err := validate(postings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	for _, p := range postings {
		m.apply(p)
	}
	return nil
}

func (m *MemoryIndex) Delete(postings []engine.Posting) error {
	if err := validate(postings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	for _, p := range postings {
		p.Op = engine.OpRemove
		m.apply(p)
	}
	return nil
}

func (m *MemoryIndex) apply(p engine.Posting) {
	e := entry{
		bucket: append([]byte(nil), p.Bucket...),
		index:  p.Index,
		skey:   append([]byte(nil), p.SecondaryKey...),
		pkey:   append([]byte(nil), p.PrimaryKey...),
		ts:     p.Timestamp,
	}
	if cur, ok := m.tree.Get(e); ok && cur.ts.After(p.Timestamp) {
		return
	}
	if p.IsRemoval() {
		m.tree.Delete(e)
		return
	}
	e.payload = append([]byte{}, p.Payload...)
	m.tree.ReplaceOrInsert(e)
}

func (m *MemoryIndex) FoldIndex(fn engine.KeyFunc, opts engine.FoldOptions) error {
	bucket, q, err := resolve(opts)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	// Scanning starts at the query's lower bound, so the first key that
	// fails to match ends the scan.
	pivot := entry{bucket: bucket, index: q.Index, skey: lowerBound(q)}
	m.tree.AscendGreaterOrEqual(pivot, func(e entry) bool {
		if !bytes.Equal(e.bucket, bucket) || e.index != q.Index || !q.Match(e.skey) {
			return false
		}
		err = fn(e.bucket, e.pkey)
		return err == nil
	})
	return engine.IgnoreStop(err)
}

func (m *MemoryIndex) Drop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree.Clear(false)
	return nil
}

// Len returns the number of stored postings.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tree == nil {
		return 0
	}
	return m.tree.Len()
}

func (m *MemoryIndex) Status() any {
	return map[string]any{
		"partition": m.partition,
		"postings":  m.Len(),
	}
}

func (m *MemoryIndex) Callback(string, any) error {
	return nil
}
