package persistence

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
)

// MemoryEngine is an in-memory implementation of engine.PrimaryEngine.
// Records are kept ordered by (bucket, key) so folds are deterministic.
// Data does not survive Stop.
type MemoryEngine struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[record]
	partition uint64
}

type record struct {
	bucket []byte
	key    []byte
	value  []byte
}

func lessRecord(a, b record) bool {
	if c := bytes.Compare(a.bucket, b.bucket); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.key, b.key) < 0
}

// NewMemoryEngine creates an unstarted in-memory primary engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{}
}

func (m *MemoryEngine) Name() string { return "memory" }

func (m *MemoryEngine) Start(partition uint64, _ config.EngineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree = btree.NewG(32, lessRecord)
	m.partition = partition
	return nil
}

func (m *MemoryEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree = nil
	return nil
}

func (m *MemoryEngine) Get(bucket, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tree == nil {
		return nil, engine.ErrNotStarted
	}
	if r, ok := m.tree.Get(record{bucket: bucket, key: key}); ok {
		return append([]byte(nil), r.value...), nil
	}
	return nil, engine.ErrNotFound
}

func (m *MemoryEngine) Put(bucket, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree.ReplaceOrInsert(record{
		bucket: append([]byte(nil), bucket...),
		key:    append([]byte(nil), key...),
		value:  append([]byte(nil), value...),
	})
	return nil
}

func (m *MemoryEngine) Delete(bucket, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree.Delete(record{bucket: bucket, key: key})
	return nil
}

func (m *MemoryEngine) FoldBuckets(fn engine.BucketFunc, _ engine.FoldOptions) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	var (
		last []byte
		seen bool
		err  error
	)
	m.tree.Ascend(func(r record) bool {
		if seen && bytes.Equal(r.bucket, last) {
			return true
		}
		last, seen = r.bucket, true
		err = fn(r.bucket)
		return err == nil
	})
	return engine.IgnoreStop(err)
}

func (m *MemoryEngine) FoldKeys(fn engine.KeyFunc, opts engine.FoldOptions) error {
	return m.fold(opts, func(r record) error {
		return fn(r.bucket, r.key)
	})
}

func (m *MemoryEngine) FoldObjects(fn engine.ObjectFunc, opts engine.FoldOptions) error {
	return m.fold(opts, func(r record) error {
		return fn(r.bucket, r.key, r.value)
	})
}

func (m *MemoryEngine) fold(opts engine.FoldOptions, fn func(record) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	var err error
	visit := func(r record) bool {
		err = fn(r)
		return err == nil
	}

	bucket := opts.BucketName()
	if bucket == nil {
		m.tree.Ascend(visit)
		return engine.IgnoreStop(err)
	}
	m.tree.AscendGreaterOrEqual(record{bucket: bucket}, func(r record) bool {
		if !bytes.Equal(r.bucket, bucket) {
			return false
		}
		return visit(r)
	})
	return engine.IgnoreStop(err)
}

func (m *MemoryEngine) Drop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		return engine.ErrNotStarted
	}
	m.tree.Clear(false)
	return nil
}

func (m *MemoryEngine) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tree == nil || m.tree.Len() == 0
}

func (m *MemoryEngine) Status() any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := 0
	if m.tree != nil {
		records = m.tree.Len()
	}
	return map[string]any{
		"partition": m.partition,
		"records":   records,
		"started":   m.tree != nil,
	}
}

func (m *MemoryEngine) Callback(string, any) error {
	return nil
}
