package backend

import (
	"errors"
	"testing"
	"time"

	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/index"
	"github.com/neogan74/dualkv/internal/logger"
	"github.com/neogan74/dualkv/internal/object"
	"github.com/neogan74/dualkv/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errBoom = errors.New("boom")

type harness struct {
	calls   *callLog
	primary *fakePrimary
	index   *fakeIndex
	stats   *recordingStats
	backend *Backend
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	calls := &callLog{}
	h := &harness{
		calls:   calls,
		primary: newFakePrimary(calls),
		index:   newFakeIndex(calls),
		stats:   &recordingStats{},
	}
	opts = append([]Option{WithLogger(logger.NewNop()), WithStats(h.stats)}, opts...)
	h.backend = New(h.primary, h.index, opts...)
	require.NoError(t, h.backend.Start(0, config.Backend{}))
	calls.calls = nil
	h.stats.ops, h.stats.errs = nil, nil
	return h
}

func encoded(t *testing.T, value string, entries ...object.Entry) []byte {
	t.Helper()
	data, err := object.Encode(object.Object{Value: []byte(value), Indexes: entries})
	require.NoError(t, err)
	return data
}

func TestBackend_APIVersion(t *testing.T) {
	b := New(newFakePrimary(&callLog{}), newFakeIndex(&callLog{}), WithLogger(logger.NewNop()))

	version, caps := b.APIVersion()
	assert.Equal(t, 1, version)
	assert.Equal(t, []Capability{CapabilityIndexes}, caps)
}

func TestBackend_Start(t *testing.T) {
	cfg := config.Backend{
		config.PrimaryKey: {"data_dir": "/p"},
		config.IndexKey:   {"data_dir": "/i"},
	}

	t.Run("success passes each engine its section", func(t *testing.T) {
		calls := &callLog{}
		primary, idx := newFakePrimary(calls), newFakeIndex(calls)
		b := New(primary, idx, WithLogger(logger.NewNop()))

		require.NoError(t, b.Start(7, cfg))
		assert.Equal(t, []string{"primary.start", "index.start"}, calls.calls)
		assert.Equal(t, "/p", primary.startCfg.String("data_dir", ""))
		assert.Equal(t, "/i", idx.startCfg.String("data_dir", ""))
	})

	t.Run("missing sections are empty", func(t *testing.T) {
		calls := &callLog{}
		primary, idx := newFakePrimary(calls), newFakeIndex(calls)
		b := New(primary, idx, WithLogger(logger.NewNop()))

		require.NoError(t, b.Start(0, config.Backend{}))
		assert.Empty(t, primary.startCfg)
		assert.Empty(t, idx.startCfg)
	})

	t.Run("primary failure skips index", func(t *testing.T) {
		calls := &callLog{}
		primary, idx := newFakePrimary(calls), newFakeIndex(calls)
		primary.startErr = errBoom
		b := New(primary, idx, WithLogger(logger.NewNop()))

		err := b.Start(0, cfg)
		var startErr *EngineStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, config.PrimaryKey, startErr.Engine)
		assert.Equal(t, "fake_primary", startErr.Name)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"primary.start"}, calls.calls)
	})

	t.Run("index failure leaves primary running", func(t *testing.T) {
		calls := &callLog{}
		primary, idx := newFakePrimary(calls), newFakeIndex(calls)
		idx.startErr = errBoom
		b := New(primary, idx, WithLogger(logger.NewNop()))

		err := b.Start(0, cfg)
		var startErr *EngineStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, config.IndexKey, startErr.Engine)
		assert.Equal(t, "fake_index", startErr.Name)
		assert.Equal(t, []string{"primary.start", "index.start"}, calls.calls)
	})
}

func TestBackend_StopSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, WithLogger(logger.Wrap(zap.New(core))))
	h.primary.stopErr = errBoom
	h.index.stopErr = errBoom

	assert.NoError(t, h.backend.Stop())
	assert.Equal(t, []string{"primary.stop", "index.stop"}, h.calls.calls)
	assert.Equal(t, 2, logs.FilterMessageSnippet("stop failed").Len())
}

func TestBackend_PutWithoutSpecsSkipsIndex(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.backend.Put([]byte("b"), []byte("k"), nil, []byte("v")))
	assert.Equal(t, []string{"primary.put"}, h.calls.calls)
	assert.Empty(t, h.index.indexed)
	assert.Equal(t, 0, h.stats.writes)
}

func TestBackend_PutIndexesFirst(t *testing.T) {
	ts := time.Unix(100, 0)
	var ticks int
	h := newHarness(t, WithClock(ClockFunc(func() time.Time {
		ticks++
		return ts.Add(time.Duration(ticks))
	})))

	specs := []engine.IndexSpec{
		engine.Add("email", []byte("a@x")),
		engine.Remove("email", []byte("old@x")),
	}
	require.NoError(t, h.backend.Put([]byte("users"), []byte("u1"), specs, []byte("v")))

	assert.Equal(t, []string{"index.index", "primary.put"}, h.calls.calls)
	require.Len(t, h.index.indexed, 1)
	postings := h.index.indexed[0]
	require.Len(t, postings, 2)

	assert.Equal(t, engine.OpAdd, postings[0].Op)
	assert.Equal(t, []byte("users"), postings[0].Bucket)
	assert.Equal(t, "email", postings[0].Index)
	assert.Equal(t, []byte("a@x"), postings[0].SecondaryKey)
	assert.Equal(t, []byte("u1"), postings[0].PrimaryKey)
	assert.NotNil(t, postings[0].Payload)

	assert.True(t, postings[1].IsRemoval())
	assert.Nil(t, postings[1].Payload)

	// One clock reading per posting.
	assert.Equal(t, 2, ticks)
	assert.True(t, postings[0].Timestamp.Before(postings[1].Timestamp))
	assert.Equal(t, 2, h.stats.writes)
}

func TestBackend_PutIndexFailureSkipsPrimary(t *testing.T) {
	h := newHarness(t)
	h.index.indexErr = errBoom

	err := h.backend.Put([]byte("b"), []byte("k"), []engine.IndexSpec{engine.Add("i", []byte("s"))}, []byte("v"))

	require.Error(t, err)
	assert.True(t, IsIndexWriteFailure(err))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"index.index"}, h.calls.calls)
	assert.Empty(t, h.primary.records)
	assert.Equal(t, 0, h.stats.writes)
}

func TestBackend_PutIndexPanicIsRecovered(t *testing.T) {
	for _, v := range []any{errBoom, "engine exploded"} {
		h := newHarness(t)
		h.index.indexPanic = v

		var err error
		require.NotPanics(t, func() {
			err = h.backend.Put([]byte("b"), []byte("k"), []engine.IndexSpec{engine.Add("i", []byte("s"))}, []byte("v"))
		})
		assert.True(t, IsIndexWriteFailure(err))
		assert.Contains(t, err.Error(), "panicked")
		assert.Empty(t, h.primary.records)
	}
}

func TestBackend_PutPrimaryFailure(t *testing.T) {
	h := newHarness(t)
	h.primary.putErr = errBoom

	err := h.backend.Put([]byte("b"), []byte("k"), []engine.IndexSpec{engine.Add("i", []byte("s"))}, []byte("v"))

	assert.True(t, IsPrimaryFailure(err))
	assert.False(t, IsIndexWriteFailure(err))
	assert.ErrorIs(t, err, errBoom)
	// The postings stay behind.
	assert.Len(t, h.index.indexed, 1)
}

func TestBackend_DeleteMissingKey(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.backend.Delete([]byte("b"), []byte("missing")))
	assert.Equal(t, []string{"primary.get"}, h.calls.calls)
	assert.Empty(t, h.index.deleted)
}

func TestBackend_DeleteRemovesPostingsFirst(t *testing.T) {
	h := newHarness(t)
	h.primary.records[rk([]byte("b"), []byte("k"))] = encoded(t, "v",
		object.Entry{Index: "email", Key: []byte("a@x")},
		object.Entry{Index: "age", Key: []byte("30")},
		object.Entry{Index: "tag", Key: []byte("red")},
	)

	require.NoError(t, h.backend.Delete([]byte("b"), []byte("k")))

	assert.Equal(t, []string{"primary.get", "index.delete", "primary.delete"}, h.calls.calls)
	require.Len(t, h.index.deleted, 1)
	postings := h.index.deleted[0]
	require.Len(t, postings, 3)
	for _, p := range postings {
		assert.True(t, p.IsRemoval())
		assert.Nil(t, p.Payload)
		assert.Equal(t, []byte("k"), p.PrimaryKey)
	}
	assert.Equal(t, "age", postings[1].Index)
	assert.Empty(t, h.primary.records)
	assert.Equal(t, 3, h.stats.deletes)
}

func TestBackend_DeleteWithoutEntriesSkipsIndex(t *testing.T) {
	h := newHarness(t)
	h.primary.records[rk([]byte("b"), []byte("k"))] = encoded(t, "v")

	require.NoError(t, h.backend.Delete([]byte("b"), []byte("k")))
	assert.Equal(t, []string{"primary.get", "primary.delete"}, h.calls.calls)
}

func TestBackend_DeleteIndexFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.index.deleteErr = errBoom
	h.primary.records[rk([]byte("b"), []byte("k"))] = encoded(t, "v", object.Entry{Index: "i", Key: []byte("s")})

	err := h.backend.Delete([]byte("b"), []byte("k"))

	assert.True(t, IsIndexDeleteFailure(err))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"primary.get", "index.delete"}, h.calls.calls)
	assert.Len(t, h.primary.records, 1)
	assert.Equal(t, 0, h.stats.deletes)
}

func TestBackend_DeleteUndecodableValue(t *testing.T) {
	h := newHarness(t)
	h.primary.records[rk([]byte("b"), []byte("k"))] = []byte("not json")

	err := h.backend.Delete([]byte("b"), []byte("k"))

	assert.True(t, IsIndexDeleteFailure(err))
	assert.Equal(t, []string{"primary.get"}, h.calls.calls)
	assert.Len(t, h.primary.records, 1)
}

func TestBackend_PutValueCheck(t *testing.T) {
	specs := []engine.IndexSpec{engine.Add("email", []byte("a@x"))}

	t.Run("off by default", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Put([]byte("b"), []byte("k"), nil, []byte("raw bytes")))

		// The record cannot be deleted afterwards.
		err := h.backend.Delete([]byte("b"), []byte("k"))
		assert.True(t, IsIndexDeleteFailure(err))
		assert.Len(t, h.primary.records, 1)
	})

	t.Run("rejects undecodable values", func(t *testing.T) {
		h := newHarness(t, WithValueCheck())
		err := h.backend.Put([]byte("b"), []byte("k"), specs, []byte("raw bytes"))

		assert.True(t, IsValueDecodeFailure(err))
		assert.False(t, IsIndexWriteFailure(err))
		assert.Empty(t, h.calls.calls)
		assert.Empty(t, h.primary.records)
		assert.Equal(t, []string{"put"}, h.stats.ops)
	})

	t.Run("accepts encoded objects", func(t *testing.T) {
		h := newHarness(t, WithValueCheck())
		value := encoded(t, "v", object.Entry{Index: "email", Key: []byte("a@x")})

		require.NoError(t, h.backend.Put([]byte("b"), []byte("k"), specs, value))
		assert.Equal(t, []string{"index.index", "primary.put"}, h.calls.calls)

		require.NoError(t, h.backend.Delete([]byte("b"), []byte("k")))
		assert.Empty(t, h.primary.records)
	})
}

func TestBackend_DeleteGetFailure(t *testing.T) {
	h := newHarness(t)
	h.primary.getErr = errBoom

	err := h.backend.Delete([]byte("b"), []byte("k"))

	var primaryErr *PrimaryEngineError
	require.ErrorAs(t, err, &primaryErr)
	assert.Equal(t, "get", primaryErr.Op)
	assert.Equal(t, []string{"primary.get"}, h.calls.calls)
}

func TestBackend_Get(t *testing.T) {
	h := newHarness(t)
	h.primary.records[rk([]byte("b"), []byte("k"))] = []byte("v")

	value, err := h.backend.Get([]byte("b"), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = h.backend.Get([]byte("b"), []byte("missing"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Equal(t, []error{nil, nil}, h.stats.errs)
}

func TestBackend_FoldKeysRouting(t *testing.T) {
	query := engine.IndexQuery{Index: "email", Eq: []byte("a@x")}

	tests := []struct {
		name    string
		opts    engine.FoldOptions
		toIndex bool
	}{
		{name: "no options", opts: engine.FoldOptions{}},
		{name: "one-part bucket", opts: engine.InBucket([]byte("b"))},
		{name: "explicit index option", opts: engine.FoldOptions{Index: &query, IndexBucket: []byte("b")}, toIndex: true},
		{
			name: "three-part bucket",
			opts: engine.FoldOptions{Bucket: &engine.BucketQualifier{
				Name: []byte("b"), Index: "email", Query: engine.IndexQuery{Eq: []byte("a@x")},
			}},
			toIndex: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			noop := func(_, _ []byte) error { return nil }

			require.NoError(t, h.backend.FoldKeys(noop, tt.opts))
			if tt.toIndex {
				assert.Equal(t, []string{"index.fold_index"}, h.calls.calls)
				assert.Equal(t, []engine.FoldOptions{tt.opts}, h.index.foldOpts)
			} else {
				assert.Equal(t, []string{"primary.fold_keys"}, h.calls.calls)
				assert.Equal(t, []engine.FoldOptions{tt.opts}, h.primary.foldOpts)
			}
		})
	}
}

func TestBackend_FoldBucketsAndObjectsUsePrimary(t *testing.T) {
	h := newHarness(t)
	query := engine.IndexQuery{Index: "i", Eq: []byte("s")}
	opts := engine.FoldOptions{Index: &query}

	require.NoError(t, h.backend.FoldBuckets(func([]byte) error { return nil }, opts))
	require.NoError(t, h.backend.FoldObjects(func(_, _, _ []byte) error { return nil }, opts))
	assert.Equal(t, []string{"primary.fold_buckets", "primary.fold_objects"}, h.calls.calls)
}

func TestBackend_Drop(t *testing.T) {
	tests := []struct {
		name               string
		primaryErr, idxErr error
	}{
		{name: "both succeed"},
		{name: "primary fails", primaryErr: errBoom},
		{name: "index fails", idxErr: errBoom},
		{name: "both fail", primaryErr: errBoom, idxErr: errors.New("index boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.primary.dropErr = tt.primaryErr
			h.index.dropErr = tt.idxErr

			err := h.backend.Drop()

			assert.Equal(t, []string{"primary.drop", "index.drop"}, h.calls.calls)
			if tt.primaryErr == nil && tt.idxErr == nil {
				assert.NoError(t, err)
				return
			}
			var dropErr *DropError
			require.ErrorAs(t, err, &dropErr)
			assert.Equal(t, tt.primaryErr, dropErr.Primary)
			assert.Equal(t, tt.idxErr, dropErr.Index)
		})
	}
}

func TestDropError_Message(t *testing.T) {
	err := &DropError{Primary: errBoom}
	assert.Equal(t, "drop failed: primary: boom, index: none", err.Error())
	assert.ErrorIs(t, err, errBoom)
}

func TestBackend_IsEmptyIgnoresIndex(t *testing.T) {
	h := newHarness(t)
	h.index.indexed = [][]engine.Posting{{{Index: "i"}}}
	assert.True(t, h.backend.IsEmpty())

	h.primary.records["b/k"] = []byte("v")
	assert.False(t, h.backend.IsEmpty())
}

func TestBackend_Status(t *testing.T) {
	h := newHarness(t)

	status := h.backend.Status()
	assert.Len(t, status, 2)
	assert.Equal(t, map[string]any{"records": 0}, status["fake_primary"])
	assert.Equal(t, "index ok", status["fake_index"])
}

func TestBackend_Callback(t *testing.T) {
	h := newHarness(t)
	assert.NotPanics(t, func() { h.backend.Callback("ref", "msg") })
	assert.Equal(t, []string{"primary.callback", "index.callback"}, h.calls.calls)

	h = newHarness(t)
	h.primary.callbackErr = errBoom
	assert.Panics(t, func() { h.backend.Callback("ref", "msg") })
	assert.Equal(t, []string{"primary.callback"}, h.calls.calls)

	h = newHarness(t)
	h.index.callbackErr = errBoom
	assert.Panics(t, func() { h.backend.Callback("ref", "msg") })
}

func TestBackend_OperationStats(t *testing.T) {
	h := newHarness(t)
	h.index.indexErr = errBoom

	_ = h.backend.Put([]byte("b"), []byte("k"), []engine.IndexSpec{engine.Add("i", []byte("s"))}, []byte("v"))
	_ = h.backend.Delete([]byte("b"), []byte("k"))

	assert.Equal(t, []string{"put", "delete"}, h.stats.ops)
	assert.True(t, IsIndexWriteFailure(h.stats.errs[0]))
	assert.NoError(t, h.stats.errs[1])
}

func TestBackend_WithRealEngines(t *testing.T) {
	idx := index.NewMemoryIndex()
	b := New(persistence.NewMemoryEngine(), idx, WithLogger(logger.NewNop()))
	require.NoError(t, b.Start(1, config.Backend{}))
	defer b.Stop()

	obj := object.Object{
		Value:   []byte("alice"),
		Indexes: []object.Entry{{Index: "email", Key: []byte("a@x")}, {Index: "age", Key: []byte("30")}},
	}
	value, err := object.Encode(obj)
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("users"), []byte("u1"), object.AddSpecs(obj), value))
	assert.Equal(t, 2, idx.Len())

	var keys []string
	opts := engine.FoldOptions{Bucket: &engine.BucketQualifier{
		Name: []byte("users"), Index: "email", Query: engine.IndexQuery{Eq: []byte("a@x")},
	}}
	require.NoError(t, b.FoldKeys(func(_, key []byte) error {
		keys = append(keys, string(key))
		return nil
	}, opts))
	assert.Equal(t, []string{"u1"}, keys)

	require.NoError(t, b.Delete([]byte("users"), []byte("u1")))
	assert.Equal(t, 0, idx.Len())
	assert.True(t, b.IsEmpty())

	_, err = b.Get([]byte("users"), []byte("u1"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
