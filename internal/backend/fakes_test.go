package backend

import (
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
)

// callLog records sub-engine calls across both fakes in order.
type callLog struct {
	calls []string
}

func (l *callLog) add(call string) { l.calls = append(l.calls, call) }

type fakePrimary struct {
	log  *callLog
	name string

	records map[string][]byte

	startErr, stopErr, getErr, putErr, deleteErr, dropErr, callbackErr error

	startCfg config.EngineConfig
	foldOpts []engine.FoldOptions
}

func newFakePrimary(log *callLog) *fakePrimary {
	return &fakePrimary{log: log, name: "fake_primary", records: map[string][]byte{}}
}

func rk(bucket, key []byte) string { return string(bucket) + "/" + string(key) }

func (f *fakePrimary) Name() string { return f.name }

func (f *fakePrimary) Start(_ uint64, cfg config.EngineConfig) error {
	f.log.add("primary.start")
	f.startCfg = cfg
	return f.startErr
}

func (f *fakePrimary) Stop() error {
	f.log.add("primary.stop")
	return f.stopErr
}

func (f *fakePrimary) Get(bucket, key []byte) ([]byte, error) {
	f.log.add("primary.get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.records[rk(bucket, key)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return v, nil
}

func (f *fakePrimary) Put(bucket, key, value []byte) error {
	f.log.add("primary.put")
	if f.putErr != nil {
		return f.putErr
	}
	f.records[rk(bucket, key)] = value
	return nil
}

func (f *fakePrimary) Delete(bucket, key []byte) error {
	f.log.add("primary.delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.records, rk(bucket, key))
	return nil
}

func (f *fakePrimary) FoldBuckets(engine.BucketFunc, engine.FoldOptions) error {
	f.log.add("primary.fold_buckets")
	return nil
}

func (f *fakePrimary) FoldKeys(_ engine.KeyFunc, opts engine.FoldOptions) error {
	f.log.add("primary.fold_keys")
	f.foldOpts = append(f.foldOpts, opts)
	return nil
}

func (f *fakePrimary) FoldObjects(engine.ObjectFunc, engine.FoldOptions) error {
	f.log.add("primary.fold_objects")
	return nil
}

func (f *fakePrimary) Drop() error {
	f.log.add("primary.drop")
	return f.dropErr
}

func (f *fakePrimary) IsEmpty() bool { return len(f.records) == 0 }

func (f *fakePrimary) Status() any { return map[string]any{"records": len(f.records)} }

func (f *fakePrimary) Callback(string, any) error {
	f.log.add("primary.callback")
	return f.callbackErr
}

type fakeIndex struct {
	log  *callLog
	name string

	startErr, stopErr, indexErr, deleteErr, dropErr, callbackErr error
	indexPanic                                                    any

	indexed  [][]engine.Posting
	deleted  [][]engine.Posting
	startCfg config.EngineConfig
	foldOpts []engine.FoldOptions
}

func newFakeIndex(log *callLog) *fakeIndex {
	return &fakeIndex{log: log, name: "fake_index"}
}

func (f *fakeIndex) Name() string { return f.name }

func (f *fakeIndex) Start(_ uint64, cfg config.EngineConfig) error {
	f.log.add("index.start")
	f.startCfg = cfg
	return f.startErr
}

func (f *fakeIndex) Stop() error {
	f.log.add("index.stop")
	return f.stopErr
}

func (f *fakeIndex) Index(postings []engine.Posting) error {
	f.log.add("index.index")
	if f.indexPanic != nil {
		panic(f.indexPanic)
	}
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, postings)
	return nil
}

func (f *fakeIndex) Delete(postings []engine.Posting) error {
	f.log.add("index.delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, postings)
	return nil
}

func (f *fakeIndex) FoldIndex(_ engine.KeyFunc, opts engine.FoldOptions) error {
	f.log.add("index.fold_index")
	f.foldOpts = append(f.foldOpts, opts)
	return nil
}

func (f *fakeIndex) Drop() error {
	f.log.add("index.drop")
	return f.dropErr
}

func (f *fakeIndex) Status() any { return "index ok" }

func (f *fakeIndex) Callback(string, any) error {
	f.log.add("index.callback")
	return f.callbackErr
}

type recordingStats struct {
	writes, deletes int
	ops             []string
	errs            []error
}

func (s *recordingStats) IndexWrites(n int)  { s.writes += n }
func (s *recordingStats) IndexDeletes(n int) { s.deletes += n }
func (s *recordingStats) Operation(op string, err error) {
	s.ops = append(s.ops, op)
	s.errs = append(s.errs, err)
}
