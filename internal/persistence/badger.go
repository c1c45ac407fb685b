package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/keys"
	"github.com/neogan74/dualkv/internal/logger"
)

const objPrefix = "obj:"

// GCMessage is the callback message that triggers value log garbage collection.
const GCMessage = "value_log_gc"

// BadgerEngine implements engine.PrimaryEngine using BadgerDB. Each
// partition lives in its own directory under data_dir.
type BadgerEngine struct {
	db        *badger.DB
	dir       string
	partition uint64
	log       logger.Logger
}

// NewBadgerEngine creates an unstarted BadgerDB primary engine
func NewBadgerEngine(log logger.Logger) *BadgerEngine {
	if log == nil {
		log = logger.GetDefault()
	}
	return &BadgerEngine{log: log}
}

func (b *BadgerEngine) Name() string { return "badger" }

// Start opens the partition's database.
func (b *BadgerEngine) Start(partition uint64, cfg config.EngineConfig) error {
	db, dir, err := OpenBadger(partition, cfg, b.log)
	if err != nil {
		return err
	}
	b.db = db
	b.dir = dir
	b.partition = partition
	return nil
}

// OpenBadger opens the BadgerDB directory for a partition using the
// data_dir and sync_writes keys of cfg.
func OpenBadger(partition uint64, cfg config.EngineConfig, log logger.Logger) (*badger.DB, string, error) {
	root := cfg.String("data_dir", "")
	if root == "" {
		return nil, "", errors.New("data_dir is not configured")
	}
	dir := filepath.Join(root, strconv.FormatUint(partition, 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create data directory: %w", err)
	}

	syncWrites := cfg.Bool("sync_writes", true)

	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = syncWrites
	opts.Logger = badgerLogger{log: log}

	opts.ValueLogFileSize = 64 << 20
	opts.MemTableSize = 64 << 20
	opts.NumMemtables = 5
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 10
	opts.Compression = options.Snappy

	db, err := badger.Open(opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	log.Info("BadgerDB opened",
		logger.String("data_dir", dir),
		logger.Uint64("partition", partition),
		logger.Bool("sync_writes", syncWrites))
	return db, dir, nil
}

func (b *BadgerEngine) Stop() error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BadgerEngine) Get(bucket, key []byte) ([]byte, error) {
	if b.db == nil {
		return nil, engine.ErrNotStarted
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keys.Encode(objPrefix, bucket, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, engine.ErrNotFound
	}
	return value, err
}

func (b *BadgerEngine) Put(bucket, key, value []byte) error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keys.Encode(objPrefix, bucket, key), value)
	})
}

func (b *BadgerEngine) Delete(bucket, key []byte) error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keys.Encode(objPrefix, bucket, key))
	})
}

// FoldBuckets visits each bucket once, seeking past the rest of a bucket's
// keys after reporting it.
func (b *BadgerEngine) FoldBuckets(fn engine.BucketFunc, _ engine.FoldOptions) error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(objPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); {
			parts, err := keys.Decode(objPrefix, it.Item().KeyCopy(nil), 2)
			if err != nil {
				return err
			}
			if err := fn(parts[0]); err != nil {
				return err
			}
			it.Seek(keys.PrefixEnd(keys.Encode(objPrefix, parts[0])))
		}
		return nil
	})
	return engine.IgnoreStop(err)
}

func (b *BadgerEngine) FoldKeys(fn engine.KeyFunc, opts engine.FoldOptions) error {
	return b.fold(opts, false, func(bucket, key, _ []byte) error {
		return fn(bucket, key)
	})
}

func (b *BadgerEngine) FoldObjects(fn engine.ObjectFunc, opts engine.FoldOptions) error {
	return b.fold(opts, true, fn)
}

func (b *BadgerEngine) fold(opts engine.FoldOptions, values bool, fn engine.ObjectFunc) error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	prefix := []byte(objPrefix)
	if bucket := opts.BucketName(); bucket != nil {
		prefix = keys.Encode(objPrefix, bucket)
	}

	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = values
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			parts, err := keys.Decode(objPrefix, item.KeyCopy(nil), 2)
			if err != nil {
				return err
			}
			var value []byte
			if values {
				if value, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			if err := fn(parts[0], parts[1], value); err != nil {
				return err
			}
		}
		return nil
	})
	return engine.IgnoreStop(err)
}

// Drop removes every record in the partition.
func (b *BadgerEngine) Drop() error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop partition %d: %w", b.partition, err)
	}
	return nil
}

func (b *BadgerEngine) IsEmpty() bool {
	if b.db == nil {
		return true
	}
	empty, err := b.scanEmpty()
	if err != nil {
		// An unreadable partition is reported as holding data.
		b.log.Error("Failed to check whether partition is empty",
			logger.Uint64("partition", b.partition),
			logger.Error(err))
		return false
	}
	return empty
}

func (b *BadgerEngine) scanEmpty() (bool, error) {
	empty := true
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(objPrefix)
		it.Seek(prefix)
		empty = !it.ValidForPrefix(prefix)
		return nil
	})
	return empty, err
}

func (b *BadgerEngine) Status() any {
	status := map[string]any{
		"partition": b.partition,
		"data_dir":  b.dir,
		"started":   b.db != nil,
	}
	if b.db != nil {
		lsm, vlog := b.db.Size()
		status["lsm_size"] = lsm
		status["vlog_size"] = vlog
	}
	return status
}

// Callback handles GCMessage; other messages are ignored.
func (b *BadgerEngine) Callback(ref string, msg any) error {
	if msg != GCMessage || b.db == nil {
		return nil
	}
	err := b.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		b.log.Warn("BadgerDB garbage collection failed",
			logger.String("ref", ref),
			logger.Error(err))
	}
	return nil
}

// badgerLogger forwards BadgerDB warnings and errors to our logger.
type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(string, ...interface{}) {}

func (l badgerLogger) Debugf(string, ...interface{}) {}
