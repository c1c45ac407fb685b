package index

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/keys"
	"github.com/neogan74/dualkv/internal/logger"
	"github.com/neogan74/dualkv/internal/persistence"
)

const postingPrefix = "idx:"

// BadgerIndex persists postings in BadgerDB. Keys are the ordered
// encoding of (bucket, index, secondary key, primary key); values hold the
// posting timestamp and payload.
type BadgerIndex struct {
	db        *badger.DB
	dir       string
	partition uint64
	log       logger.Logger
}

// NewBadgerIndex creates an unstarted BadgerDB index engine
func NewBadgerIndex(log logger.Logger) *BadgerIndex {
	if log == nil {
		log = logger.GetDefault()
	}
	return &BadgerIndex{log: log}
}

func (b *BadgerIndex) Name() string { return "badger_index" }

func (b *BadgerIndex) Start(partition uint64, cfg config.EngineConfig) error {
	db, dir, err := persistence.OpenBadger(partition, cfg, b.log)
	if err != nil {
		return err
	}
	b.db = db
	b.dir = dir
	b.partition = partition
	return nil
}

func (b *BadgerIndex) Stop() error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func postingKey(p engine.Posting) []byte {
	return keys.Encode(postingPrefix, p.Bucket, []byte(p.Index), p.SecondaryKey, p.PrimaryKey)
}

// Index applies the batch in a single transaction.
func (b *BadgerIndex) Index(postings []engine.Posting) error {
	return b.update(postings, false)
}

func (b *BadgerIndex) Delete(postings []engine.Posting) error {
	return b.update(postings, true)
}

func (b *BadgerIndex) update(postings []engine.Posting, remove bool) error {
	if err := validate(postings); err != nil {
		return err
	}
	if b.db == nil {
		return engine.ErrNotStarted
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, p := range postings {
			key := postingKey(p)
			newer, err := hasNewer(txn, key, p)
			if err != nil {
				return err
			}
			if newer {
				continue
			}
			if remove || p.IsRemoval() {
				err = txn.Delete(key)
			} else {
				err = txn.Set(key, encodeValue(p.Timestamp, p.Payload))
			}
			if err != nil {
				return fmt.Errorf("failed to write posting %q/%q: %w", p.Index, p.SecondaryKey, err)
			}
		}
		return nil
	})
}

// hasNewer reports whether the stored posting for key is newer than p.
func hasNewer(txn *badger.Txn, key []byte, p engine.Posting) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	ts, _, err := decodeValue(raw)
	if err != nil {
		return false, err
	}
	return ts.After(p.Timestamp), nil
}

func (b *BadgerIndex) FoldIndex(fn engine.KeyFunc, opts engine.FoldOptions) error {
	bucket, q, err := resolve(opts)
	if err != nil {
		return err
	}
	if b.db == nil {
		return engine.ErrNotStarted
	}

	prefix := keys.Encode(postingPrefix, bucket, []byte(q.Index))
	start := keys.EncodeBytes(append([]byte(nil), prefix...), lowerBound(q))

	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			parts, err := keys.Decode(postingPrefix, it.Item().KeyCopy(nil), 4)
			if err != nil {
				return err
			}
			if !q.Match(parts[2]) {
				return nil
			}
			if err := fn(parts[0], parts[3]); err != nil {
				return err
			}
		}
		return nil
	})
	return engine.IgnoreStop(err)
}

func (b *BadgerIndex) Drop() error {
	if b.db == nil {
		return engine.ErrNotStarted
	}
	if err := b.db.DropPrefix([]byte(postingPrefix)); err != nil {
		return fmt.Errorf("failed to drop postings for partition %d: %w", b.partition, err)
	}
	return nil
}

func (b *BadgerIndex) Status() any {
	status := map[string]any{
		"partition": b.partition,
		"data_dir":  b.dir,
		"started":   b.db != nil,
	}
	if b.db != nil {
		lsm, vlog := b.db.Size()
		status["lsm_size"] = lsm
		status["vlog_size"] = vlog
		if n, err := b.count(); err == nil {
			status["postings"] = n
		}
	}
	return status
}

// Callback runs value log GC on persistence.GCMessage.
func (b *BadgerIndex) Callback(ref string, msg any) error {
	if msg != persistence.GCMessage || b.db == nil {
		return nil
	}
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		b.log.Warn("BadgerDB index garbage collection failed",
			logger.String("ref", ref),
			logger.Error(err))
	}
	return nil
}

// count returns the number of stored postings.
func (b *BadgerIndex) count() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(postingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
