// Package backend presents a primary engine and a secondary-index engine as
// a single storage backend.
//
// The two engines share no transaction. Put and Delete always change the
// index first and the primary engine second, and the second step runs only
// if the first succeeded. An interrupted operation can therefore leave a
// posting that points at a missing or stale record, but never a record
// whose index changes were dropped. Nothing is rolled back.
//
// A Backend serves one partition and is not safe for concurrent use;
// callers must serialize access.
package backend

import (
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
	"github.com/neogan74/dualkv/internal/object"
)

// APIVersion is the version of the storage backend contract.
const APIVersion = 1

// Capability names an optional feature of the backend contract.
type Capability string

// CapabilityIndexes declares support for secondary-index queries.
const CapabilityIndexes Capability = "indexes"

// Decoder recovers the index specs stored with a value.
type Decoder interface {
	IndexSpecs(value []byte) ([]engine.IndexSpec, error)
}

// Backend coordinates a primary engine and an index engine.
type Backend struct {
	primary engine.PrimaryEngine
	index   indexAdapter

	clock   Clock
	stats   StatSink
	decoder Decoder
	log     logger.Logger

	checkValues bool

	partition uint64
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// WithClock sets the posting timestamp source.
func WithClock(c Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithStats sets the observation sink.
func WithStats(s StatSink) Option {
	return func(b *Backend) { b.stats = s }
}

// WithDecoder sets the decoder used to recover index specs on delete.
func WithDecoder(d Decoder) Option {
	return func(b *Backend) { b.decoder = d }
}

// WithValueCheck makes Put decode every value before writing it. A value
// the decoder rejects could never be deleted, so Put refuses it with a
// ValueDecodeError.
func WithValueCheck() Option {
	return func(b *Backend) { b.checkValues = true }
}

// New binds a backend to its engines. The engines are started by Start.
func New(primary engine.PrimaryEngine, index engine.IndexEngine, opts ...Option) *Backend {
	b := &Backend{
		primary: primary,
		index:   indexAdapter{index},
		clock:   SystemClock{},
		stats:   NopStats{},
		decoder: object.Decoder{},
		log:     logger.GetDefault().Named("backend"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// APIVersion returns the contract version and the capabilities supported.
func (b *Backend) APIVersion() (int, []Capability) {
	return APIVersion, []Capability{CapabilityIndexes}
}

// Start starts the primary engine and then the index engine with their
// sections of cfg. If the index engine fails, the primary engine is left
// running.
func (b *Backend) Start(partition uint64, cfg config.Backend) (err error) {
	defer func() { b.stats.Operation("start", err) }()

	b.partition = partition
	b.log = b.log.WithFields(logger.Uint64("partition", partition))

	if err := b.primary.Start(partition, cfg.Engine(config.PrimaryKey)); err != nil {
		b.log.Error("Primary engine failed to start",
			logger.String("engine", b.primary.Name()),
			logger.Error(err))
		return &EngineStartError{Engine: config.PrimaryKey, Name: b.primary.Name(), Err: err}
	}
	if err := b.index.Start(partition, cfg.Engine(config.IndexKey)); err != nil {
		b.log.Error("Index engine failed to start",
			logger.String("engine", b.index.Name()),
			logger.Error(err))
		return &EngineStartError{Engine: config.IndexKey, Name: b.index.Name(), Err: err}
	}

	b.log.Info("Backend started",
		logger.String("primary", b.primary.Name()),
		logger.String("index", b.index.Name()))
	return nil
}

// Stop stops both engines. Failures are logged and not returned.
func (b *Backend) Stop() error {
	if err := b.primary.Stop(); err != nil {
		b.log.Warn("Primary engine stop failed", logger.Error(err))
	}
	if err := b.index.Stop(); err != nil {
		b.log.Warn("Index engine stop failed", logger.Error(err))
	}
	b.stats.Operation("stop", nil)
	b.log.Info("Backend stopped")
	return nil
}
