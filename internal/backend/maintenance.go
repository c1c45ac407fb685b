package backend

import (
	"github.com/neogan74/dualkv/internal/logger"
)

// Drop drops both engines, attempting the index engine even when the
// primary engine fails. It returns a *DropError naming the failed engines.
func (b *Backend) Drop() (err error) {
	defer func() { b.stats.Operation("drop", err) }()

	primaryErr := b.primary.Drop()
	indexErr := b.index.Drop()
	if primaryErr == nil && indexErr == nil {
		return nil
	}

	b.log.Error("Backend drop incomplete",
		logger.Bool("primary_failed", primaryErr != nil),
		logger.Bool("index_failed", indexErr != nil))
	return &DropError{Primary: primaryErr, Index: indexErr}
}

// IsEmpty reports whether the primary engine holds no records. Postings
// left in the index engine are not considered.
func (b *Backend) IsEmpty() bool {
	return b.primary.IsEmpty()
}

// Status returns each engine's status keyed by engine name.
func (b *Backend) Status() map[string]any {
	return map[string]any{
		b.primary.Name(): b.primary.Status(),
		b.index.Name():   b.index.Status(),
	}
}

// Callback delivers msg to both engines. Either engine failing is a
// broken invariant and panics.
func (b *Backend) Callback(ref string, msg any) {
	mustCallback("primary", b.primary.Name(), b.primary.Callback(ref, msg))
	mustCallback("index", b.index.Name(), b.index.Callback(ref, msg))
}
