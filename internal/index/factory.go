package index

import (
	"fmt"

	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
)

// NewEngine creates an unstarted index engine of the given type
func NewEngine(kind string, log logger.Logger) (engine.IndexEngine, error) {
	switch kind {
	case "memory":
		log.Info("Using in-memory index engine")
		return NewMemoryIndex(), nil
	case "badger":
		log.Info("Using BadgerDB index engine")
		return NewBadgerIndex(log.Named("badger_index")), nil
	default:
		return nil, fmt.Errorf("unsupported index engine type: %s", kind)
	}
}
