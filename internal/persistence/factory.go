package persistence

import (
	"fmt"

	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
)

// NewEngine creates an unstarted primary engine of the given type
func NewEngine(kind string, log logger.Logger) (engine.PrimaryEngine, error) {
	switch kind {
	case "memory":
		log.Info("Using in-memory primary engine")
		return NewMemoryEngine(), nil
	case "badger":
		log.Info("Using BadgerDB primary engine")
		return NewBadgerEngine(log.Named("badger")), nil
	default:
		return nil, fmt.Errorf("unsupported primary engine type: %s", kind)
	}
}
