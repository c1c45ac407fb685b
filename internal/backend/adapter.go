package backend

import (
	"fmt"

	"github.com/neogan74/dualkv/internal/engine"
)

// indexAdapter normalizes index engine calls into plain error results.
// Index engines are allowed to panic on internal failure.
type indexAdapter struct {
	engine.IndexEngine
}

func (a indexAdapter) index(postings []engine.Posting) (err error) {
	defer recoverInto(&err, a.Name(), "index")
	return a.Index(postings)
}

func (a indexAdapter) delete(postings []engine.Posting) (err error) {
	defer recoverInto(&err, a.Name(), "delete")
	return a.Delete(postings)
}

func recoverInto(err *error, name, op string) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = fmt.Errorf("index engine %q panicked during %s: %w", name, op, e)
			return
		}
		*err = fmt.Errorf("index engine %q panicked during %s: %v", name, op, r)
	}
}

// mustCallback asserts that a sub-engine callback succeeded.
func mustCallback(which, name string, err error) {
	if err != nil {
		panic(fmt.Sprintf("%s engine %q callback failed: %v", which, name, err))
	}
}
