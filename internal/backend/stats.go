package backend

// StatSink receives observations from the backend.
type StatSink interface {
	// IndexWrites is called with the number of postings written by a put.
	IndexWrites(n int)
	// IndexDeletes is called with the number of postings removed by a delete.
	IndexDeletes(n int)
	// Operation is called once per backend operation with its outcome.
	Operation(op string, err error)
}

// NopStats discards all observations.
type NopStats struct{}

func (NopStats) IndexWrites(int)         {}
func (NopStats) IndexDeletes(int)        {}
func (NopStats) Operation(string, error) {}
