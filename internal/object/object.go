// Package object defines the stored value envelope. An object carries the
// user value together with the index entries it was written with, so the
// entries can be recovered from the primary engine when the object is
// deleted.
package object

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neogan74/dualkv/internal/engine"
)

// ErrNoIndexName is returned when an entry has an empty index name.
var ErrNoIndexName = errors.New("index entry has no index name")

// Entry is one secondary index entry of an object.
type Entry struct {
	Index string `json:"index"`
	Key   []byte `json:"key"`
}

// Object is the value stored in the primary engine.
type Object struct {
	Value   []byte  `json:"value"`
	Indexes []Entry `json:"indexes,omitempty"`
}

// Encode serializes obj for storage.
func Encode(obj Object) ([]byte, error) {
	for _, e := range obj.Indexes {
		if e.Index == "" {
			return nil, ErrNoIndexName
		}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	return data, nil
}

// Decode parses a stored object.
func Decode(data []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return Object{}, fmt.Errorf("failed to decode object: %w", err)
	}
	return obj, nil
}

// AddSpecs returns the OpAdd specs that index obj on put.
func AddSpecs(obj Object) []engine.IndexSpec {
	if len(obj.Indexes) == 0 {
		return nil
	}
	specs := make([]engine.IndexSpec, 0, len(obj.Indexes))
	for _, e := range obj.Indexes {
		specs = append(specs, engine.Add(e.Index, e.Key))
	}
	return specs
}

// Decoder recovers the index specs of a stored value.
type Decoder struct{}

// IndexSpecs decodes value and returns one OpRemove spec per index entry.
func (Decoder) IndexSpecs(value []byte) ([]engine.IndexSpec, error) {
	obj, err := Decode(value)
	if err != nil {
		return nil, err
	}
	if len(obj.Indexes) == 0 {
		return nil, nil
	}
	specs := make([]engine.IndexSpec, 0, len(obj.Indexes))
	for _, e := range obj.Indexes {
		specs = append(specs, engine.Remove(e.Index, e.Key))
	}
	return specs, nil
}

// ReplaceSpecs returns the specs that move the index entries of old to
// those of next: a removal for every entry of old that next drops,
// followed by an add for every entry of next.
func ReplaceSpecs(old, next Object) []engine.IndexSpec {
	keep := make(map[string]bool, len(next.Indexes))
	for _, e := range next.Indexes {
		keep[entryKey(e)] = true
	}

	var specs []engine.IndexSpec
	for _, e := range old.Indexes {
		if !keep[entryKey(e)] {
			specs = append(specs, engine.Remove(e.Index, e.Key))
		}
	}
	return append(specs, AddSpecs(next)...)
}

func entryKey(e Entry) string {
	return e.Index + "\x00" + string(e.Key)
}
