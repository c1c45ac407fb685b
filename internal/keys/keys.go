// Package keys provides the order-preserving byte encoding used to lay out
// composite keys in the badger-backed engines.
//
// Each component is written with 0x00 escaped as 0x00 0xff and terminated by
// 0x00 0x01, so the concatenation of encoded components sorts the same way
// the tuple of raw components does.
package keys

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff
)

// ErrMalformed is returned when a buffer is not a valid encoding.
var ErrMalformed = errors.New("malformed key")

// EncodeBytes appends the encoding of data to b.
func EncodeBytes(b, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, escape)
		if i == -1 {
			break
		}
		b = append(b, data[:i]...)
		b = append(b, escape, escaped00)
		data = data[i+1:]
	}
	b = append(b, data...)
	return append(b, escape, escapedTerm)
}

// EncodeString is EncodeBytes for strings.
func EncodeString(b []byte, s string) []byte {
	return EncodeBytes(b, []byte(s))
}

// DecodeBytes decodes one component from the front of b, returning the
// remainder of b and the decoded bytes.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	var r []byte
	for {
		i := bytes.IndexByte(b, escape)
		if i == -1 {
			return nil, nil, fmt.Errorf("%w: no terminator in %#x", ErrMalformed, b)
		}
		if i+1 >= len(b) {
			return nil, nil, fmt.Errorf("%w: truncated escape in %#x", ErrMalformed, b)
		}
		switch b[i+1] {
		case escapedTerm:
			r = append(r, b[:i]...)
			if r == nil {
				r = []byte{}
			}
			return b[i+2:], r, nil
		case escaped00:
			r = append(r, b[:i]...)
			r = append(r, 0x00)
			b = b[i+2:]
		default:
			return nil, nil, fmt.Errorf("%w: unknown escape %#x", ErrMalformed, b[i+1])
		}
	}
}

// Encode joins components into a single ordered key after prefix.
func Encode(prefix string, parts ...[]byte) []byte {
	b := make([]byte, 0, len(prefix)+16*len(parts))
	b = append(b, prefix...)
	for _, p := range parts {
		b = EncodeBytes(b, p)
	}
	return b
}

// Decode splits a key produced by Encode into n components.
func Decode(prefix string, key []byte, n int) ([][]byte, error) {
	if !bytes.HasPrefix(key, []byte(prefix)) {
		return nil, fmt.Errorf("%w: missing prefix %q", ErrMalformed, prefix)
	}
	rest := key[len(prefix):]
	parts := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		var part []byte
		var err error
		rest, part, err = DecodeBytes(rest)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	return parts, nil
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if there is none.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
