// Package stamp computes and caches content stamps for sources, products and
// libraries. Stamps are the engine's only notion of "has this file changed".
package stamp

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrUnavailable reports that the underlying file could not be read. The
// engine treats an unavailable stamp as "changed" for inputs and "removed"
// for outputs; it is never fatal.
var ErrUnavailable = errors.New("stamp unavailable")

// Kind tags a stamp value.
type Kind uint8

const (
	// KindEmpty marks a file with no observable stamp (missing output).
	KindEmpty Kind = iota
	// KindLastModified carries a modification time in nanoseconds.
	KindLastModified
	// KindHash carries a 64-bit content digest.
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLastModified:
		return "lastModified"
	case KindHash:
		return "hash"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Stamp is a tagged value identifying one observed file state. Two stamps are
// equivalent iff kind and payload match exactly; a hash stamp never matches a
// timestamp stamp.
type Stamp struct {
	Kind  Kind
	Value uint64 // digest for KindHash, nanoseconds for KindLastModified
}

// Empty is the stamp of a file that does not exist.
var Empty = Stamp{Kind: KindEmpty}

// Hash builds a content-digest stamp over raw bytes.
func Hash(content []byte) Stamp {
	return Stamp{Kind: KindHash, Value: xxhash.Sum64(content)}
}

// LastModified builds a timestamp stamp from nanoseconds since epoch.
func LastModified(nanos int64) Stamp {
	return Stamp{Kind: KindLastModified, Value: uint64(nanos)}
}

// Equiv reports stamp equivalence: same tag, same payload.
func Equiv(a, b Stamp) bool {
	return a.Kind == b.Kind && a.Value == b.Value
}

// IsEmpty reports whether the stamp marks a missing file.
func (s Stamp) IsEmpty() bool { return s.Kind == KindEmpty }

func (s Stamp) String() string {
	switch s.Kind {
	case KindEmpty:
		return "empty"
	case KindLastModified:
		return fmt.Sprintf("lastModified(%d)", s.Value)
	default:
		return fmt.Sprintf("hash(%016x)", s.Value)
	}
}
