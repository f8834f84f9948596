// Package snapshot defines the core abstractions of the snapshot engine.
// A snapshot is a consistent point-in-time copy of a partition's state,
// stored as a set of opaque files. Snapshots are identified by a textual
// id carrying the log position they cover, transferred between nodes as a
// sequence of checksummed chunks, and committed to disk atomically.
package snapshot

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidID = errors.New("invalid snapshot id")

// ID identifies a snapshot. The textual form is
// "index-term-processedPosition-exportedPosition"; ids are totally ordered
// lexicographically on the four fields.
type ID struct {
	Index             uint64
	Term              uint64
	ProcessedPosition uint64
	ExportedPosition  uint64
}

// ParseID parses the canonical textual form. Names with anything other
// than four dash-separated unsigned decimal fields are rejected.
func ParseID(name string) (ID, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return ID{}, fmt.Errorf("%w: %q: expected 4 fields, got %d", ErrInvalidID, name, len(parts))
	}
	var fields [4]uint64
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q: field %d: %v", ErrInvalidID, name, i+1, err)
		}
		fields[i] = v
	}
	return ID{
		Index:             fields[0],
		Term:              fields[1],
		ProcessedPosition: fields[2],
		ExportedPosition:  fields[3],
	}, nil
}

// String formats the canonical textual form.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", id.Index, id.Term, id.ProcessedPosition, id.ExportedPosition)
}

// Compare orders ids field-wise: negative if id < other, zero if equal,
// positive if id > other.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Index, other.Index); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Term, other.Term); c != 0 {
		return c
	}
	if c := cmp.Compare(id.ProcessedPosition, other.ProcessedPosition); c != 0 {
		return c
	}
	return cmp.Compare(id.ExportedPosition, other.ExportedPosition)
}

// NewerThan reports whether id is strictly greater than other.
func (id ID) NewerThan(other ID) bool {
	return id.Compare(other) > 0
}
