package snapshot

// Persisted is an immutable handle to a committed snapshot. The directory
// behind it stays readable for as long as the handle's reservations are
// outstanding, even after a newer snapshot supersedes it.
type Persisted interface {
	ID() ID
	Path() string
	Checksum() uint64

	// NewChunkReader yields the snapshot's state files as chunks in
	// ascending byte-lexicographic filename order, excluding the checksum
	// sidecar. The reader returns io.EOF after the last chunk.
	NewChunkReader() (ChunkReader, error)

	// Reserve pins the snapshot directory against deletion. The store defers
	// purging a superseded directory until every reservation is released.
	Reserve() (Reservation, error)
}

// Reservation pins a persisted snapshot's directory. Release is idempotent.
type Reservation interface {
	Release()
}

// ChunkReader iterates over a persisted snapshot's chunks.
type ChunkReader interface {
	// Next returns the next chunk, or io.EOF when the snapshot is exhausted.
	Next() (*Chunk, error)
	Close() error
}

// Transient is a writable snapshot produced locally by a state-machine
// callback. It becomes Persisted on a successful Persist.
type Transient interface {
	ID() ID

	// Take runs writer on the store's task with a scratch directory to fill
	// with state files. If writer returns an error the directory is purged
	// and the error is returned.
	Take(writer func(dir string) error) error

	// Persist computes the aggregate checksum, writes the sidecar, and
	// atomically promotes the snapshot. A committed snapshot with a lower id
	// is purged after the rename.
	Persist() (Persisted, error)

	// Abort discards the snapshot and its scratch directory. Idempotent.
	Abort() error
}

// Received is a writable snapshot populated chunk by chunk from a remote
// sender.
type Received interface {
	ID() ID

	// Apply validates and writes one chunk. It returns false when the chunk
	// is unacceptable (wrong snapshot identity, inconsistent totals, content
	// checksum mismatch); the caller may retry with a corrected stream or
	// abort. I/O failures are returned as errors. Duplicate chunks succeed
	// without rewriting.
	Apply(c *Chunk) (bool, error)

	// Persist verifies completeness and the aggregate checksum, then
	// atomically promotes the snapshot. Fails with ErrCorruptedSnapshot if
	// chunks are missing or the content does not match; returns the already
	// committed handle (and ErrSuperseded when strictly newer) if the store
	// has moved past this snapshot.
	Persist() (Persisted, error)

	// Abort purges the pending directory. Idempotent.
	Abort() error
}

// PersistedListener observes snapshot promotion. OnNewSnapshot runs on the
// store's task: invocations are sequential, in listener-registration order,
// and never overlap a persist, abort, or purge.
type PersistedListener interface {
	OnNewSnapshot(Persisted)
}

// ConstructableStore is the capability view handed to a partition leader.
type ConstructableStore interface {
	// Current returns the committed snapshot, or false if none exists.
	Current() (Persisted, bool)

	// NewTransient returns a writable snapshot for the given position iff it
	// is strictly newer than the current committed snapshot.
	NewTransient(index, term, processedPosition, exportedPosition uint64) (Transient, bool)

	AddListener(l PersistedListener)
	RemoveListener(l PersistedListener)
}

// ReceivableStore is the capability view handed to a follower.
type ReceivableStore interface {
	Current() (Persisted, bool)

	// NewReceived returns a writable snapshot for the given textual id. No
	// directory is created until the first chunk is applied. Fails with
	// ErrInvalidID on an unparsable id.
	NewReceived(id string) (Received, error)

	// PurgePending removes every pending directory whose id differs from the
	// current committed snapshot's. It never touches committed snapshots.
	PurgePending() error

	AddListener(l PersistedListener)
	RemoveListener(l PersistedListener)
}
