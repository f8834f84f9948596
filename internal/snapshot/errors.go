package snapshot

import "errors"

var (
	// ErrCorruptedSnapshot is returned by persist when a snapshot's files do
	// not match its declared integrity metadata: a missing chunk, a file set
	// whose aggregate checksum disagrees, or a malformed sidecar.
	ErrCorruptedSnapshot = errors.New("corrupted snapshot")

	// ErrSuperseded is returned when a persist lost to a strictly newer
	// committed snapshot. The newer handle accompanies the error; the losing
	// pending copy has been purged.
	ErrSuperseded = errors.New("snapshot superseded by newer committed snapshot")

	// ErrSnapshotClosed is returned when a transient or received snapshot is
	// used after persist or abort completed it.
	ErrSnapshotClosed = errors.New("snapshot already persisted or aborted")
)
