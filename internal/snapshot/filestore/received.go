package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"flowmill/internal/snapshot"
)

type receivedState int

const (
	receivedEmpty receivedState = iota
	receivedWriting
	receivedPersisted
	receivedAborted
)

// received is an uncommitted snapshot populated chunk by chunk from a
// remote sender. The first accepted chunk fixes the expectations every
// later chunk is validated against.
type received struct {
	store *Store
	id    snapshot.ID

	// Confined to the store's executor.
	state            receivedState
	dir              string
	expectedTotal    uint32
	expectedChecksum uint64
	result           *persisted
}

func (r *received) ID() snapshot.ID { return r.id }

// Apply validates and writes one chunk on the store's task. A false return
// means the chunk is unacceptable and was not written; the pending
// directory is left as is so the caller can retry with a corrected stream
// or abort. Duplicate chunks succeed without rewriting.
func (r *received) Apply(c *snapshot.Chunk) (bool, error) {
	var accepted bool
	err := r.store.exec.Do(func() error {
		switch r.state {
		case receivedPersisted, receivedAborted:
			return snapshot.ErrSnapshotClosed
		}

		if c.SnapshotID != r.id.String() {
			r.store.logger.Warn("rejected chunk for foreign snapshot",
				"expected", r.id.String(), "got", c.SnapshotID)
			return nil
		}
		if !validChunkName(c.ChunkName) {
			r.store.logger.Warn("rejected chunk with unsafe name",
				"snapshot", r.id.String(), "chunk", c.ChunkName)
			return nil
		}

		if !c.Verify() {
			r.store.logger.Warn("rejected chunk failing content checksum",
				"snapshot", r.id.String(), "chunk", c.ChunkName)
			return nil
		}

		if r.state == receivedEmpty {
			dir, err := r.store.layout.allocatePending(r.id)
			if err != nil {
				return err
			}
			r.dir = dir
			r.expectedTotal = c.TotalCount
			r.expectedChecksum = c.SnapshotChecksum
			r.state = receivedWriting
		} else if c.TotalCount != r.expectedTotal || c.SnapshotChecksum != r.expectedChecksum {
			r.store.logger.Warn("rejected chunk disagreeing with first chunk",
				"snapshot", r.id.String(), "chunk", c.ChunkName,
				"totalCount", c.TotalCount, "expectedTotal", r.expectedTotal,
				"snapshotChecksum", c.SnapshotChecksum, "expectedChecksum", r.expectedChecksum)
			return nil
		}

		if err := r.writeChunk(c); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	return accepted, err
}

// writeChunk writes the chunk's content with CREATE_NEW semantics and syncs
// it. An already existing file is a duplicate chunk and succeeds untouched.
func (r *received) writeChunk(c *snapshot.Chunk) error {
	path := filepath.Join(r.dir, c.ChunkName)
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(c.Content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// validChunkName rejects names that would escape the pending directory.
func validChunkName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

// Persist verifies completeness and the aggregate checksum, writes the
// sidecar, and promotes the snapshot atomically. The pending directory is
// left intact on corruption so operators can inspect it; a later Abort
// clears it.
func (r *received) Persist() (snapshot.Persisted, error) {
	var result snapshot.Persisted
	err := r.store.exec.Do(func() error {
		switch r.state {
		case receivedAborted:
			return snapshot.ErrSnapshotClosed
		case receivedPersisted:
			result = r.result
			return nil
		case receivedEmpty:
			return fmt.Errorf("%w: snapshot %s is partial: no chunks received", snapshot.ErrCorruptedSnapshot, r.id)
		}

		names, err := snapshot.StateFileNames(r.dir, r.id)
		if err != nil {
			return err
		}
		if uint32(len(names)) != r.expectedTotal { //nolint:gosec // G115: file count bounded by expectedTotal
			return fmt.Errorf("%w: snapshot %s is partial: have %d chunks, expected %d",
				snapshot.ErrCorruptedSnapshot, r.id, len(names), r.expectedTotal)
		}

		actual, err := snapshot.CombinedChecksum(r.dir, snapshot.ChecksumFileName(r.id))
		if err != nil {
			return err
		}
		if actual != r.expectedChecksum {
			return fmt.Errorf("%w: snapshot %s is corrupted: expected checksum %d, actual %d",
				snapshot.ErrCorruptedSnapshot, r.id, r.expectedChecksum, actual)
		}

		sidecar := filepath.Join(r.dir, snapshot.ChecksumFileName(r.id))
		if err := snapshot.WriteChecksumFile(sidecar, actual); err != nil {
			return err
		}

		p, err := r.store.commitPending(r.dir, r.id, actual)
		if errors.Is(err, snapshot.ErrSuperseded) {
			// The pending copy is gone; surface the newer committed handle
			// alongside the sentinel.
			r.state = receivedPersisted
			r.result = p
			result = p
			return err
		}
		if err != nil {
			return err
		}
		r.state = receivedPersisted
		r.result = p
		result = p
		return nil
	})
	return result, err
}

// Abort purges the pending directory unconditionally. Idempotent.
func (r *received) Abort() error {
	return r.store.exec.Do(func() error {
		switch r.state {
		case receivedPersisted:
			return snapshot.ErrSnapshotClosed
		case receivedAborted:
			return nil
		}
		if r.dir != "" {
			r.store.layout.purge(r.dir)
		}
		r.state = receivedAborted
		return nil
	})
}

var _ snapshot.Received = (*received)(nil)
