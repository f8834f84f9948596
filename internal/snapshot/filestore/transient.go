package filestore

import (
	"errors"
	"fmt"
	"path/filepath"

	"flowmill/internal/snapshot"
)

type transientState int

const (
	transientEmpty transientState = iota
	transientTaken
	transientPersisted
	transientAborted
)

// transient is a locally produced, uncommitted snapshot. A state-machine
// callback fills its scratch directory via Take; Persist seals and promotes
// it.
type transient struct {
	store *Store
	id    snapshot.ID

	// Confined to the store's executor.
	state    transientState
	dir      string
	declared uint64
}

func (t *transient) ID() snapshot.ID { return t.id }

// Take allocates the scratch directory and runs writer on the store's task.
// If the writer fails, the directory is purged and the snapshot returns to
// its initial state.
func (t *transient) Take(writer func(dir string) error) error {
	return t.store.exec.Do(func() error {
		switch t.state {
		case transientPersisted, transientAborted:
			return snapshot.ErrSnapshotClosed
		case transientTaken:
			return fmt.Errorf("snapshot %s was already taken", t.id)
		}

		dir, err := t.store.layout.allocatePending(t.id)
		if err != nil {
			return err
		}
		if err := writer(dir); err != nil {
			t.store.layout.purge(dir)
			return fmt.Errorf("snapshot writer for %s: %w", t.id, err)
		}

		checksum, err := snapshot.CombinedChecksum(dir)
		if err != nil {
			t.store.layout.purge(dir)
			return err
		}
		t.dir = dir
		t.declared = checksum
		t.state = transientTaken
		return nil
	})
}

// Persist recomputes the aggregate checksum, writes the sidecar, and
// promotes the snapshot atomically. A mismatch between the recomputed and
// declared checksums means the directory changed after Take and fails with
// ErrCorruptedSnapshot.
func (t *transient) Persist() (snapshot.Persisted, error) {
	var result snapshot.Persisted
	err := t.store.exec.Do(func() error {
		switch t.state {
		case transientAborted:
			return snapshot.ErrSnapshotClosed
		case transientEmpty:
			return fmt.Errorf("%w: snapshot %s was never taken", snapshot.ErrCorruptedSnapshot, t.id)
		case transientPersisted:
			result = t.store.current.Load()
			return nil
		}

		if err := syncFiles(t.dir); err != nil {
			return err
		}
		actual, err := snapshot.CombinedChecksum(t.dir)
		if err != nil {
			return err
		}
		if actual != t.declared {
			return fmt.Errorf("%w: snapshot %s changed after take: declared checksum %d, actual %d",
				snapshot.ErrCorruptedSnapshot, t.id, t.declared, actual)
		}

		sidecar := filepath.Join(t.dir, snapshot.ChecksumFileName(t.id))
		if err := snapshot.WriteChecksumFile(sidecar, actual); err != nil {
			return err
		}
		p, err := t.store.commitPending(t.dir, t.id, actual)
		if errors.Is(err, snapshot.ErrSuperseded) {
			t.state = transientPersisted
			result = p
			return err
		}
		if err != nil {
			return err
		}
		t.state = transientPersisted
		result = p
		return nil
	})
	return result, err
}

// Abort discards the snapshot and its scratch directory. Idempotent.
func (t *transient) Abort() error {
	return t.store.exec.Do(func() error {
		switch t.state {
		case transientPersisted:
			return snapshot.ErrSnapshotClosed
		case transientAborted:
			return nil
		}
		if t.dir != "" {
			t.store.layout.purge(t.dir)
		}
		t.state = transientAborted
		return nil
	})
}

var _ snapshot.Transient = (*transient)(nil)
