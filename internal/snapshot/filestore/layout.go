// Package filestore implements the file-based snapshot store.
//
// Layout under a partition root:
//
//	snapshots/
//	  <id>/                  committed snapshot (at most one at steady state)
//	    <state files...>
//	    <id>.checksum        aggregate CRC32C, 8 bytes big-endian
//	pending/
//	  <id>-<seq>/            uncommitted snapshot being written or received
//
// Nothing is ever written into snapshots/ directly: a snapshot directory is
// filled under pending/ and moved into place with a single atomic rename
// followed by an fsync of snapshots/. A crash at any point therefore leaves
// either the old committed snapshot or the new one, never a torn mix.
package filestore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"flowmill/internal/logging"
	"flowmill/internal/snapshot"
)

const (
	snapshotsDirName = "snapshots"
	pendingDirName   = "pending"

	dirMode = os.FileMode(0o750)
)

var errPendingExhausted = errors.New("no free pending directory sequence")

// layout owns the two directories of a partition root and the rename and
// fsync choreography between them.
type layout struct {
	root      string
	snapshots string
	pending   string
	logger    *slog.Logger
}

// newLayout creates snapshots/ and pending/ under root if absent.
func newLayout(root string, logger *slog.Logger) (*layout, error) {
	l := &layout{
		root:      root,
		snapshots: filepath.Join(root, snapshotsDirName),
		pending:   filepath.Join(root, pendingDirName),
		logger:    logging.Default(logger),
	}
	for _, dir := range []string{l.snapshots, l.pending} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

// snapshotPath returns the committed directory path for a snapshot id.
func (l *layout) snapshotPath(id snapshot.ID) string {
	return filepath.Join(l.snapshots, id.String())
}

func (l *layout) snapshotEntry(name string) string {
	return filepath.Join(l.snapshots, name)
}

func (l *layout) pendingPath(name string) string {
	return filepath.Join(l.pending, name)
}

// allocatePending claims pending/<id>-<n> for the smallest positive n whose
// directory does not yet exist, creating it.
func (l *layout) allocatePending(id snapshot.ID) (string, error) {
	for seq := 1; seq < 1<<20; seq++ {
		path := filepath.Join(l.pending, fmt.Sprintf("%s-%d", id, seq))
		err := os.Mkdir(path, dirMode)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("allocate pending directory: %w", err)
		}
	}
	return "", errPendingExhausted
}

// parsePendingName splits a pending directory name "<id>-<seq>" into its
// snapshot id and sequence number.
func parsePendingName(name string) (snapshot.ID, int, error) {
	cut := strings.LastIndexByte(name, '-')
	if cut < 0 {
		return snapshot.ID{}, 0, fmt.Errorf("%w: pending name %q", snapshot.ErrInvalidID, name)
	}
	seq, err := strconv.Atoi(name[cut+1:])
	if err != nil || seq < 1 {
		return snapshot.ID{}, 0, fmt.Errorf("%w: pending name %q: bad sequence", snapshot.ErrInvalidID, name)
	}
	id, err := snapshot.ParseID(name[:cut])
	if err != nil {
		return snapshot.ID{}, 0, err
	}
	return id, seq, nil
}

// commit fsyncs the pending directory, renames it to snapshots/<finalName>,
// and fsyncs snapshots/ so the rename itself is durable. If the pending
// sync or the rename fails, the pending directory is left intact for
// inspection or retry. If the final sync of snapshots/ fails, the error is
// returned after the rename has already moved the directory into snapshots/.
func (l *layout) commit(pendingPath, finalName string) (string, error) {
	if err := syncDir(pendingPath); err != nil {
		return "", fmt.Errorf("sync pending directory: %w", err)
	}
	target := filepath.Join(l.snapshots, finalName)
	if err := os.Rename(pendingPath, target); err != nil {
		return "", fmt.Errorf("promote snapshot: %w", err)
	}
	if err := syncDir(l.snapshots); err != nil {
		return "", fmt.Errorf("sync snapshots directory: %w", err)
	}
	return target, nil
}

// purge removes path recursively. Best-effort: failures are logged, not
// returned.
func (l *layout) purge(path string) {
	if err := os.RemoveAll(path); err != nil {
		l.logger.Warn("failed to purge directory", "path", path, "error", err)
	}
}

// syncFiles fsyncs every regular file in dir. Used before committing a
// locally taken snapshot whose writer callback does not sync its own writes.
func syncFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.OpenFile(filepath.Clean(filepath.Join(dir, entry.Name())), os.O_RDWR, 0)
		if err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
