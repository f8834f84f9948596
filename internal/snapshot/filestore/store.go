package filestore

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"

	"flowmill/internal/logging"
	"flowmill/internal/serial"
	"flowmill/internal/snapshot"
)

// Store is the partition-scoped snapshot store. It holds the current
// committed snapshot and the registered listeners. It keeps no record of
// in-flight pending snapshots: each transient or received handle tracks its
// own pending directory.
//
// Every mutation runs on the store's serial executor, so no two mutators
// ever execute concurrently for the same partition. Readers observe the
// committed snapshot through an atomic pointer without blocking writers.
type Store struct {
	partition int
	layout    *layout
	exec      *serial.Executor
	logger    *slog.Logger

	// current is read lock-free by Current(); it is only written on the
	// executor, where it advances monotonically in snapshot-id order.
	current atomic.Pointer[persisted]

	// The fields below are confined to the executor goroutine.
	listeners []snapshot.PersistedListener

	// reservations counts outstanding directory pins per committed snapshot
	// directory name; obsolete marks superseded directories whose deletion
	// is deferred until their reservations drain.
	reservations map[string]int
	obsolete     map[string]struct{}
}

// Config configures a store.
type Config struct {
	// Root is the partition root directory; snapshots/ and pending/ are
	// created beneath it.
	Root string

	// Partition identifies the replication group this store belongs to.
	Partition int

	// Executor is the partition task all mutations are serialized on.
	// Required.
	Executor *serial.Executor

	// Logger for structured logging. If nil, logging is disabled. The store
	// scopes it with component="snapshot-store" and the partition.
	Logger *slog.Logger
}

// Open creates a store, recovering the committed snapshot from disk.
//
// Recovery picks the directory under snapshots/ with the greatest parsable
// id, verifies its checksum sidecar against the recomputed aggregate, and
// refuses to open on a mismatch. Every other directory under snapshots/ and
// everything under pending/ is purged.
func Open(cfg Config) (*Store, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("store executor is required")
	}
	logger := logging.Default(cfg.Logger).With("component", "snapshot-store", "partition", cfg.Partition)

	l, err := newLayout(cfg.Root, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		partition:    cfg.Partition,
		layout:       l,
		exec:         cfg.Executor,
		logger:       logger,
		reservations: make(map[string]int),
		obsolete:     make(map[string]struct{}),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) recover() error {
	entries, err := os.ReadDir(s.layout.snapshots)
	if err != nil {
		return err
	}

	var (
		latest    *persisted
		leftovers []string
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			leftovers = append(leftovers, entry.Name())
			continue
		}
		id, err := snapshot.ParseID(entry.Name())
		if err != nil {
			s.logger.Warn("ignoring unparsable snapshot directory", "name", entry.Name())
			leftovers = append(leftovers, entry.Name())
			continue
		}
		if latest == nil || id.NewerThan(latest.id) {
			if latest != nil {
				leftovers = append(leftovers, latest.id.String())
			}
			latest = &persisted{id: id, path: s.layout.snapshotPath(id), store: s}
		} else {
			leftovers = append(leftovers, entry.Name())
		}
	}

	if latest != nil {
		stored, err := snapshot.ReadChecksumFile(latest.checksumPath())
		if err != nil {
			return fmt.Errorf("read checksum of snapshot %s: %w", latest.id, err)
		}
		actual, err := snapshot.CombinedChecksum(latest.path, snapshot.ChecksumFileName(latest.id))
		if err != nil {
			return fmt.Errorf("verify snapshot %s: %w", latest.id, err)
		}
		if actual != stored {
			s.logger.Error("committed snapshot failed checksum verification",
				"snapshot", latest.id.String(), "stored", stored, "actual", actual)
			return fmt.Errorf("%w: snapshot %s: stored checksum %d, actual %d",
				snapshot.ErrCorruptedSnapshot, latest.id, stored, actual)
		}
		latest.checksum = stored
		s.current.Store(latest)
		s.logger.Info("recovered committed snapshot", "snapshot", latest.id.String())
	}

	for _, name := range leftovers {
		s.layout.purge(s.layout.snapshotEntry(name))
	}

	pending, err := os.ReadDir(s.layout.pending)
	if err != nil {
		return err
	}
	for _, entry := range pending {
		s.layout.purge(s.layout.pendingPath(entry.Name()))
	}
	return nil
}

// Partition returns the partition this store belongs to.
func (s *Store) Partition() int {
	return s.partition
}

// Current returns the committed snapshot, or false if none exists. Never
// blocks on the partition task.
func (s *Store) Current() (snapshot.Persisted, bool) {
	p := s.current.Load()
	if p == nil {
		return nil, false
	}
	return p, true
}

// NewTransient returns a writable snapshot for the given position iff it is
// strictly newer than the current committed snapshot.
func (s *Store) NewTransient(index, term, processedPosition, exportedPosition uint64) (snapshot.Transient, bool) {
	id := snapshot.ID{
		Index:             index,
		Term:              term,
		ProcessedPosition: processedPosition,
		ExportedPosition:  exportedPosition,
	}
	if cur := s.current.Load(); cur != nil && !id.NewerThan(cur.id) {
		s.logger.Debug("rejected transient snapshot at or below committed position",
			"requested", id.String(), "committed", cur.id.String())
		return nil, false
	}
	return &transient{store: s, id: id}, true
}

// NewReceived returns a writable snapshot for the given textual id. No
// directory is created until the first chunk is applied.
func (s *Store) NewReceived(id string) (snapshot.Received, error) {
	parsed, err := snapshot.ParseID(id)
	if err != nil {
		return nil, err
	}
	return &received{store: s, id: parsed}, nil
}

// PurgePending removes every pending directory whose name's id differs from
// the current committed snapshot's id. It never touches snapshots/.
func (s *Store) PurgePending() error {
	return s.exec.Do(func() error {
		entries, err := os.ReadDir(s.layout.pending)
		if err != nil {
			return err
		}
		cur := s.current.Load()
		for _, entry := range entries {
			id, _, err := parsePendingName(entry.Name())
			if err == nil && cur != nil && id.Compare(cur.id) == 0 {
				continue
			}
			s.logger.Info("purging pending snapshot directory", "name", entry.Name())
			s.layout.purge(s.layout.pendingPath(entry.Name()))
		}
		return nil
	})
}

// AddListener registers a promotion listener. Registration is posted to the
// partition task, so it never races a notification.
func (s *Store) AddListener(l snapshot.PersistedListener) {
	_ = s.exec.Do(func() error {
		s.listeners = append(s.listeners, l)
		return nil
	})
}

// RemoveListener removes a previously registered listener.
func (s *Store) RemoveListener(l snapshot.PersistedListener) {
	_ = s.exec.Do(func() error {
		s.listeners = slices.DeleteFunc(s.listeners, func(registered snapshot.PersistedListener) bool {
			return registered == l
		})
		return nil
	})
}

// Close drains the partition task. The store must not be used afterwards.
func (s *Store) Close() {
	s.exec.Close()
	s.logger.Debug("snapshot store closed")
}

// commitPending promotes a verified pending directory. Runs on the
// executor. checksum is the aggregate checksum already written to the
// sidecar inside pendingPath.
//
// Supersession rules:
//   - no committed snapshot, or a strictly older one: rename into place,
//     purge the older directory (deferred while reserved), notify listeners;
//   - committed snapshot with the same id: the pending copy is redundant
//     (contents equal by checksum construction); purge it and return the
//     existing handle;
//   - strictly newer committed snapshot: purge the pending copy and return
//     the existing handle with ErrSuperseded.
func (s *Store) commitPending(pendingPath string, id snapshot.ID, checksum uint64) (*persisted, error) {
	cur := s.current.Load()
	if cur != nil {
		switch c := id.Compare(cur.id); {
		case c == 0:
			if checksum != cur.checksum {
				return nil, fmt.Errorf("%w: pending copy of %s disagrees with committed contents", snapshot.ErrCorruptedSnapshot, id)
			}
			s.layout.purge(pendingPath)
			return cur, nil
		case c < 0:
			s.logger.Info("dropping superseded snapshot", "snapshot", id.String(), "committed", cur.id.String())
			s.layout.purge(pendingPath)
			return cur, snapshot.ErrSuperseded
		}
	}

	target, err := s.layout.commit(pendingPath, id.String())
	if err != nil {
		return nil, err
	}

	p := &persisted{id: id, path: target, checksum: checksum, store: s}
	s.current.Store(p)
	s.logger.Info("committed snapshot", "snapshot", id.String(), "checksum", checksum)

	if cur != nil {
		s.removeCommitted(cur)
	}
	for _, l := range s.listeners {
		l.OnNewSnapshot(p)
	}
	return p, nil
}

// removeCommitted deletes a superseded committed directory, deferring while
// reservations are outstanding. Runs on the executor.
func (s *Store) removeCommitted(p *persisted) {
	name := p.id.String()
	if s.reservations[name] > 0 {
		s.obsolete[name] = struct{}{}
		s.logger.Debug("deferring removal of reserved snapshot", "snapshot", name)
		return
	}
	s.layout.purge(p.path)
}

// reserve pins a committed snapshot directory. Fails if the snapshot has
// already been superseded and removed.
func (s *Store) reserve(p *persisted) (snapshot.Reservation, error) {
	var r *reservation
	err := s.exec.Do(func() error {
		name := p.id.String()
		if _, err := os.Stat(p.path); err != nil {
			return fmt.Errorf("snapshot %s is no longer available: %w", name, err)
		}
		s.reservations[name]++
		r = &reservation{store: s, snapshot: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) release(p *persisted) {
	_ = s.exec.Do(func() error {
		name := p.id.String()
		if s.reservations[name] == 0 {
			return nil
		}
		s.reservations[name]--
		if s.reservations[name] > 0 {
			return nil
		}
		delete(s.reservations, name)
		if _, ok := s.obsolete[name]; ok {
			delete(s.obsolete, name)
			s.layout.purge(p.path)
		}
		return nil
	})
}

var (
	_ snapshot.ConstructableStore = (*Store)(nil)
	_ snapshot.ReceivableStore    = (*Store)(nil)
)
