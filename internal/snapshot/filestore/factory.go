package filestore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"flowmill/internal/logging"
	"flowmill/internal/serial"
	"flowmill/internal/snapshot"
)

// Factory creates one snapshot store per partition and hands out restricted
// capability views: constructable for leaders, receivable for followers.
type Factory struct {
	nodeID string
	logger *slog.Logger

	mu     sync.Mutex
	stores map[int]*Store
}

// NewFactory creates a factory. The nodeID identifies this broker node in
// logs. The logger may be nil.
func NewFactory(nodeID string, logger *slog.Logger) *Factory {
	return &Factory{
		nodeID: nodeID,
		logger: logging.Default(logger).With("component", "snapshot-store-factory", "node", nodeID),
		stores: make(map[int]*Store),
	}
}

// CreateReceivableStore materializes the partition's directories under
// root, binds a store to a fresh partition task, and registers it. At most
// one store may exist per partition.
func (f *Factory) CreateReceivableStore(root string, partition int) (snapshot.ReceivableStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.stores[partition]; ok {
		return nil, fmt.Errorf("snapshot store for partition %d already exists", partition)
	}

	exec := serial.New("snapshot-"+strconv.Itoa(partition), f.logger)
	store, err := Open(Config{
		Root:      filepath.Join(root, strconv.Itoa(partition)),
		Partition: partition,
		Executor:  exec,
		Logger:    f.logger,
	})
	if err != nil {
		exec.Close()
		return nil, fmt.Errorf("open snapshot store for partition %d: %w", partition, err)
	}

	f.stores[partition] = store
	f.logger.Info("created snapshot store", "partition", partition)
	return store, nil
}

// GetConstructableStore returns the leader capability view for a partition
// previously created with CreateReceivableStore.
func (f *Factory) GetConstructableStore(partition int) (snapshot.ConstructableStore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, ok := f.stores[partition]
	if !ok {
		return nil, false
	}
	return store, true
}

// Stores returns all managed stores. Used by the janitor to register purge
// targets.
func (f *Factory) Stores() []*Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Store, 0, len(f.stores))
	for _, s := range f.stores {
		out = append(out, s)
	}
	return out
}

// Close drains every partition task concurrently and forgets the stores.
func (f *Factory) Close() error {
	f.mu.Lock()
	stores := f.stores
	f.stores = make(map[int]*Store)
	f.mu.Unlock()

	var g errgroup.Group
	for _, store := range stores {
		g.Go(func() error {
			store.Close()
			return nil
		})
	}
	return g.Wait()
}
