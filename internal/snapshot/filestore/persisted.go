package filestore

import (
	"path/filepath"
	"sync"

	"flowmill/internal/snapshot"
)

// persisted is the immutable handle to a committed snapshot directory.
type persisted struct {
	id       snapshot.ID
	path     string
	checksum uint64
	store    *Store
}

func (p *persisted) ID() snapshot.ID { return p.id }
func (p *persisted) Path() string    { return p.path }
func (p *persisted) Checksum() uint64 {
	return p.checksum
}

func (p *persisted) checksumPath() string {
	return filepath.Join(p.path, snapshot.ChecksumFileName(p.id))
}

func (p *persisted) Reserve() (snapshot.Reservation, error) {
	return p.store.reserve(p)
}

func (p *persisted) NewChunkReader() (snapshot.ChunkReader, error) {
	return newChunkReader(p)
}

// reservation pins a committed snapshot directory until released.
type reservation struct {
	store    *Store
	snapshot *persisted
	once     sync.Once
}

func (r *reservation) Release() {
	r.once.Do(func() {
		r.store.release(r.snapshot)
	})
}

var _ snapshot.Persisted = (*persisted)(nil)
