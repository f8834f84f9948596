package filestore

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"flowmill/internal/snapshot"
)

// chunkReader yields one chunk per state file in ascending byte-lexicographic
// filename order, the canonical transfer order. The checksum sidecar is not
// streamed; receivers recompute and write their own.
//
// The reader holds a reservation on the snapshot directory so a concurrent
// promotion cannot delete the files mid-stream.
type chunkReader struct {
	snapshot    *persisted
	reservation snapshot.Reservation
	names       []string
	next        int
	closeOnce   sync.Once
}

func newChunkReader(p *persisted) (*chunkReader, error) {
	res, err := p.Reserve()
	if err != nil {
		return nil, err
	}
	names, err := snapshot.StateFileNames(p.path, p.id)
	if err != nil {
		res.Release()
		return nil, err
	}
	return &chunkReader{snapshot: p, reservation: res, names: names}, nil
}

func (r *chunkReader) Next() (*snapshot.Chunk, error) {
	if r.next >= len(r.names) {
		return nil, io.EOF
	}
	name := r.names[r.next]
	content, err := os.ReadFile(filepath.Clean(filepath.Join(r.snapshot.path, name)))
	if err != nil {
		return nil, err
	}
	r.next++
	return &snapshot.Chunk{
		SnapshotID:       r.snapshot.id.String(),
		TotalCount:       uint32(len(r.names)), //nolint:gosec // G115: state file count is bounded by transfer limits
		ChunkName:        name,
		Content:          content,
		Checksum:         snapshot.ChecksumContent(content),
		SnapshotChecksum: r.snapshot.checksum,
	}, nil
}

func (r *chunkReader) Close() error {
	r.closeOnce.Do(r.reservation.Release)
	return nil
}

var _ snapshot.ChunkReader = (*chunkReader)(nil)
