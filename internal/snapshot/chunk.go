package snapshot

import (
	"fmt"
	"hash/crc32"

	"flowmill/internal/format"

	"github.com/vmihailenco/msgpack/v5"
)

// ChunkFrameVersion is the wire version of the chunk frame.
const ChunkFrameVersion = 1

// castagnoli is the CRC32C table shared by chunk and aggregate checksums.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Chunk is the wire unit of a snapshot transfer: one state file's content
// plus the integrity metadata needed to validate it in isolation and the
// whole transfer on completion. SnapshotChecksum is identical across all
// chunks of the same snapshot.
type Chunk struct {
	SnapshotID       string `msgpack:"snapshotId"`
	TotalCount       uint32 `msgpack:"totalCount"`
	ChunkName        string `msgpack:"chunkName"`
	Content          []byte `msgpack:"content"`
	Checksum         uint64 `msgpack:"checksum"`
	SnapshotChecksum uint64 `msgpack:"snapshotChecksum"`
}

// ChecksumContent computes the CRC32C of a chunk's content, widened to the
// u64 carried on the wire.
func ChecksumContent(content []byte) uint64 {
	return uint64(crc32.Checksum(content, castagnoli))
}

// Verify reports whether the chunk's content matches its declared checksum.
func (c *Chunk) Verify() bool {
	return ChecksumContent(c.Content) == c.Checksum
}

// EncodeChunk serializes a chunk as a 4-byte frame header followed by a
// msgpack body. Field order within the body is immaterial; the field set is
// wire-stable.
func EncodeChunk(c *Chunk) ([]byte, error) {
	body, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	header := format.Header{Type: format.TypeSnapshotChunk, Version: ChunkFrameVersion}
	buf := make([]byte, 0, format.HeaderSize+len(body))
	h := header.Encode()
	buf = append(buf, h[:]...)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeChunk parses a framed chunk, rejecting foreign signatures and
// unknown frame versions before touching the body.
func DecodeChunk(data []byte) (*Chunk, error) {
	if _, err := format.DecodeAndValidate(data, format.TypeSnapshotChunk, ChunkFrameVersion); err != nil {
		return nil, fmt.Errorf("decode chunk frame: %w", err)
	}
	var c Chunk
	if err := msgpack.Unmarshal(data[format.HeaderSize:], &c); err != nil {
		return nil, fmt.Errorf("decode chunk body: %w", err)
	}
	return &c, nil
}
