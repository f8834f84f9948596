package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// ChecksumFileSize is the on-disk size of a checksum sidecar: the aggregate
// CRC32C value zero-extended to u64, big-endian.
const ChecksumFileSize = 8

// ChecksumFileName returns the sidecar filename for a snapshot id.
func ChecksumFileName(id ID) string {
	return id.String() + ".checksum"
}

// CombinedChecksum computes the aggregate CRC32C over the regular files in
// dir, excluding any filename in exclude. Files contribute in ascending
// byte-lexicographic filename order, each prefixed with its length as a
// 4-byte big-endian integer. This ordering is the only cross-node
// canonicalization and must be reproduced exactly by every implementation.
func CombinedChecksum(dir string, exclude ...string) (uint64, error) {
	names, err := stateFileNames(dir, exclude...)
	if err != nil {
		return 0, err
	}

	crc := crc32.New(castagnoli)
	var prefix [4]byte
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		binary.BigEndian.PutUint32(prefix[:], uint32(info.Size())) //nolint:gosec // G115: state files are bounded by chunk transfer limits
		_, _ = crc.Write(prefix[:])

		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return 0, err
		}
		_, err = io.Copy(crc, f)
		_ = f.Close()
		if err != nil {
			return 0, err
		}
	}
	return uint64(crc.Sum32()), nil
}

// stateFileNames lists the regular files in dir in ascending
// byte-lexicographic order, excluding the given names.
func stateFileNames(dir string, exclude ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || slices.Contains(exclude, entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}

// StateFileNames lists the state files of a snapshot directory in the
// canonical checksum order, excluding the checksum sidecar for id.
func StateFileNames(dir string, id ID) ([]string, error) {
	return stateFileNames(dir, ChecksumFileName(id))
}

// WriteChecksumFile writes a checksum sidecar and syncs it to disk.
func WriteChecksumFile(path string, sum uint64) error {
	var buf [ChecksumFileSize]byte
	binary.BigEndian.PutUint64(buf[:], sum)

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadChecksumFile reads a checksum sidecar.
func ReadChecksumFile(path string) (uint64, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	if len(data) != ChecksumFileSize {
		return 0, fmt.Errorf("%w: checksum file %s has %d bytes, want %d",
			ErrCorruptedSnapshot, filepath.Base(path), len(data), ChecksumFileSize)
	}
	return binary.BigEndian.Uint64(data), nil
}
