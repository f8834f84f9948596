package snapshot

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// TestCombinedChecksumCanonical pins the exact canonicalization: files in
// ascending byte-lexicographic filename order, each prefixed with a 4-byte
// big-endian length.
func TestCombinedChecksumCanonical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file3", []byte("content"))
	writeFile(t, dir, "file1", []byte("this"))
	writeFile(t, dir, "file2", []byte("is"))

	got, err := CombinedChecksum(dir)
	if err != nil {
		t.Fatalf("combined checksum: %v", err)
	}

	crc := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	for _, f := range []struct {
		name    string
		content string
	}{
		{"file1", "this"},
		{"file2", "is"},
		{"file3", "content"},
	} {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(f.content)))
		crc.Write(prefix[:])
		crc.Write([]byte(f.content))
	}
	if want := uint64(crc.Sum32()); got != want {
		t.Errorf("checksum = %d, want %d", got, want)
	}
}

func TestCombinedChecksumOrderSensitive(t *testing.T) {
	a := t.TempDir()
	writeFile(t, a, "a", []byte("xx"))
	writeFile(t, a, "b", []byte("yy"))

	b := t.TempDir()
	writeFile(t, b, "a", []byte("yy"))
	writeFile(t, b, "b", []byte("xx"))

	sumA, err := CombinedChecksum(a)
	if err != nil {
		t.Fatalf("checksum a: %v", err)
	}
	sumB, err := CombinedChecksum(b)
	if err != nil {
		t.Fatalf("checksum b: %v", err)
	}
	if sumA == sumB {
		t.Error("swapping file contents should change the aggregate checksum")
	}
}

func TestCombinedChecksumLengthPrefixDisambiguates(t *testing.T) {
	// "ab"+"c" and "a"+"bc" concatenate identically; the length prefix must
	// tell them apart.
	a := t.TempDir()
	writeFile(t, a, "f1", []byte("ab"))
	writeFile(t, a, "f2", []byte("c"))

	b := t.TempDir()
	writeFile(t, b, "f1", []byte("a"))
	writeFile(t, b, "f2", []byte("bc"))

	sumA, _ := CombinedChecksum(a)
	sumB, _ := CombinedChecksum(b)
	if sumA == sumB {
		t.Error("length prefix failed to disambiguate file boundaries")
	}
}

func TestCombinedChecksumExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "state", []byte("data"))

	base, err := CombinedChecksum(dir)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	writeFile(t, dir, "1-0-0-0.checksum", []byte("ignored"))
	got, err := CombinedChecksum(dir, "1-0-0-0.checksum")
	if err != nil {
		t.Fatalf("checksum with exclude: %v", err)
	}
	if got != base {
		t.Error("excluded file affected the aggregate checksum")
	}
}

func TestChecksumFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1-0-0-0.checksum")
	const sum = uint64(0xDEADBEEF)
	if err := WriteChecksumFile(path, sum); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != ChecksumFileSize {
		t.Errorf("sidecar size = %d, want %d", info.Size(), ChecksumFileSize)
	}

	got, err := ReadChecksumFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != sum {
		t.Errorf("read %d, want %d", got, sum)
	}
}

func TestReadChecksumFileTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.checksum")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadChecksumFile(path); !errors.Is(err, ErrCorruptedSnapshot) {
		t.Errorf("expected ErrCorruptedSnapshot, got %v", err)
	}
}

func TestStateFileNames(t *testing.T) {
	dir := t.TempDir()
	id := ID{Index: 1}
	writeFile(t, dir, "zeta", nil)
	writeFile(t, dir, "alpha", nil)
	writeFile(t, dir, ChecksumFileName(id), nil)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := StateFileNames(dir, id)
	if err != nil {
		t.Fatalf("state file names: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("names = %v, want [alpha zeta]", names)
	}
}
