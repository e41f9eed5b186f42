// Package stamp reads and writes the small binary file that records an
// index's schema version and whether it was shut down cleanly.
package stamp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

const (
	FileName = "index.stamp"

	MagicBytes    uint32 = 0x53584949 // "IIXS" little-endian
	FormatVersion uint16 = 1
	Size          int    = 32

	checksummed = 24
)

// State is the lifecycle state recorded in the stamp.
type State uint8

const (
	StateClean State = iota + 1
	StateOpen
	StateRebuild
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateOpen:
		return "open"
	case StateRebuild:
		return "rebuild"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Stamp is the decoded stamp file.
//
// Layout (little-endian):
//
//	[0:4]   magic
//	[4:6]   format version
//	[6:7]   state
//	[7:8]   reserved
//	[8:16]  schema version
//	[16:24] created-at (unix seconds)
//	[24:28] CRC32 of [0:24]
//	[28:32] reserved
type Stamp struct {
	SchemaVersion uint64
	State         State
	CreatedAt     time.Time
}

// ErrNotExist is returned by Read when the directory holds no stamp.
var ErrNotExist = errors.New("stamp does not exist")

// Path returns the stamp file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Read loads the stamp from dir. A stamp that exists but cannot be decoded is
// reported as a codec error.
func Read(dir string) (Stamp, error) {
	data, err := os.ReadFile(Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return Stamp{}, ErrNotExist
	}
	if err != nil {
		return Stamp{}, apperrors.Storage("reading stamp", err)
	}
	return Decode(data)
}

// Decode parses a stamp, verifying its magic, format version and checksum.
func Decode(data []byte) (Stamp, error) {
	if len(data) != Size {
		return Stamp{}, apperrors.Codec("decoding stamp", fmt.Errorf("size %d, want %d", len(data), Size))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return Stamp{}, apperrors.Codec("decoding stamp", fmt.Errorf("bad magic bytes %x", magic))
	}
	want := binary.LittleEndian.Uint32(data[24:28])
	if got := crc32.ChecksumIEEE(data[:checksummed]); got != want {
		return Stamp{}, apperrors.Codec("decoding stamp", fmt.Errorf("checksum mismatch: got %08x, want %08x", got, want))
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != FormatVersion {
		return Stamp{}, apperrors.Codec("decoding stamp", fmt.Errorf("unsupported format version %d", v))
	}
	st := State(data[6])
	if st < StateClean || st > StateRebuild {
		return Stamp{}, apperrors.Codec("decoding stamp", fmt.Errorf("unknown state %d", data[6]))
	}
	return Stamp{
		SchemaVersion: binary.LittleEndian.Uint64(data[8:16]),
		State:         st,
		CreatedAt:     time.Unix(int64(binary.LittleEndian.Uint64(data[16:24])), 0),
	}, nil
}

// Encode returns the 32-byte representation of s.
func Encode(s Stamp) []byte {
	b := make([]byte, Size)
	binary.LittleEndian.PutUint32(b[0:4], MagicBytes)
	binary.LittleEndian.PutUint16(b[4:6], FormatVersion)
	b[6] = byte(s.State)
	binary.LittleEndian.PutUint64(b[8:16], s.SchemaVersion)
	binary.LittleEndian.PutUint64(b[16:24], uint64(s.CreatedAt.Unix()))
	binary.LittleEndian.PutUint32(b[24:28], crc32.ChecksumIEEE(b[:checksummed]))
	return b
}

// Write atomically replaces the stamp in dir. It writes to a .tmp file first,
// syncs it and renames on success.
func Write(dir string, s Stamp) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Storage("creating stamp directory", err)
	}
	finalPath := Path(dir)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.Storage("creating temp stamp file", err)
	}
	if _, err := f.Write(Encode(s)); err != nil {
		f.Close()
		return apperrors.Storage("writing stamp", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperrors.Storage("syncing stamp", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Storage("closing stamp", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return apperrors.Storage("renaming stamp", err)
	}
	return nil
}
