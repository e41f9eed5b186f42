package storage

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

// Entry keys are 'v' | uvarint(len(key)) | key | unit (8 bytes big-endian).
// The length prefix keeps "ab" and "abc" in disjoint key ranges.
const entryTag = 'v'

const unitLen = 8

func keyPrefix(key []byte) []byte {
	b := make([]byte, 0, 1+binary.MaxVarintLen64+len(key)+unitLen)
	b = append(b, entryTag)
	b = binary.AppendUvarint(b, uint64(len(key)))
	return append(b, key...)
}

func entryKey(key []byte, unit UnitID) []byte {
	return binary.BigEndian.AppendUint64(keyPrefix(key), uint64(unit))
}

// parseEntryKey splits a stored entry key back into key and unit.
func parseEntryKey(b []byte) ([]byte, UnitID, error) {
	if len(b) == 0 || b[0] != entryTag {
		return nil, 0, apperrors.Codec("parsing entry key", fmt.Errorf("bad tag in %x", b))
	}
	n, size := binary.Uvarint(b[1:])
	if size <= 0 {
		return nil, 0, apperrors.Codec("parsing entry key", fmt.Errorf("bad length in %x", b))
	}
	start := 1 + size
	if uint64(len(b)-start) != n+unitLen {
		return nil, 0, apperrors.Codec("parsing entry key", fmt.Errorf("truncated entry %x", b))
	}
	end := start + int(n)
	return b[start:end], UnitID(binary.BigEndian.Uint64(b[end:])), nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
