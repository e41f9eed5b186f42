package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// lastNanos keeps segment names strictly increasing within a process; the
// pid suffix separates processes.
var lastNanos atomic.Int64

func nextNanos() int64 {
	for {
		now := time.Now().UnixNano()
		prev := lastNanos.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastNanos.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// Writer creates new segment files in a directory.
type Writer struct {
	dataDir string
	pid     int
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir, pid: os.Getpid()}
}

// Write atomically creates a segment holding entries, which must be sorted
// by term, and the list of files they came from. It returns the segment's
// file name.
func (w *Writer) Write(entries []TermEntry, files []string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	created := nextNanos()
	segmentName := fileName(created, w.pid)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	var postings bytes.Buffer
	dict := dictionary{
		Terms: make([]DictEntry, 0, len(entries)),
		Files: files,
	}
	for _, entry := range entries {
		offset := int64(postings.Len())
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		postings.Write(data)
		dict.Terms = append(dict.Terms, DictEntry{
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(data),
			FileFreq:   len(entry.Postings),
		})
	}
	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}

	postOffset := int64(HeaderSize)
	postSize := int64(postings.Len())
	dictOffset := postOffset + postSize
	dictSize := int64(len(dictData))

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(files)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(created))
	binary.LittleEndian.PutUint64(header[24:32], uint64(dictOffset))
	binary.LittleEndian.PutUint64(header[32:40], uint64(dictSize))
	binary.LittleEndian.PutUint64(header[40:48], uint64(postOffset))
	binary.LittleEndian.PutUint64(header[48:56], uint64(postSize))

	checksum := crc32.Update(crc32.ChecksumIEEE(postings.Bytes()), crc32.IEEETable, dictData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(files)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postSize))

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	for _, part := range [][]byte{header, postings.Bytes(), dictData, footer} {
		if _, err := f.Write(part); err != nil {
			os.Remove(tmpPath)
			return "", fmt.Errorf("writing segment: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}
