package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

type Reader struct {
	file     *os.File
	filePath string
	header   Header
	dict     dictionary
}

// OpenReader opens a segment and verifies its header and checksum. Damage
// is reported as ErrCodec.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Storage("opening segment file", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Storage("stat segment file", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, apperrors.Codec("reading "+path, fmt.Errorf("segment too short: %d bytes", size))
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, apperrors.Storage("reading segment header", err)
	}
	header := Header{
		Magic:      binary.LittleEndian.Uint32(headerBytes[0:4]),
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:  binary.LittleEndian.Uint32(headerBytes[8:12]),
		FileCount:  binary.LittleEndian.Uint32(headerBytes[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
	}
	if header.Magic != MagicBytes {
		return nil, apperrors.Codec("reading "+path, fmt.Errorf("bad magic bytes %x", header.Magic))
	}
	if header.Version != FormatVersion {
		return nil, apperrors.Codec("reading "+path, fmt.Errorf("unsupported segment version %d", header.Version))
	}
	if header.PostOffset != int64(HeaderSize) ||
		header.DictOffset != header.PostOffset+header.PostSize ||
		header.DictOffset+header.DictSize+int64(FooterSize) != size {
		return nil, apperrors.Codec("reading "+path, fmt.Errorf("inconsistent segment offsets"))
	}

	body := make([]byte, header.PostSize+header.DictSize)
	if _, err := f.ReadAt(body, header.PostOffset); err != nil {
		return nil, apperrors.Storage("reading segment body", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, size-int64(FooterSize)); err != nil {
		return nil, apperrors.Storage("reading segment footer", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(body); want != got {
		return nil, apperrors.Codec("reading "+path, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", want, got))
	}

	var dict dictionary
	if err := json.Unmarshal(body[header.PostSize:], &dict); err != nil {
		return nil, apperrors.Codec("parsing dictionary of "+path, err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
	}, nil
}

// Search returns the postings for term, or nil if the segment lacks it.
func (r *Reader) Search(term string) (PostingList, error) {
	terms := r.dict.Terms
	idx := sort.Search(len(terms), func(i int) bool {
		return terms[i].Term >= term
	})
	if idx >= len(terms) || terms[idx].Term != term {
		return nil, nil
	}
	entry := terms[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, apperrors.Storage("reading postings", err)
	}
	var postings PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, apperrors.Codec("parsing postings", err)
	}
	return postings, nil
}

// Files lists the files registered in this segment.
func (r *Reader) Files() []string {
	return r.dict.Files
}

func (r *Reader) Terms() int {
	return len(r.dict.Terms)
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
