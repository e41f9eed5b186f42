// Package segment reads and writes immutable .bref reference segments.
//
// Layout: a 64-byte header, the JSON postings region, the JSON dictionary
// (terms plus the files the segment registered) and a 32-byte footer whose
// CRC32 covers postings and dictionary.
package segment

import "fmt"

const (
	MagicBytes    uint32 = 0x42524546
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".bref"
)

// Header is the fixed-size header at the start of every segment.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	FileCount  uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// Posting records how often a file mentions a term and whether it defines
// it.
type Posting struct {
	File    string `json:"f"`
	Count   int    `json:"c"`
	Defined bool   `json:"d,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// DictEntry locates a term's postings relative to the postings region.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	FileFreq   int    `json:"n"`
}

type dictionary struct {
	Terms []DictEntry `json:"terms"`
	Files []string    `json:"files"`
}

func fileName(nanos int64, pid int) string {
	return fmt.Sprintf("seg_%d_%d%s", nanos, pid, Extension)
}
