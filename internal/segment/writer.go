// Package segment persists index snapshots as single .spdx files. A file is a
// fixed 64-byte header, the JSON postings of every term, a JSON term
// dictionary, the JSON document table, and a 32-byte footer carrying a CRC32
// of everything between header and footer. Files are written to a temporary
// name, fsynced and renamed, so a reader sees either the old or the new file.
package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/pankaj28843/docs-mcp-server/internal/index"
)

const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	FileName             = "index.spdx"
)

// Header is the fixed-size header at the start of every segment file.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	Generation uint64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
}

// DictEntry maps a term to its postings offset (relative to the end of the
// header), encoded length and document frequency.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Path is where the snapshot of tenantID lives under dataDir.
func Path(dataDir, tenantID string) string {
	return filepath.Join(dataDir, tenantID, FileName)
}

type countingWriter struct {
	w   io.Writer
	crc hash.Hash32
	n   int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.crc.Write(p[:n])
	c.n += int64(n)
	return n, err
}

// Write atomically replaces the segment file at path with snap.
func Write(path string, snap *index.Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	header := make([]byte, HeaderSize)
	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	buf := bufio.NewWriterSize(tmp, 64<<10)
	cw := &countingWriter{w: buf, crc: crc32.NewIEEE()}

	entries := snap.Entries()
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		offset := cw.n
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := cw.Write(data); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(data),
			DocFreq:    len(entry.Postings),
		})
	}

	dictStart := int64(HeaderSize) + cw.n
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := cw.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}

	docsStart := int64(HeaderSize) + cw.n
	docsData, err := json.Marshal(snap.Docs().All())
	if err != nil {
		return fmt.Errorf("marshaling documents: %w", err)
	}
	if _, err := cw.Write(docsData); err != nil {
		return fmt.Errorf("writing documents: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], cw.crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(snap.DocCount()))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(cw.n))
	if _, err := buf.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flushing segment: %w", err)
	}

	var createdAt int64
	if !snap.CreatedAt.IsZero() {
		createdAt = snap.CreatedAt.UnixNano()
	}
	h := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(dict)),
		DocCount:   uint32(snap.DocCount()),
		CreatedAt:  createdAt,
		Generation: snap.Generation,
		DictOffset: dictStart,
		DictSize:   int64(len(dictData)),
		DocsOffset: docsStart,
		DocsSize:   int64(len(docsData)),
	}
	encodeHeader(header, h)
	if _, err := tmp.WriteAt(header, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return syncDir(dir)
}

func encodeHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], h.Generation)
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsSize))
}

// syncDir makes the rename durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening segment directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing segment directory: %w", err)
	}
	return nil
}
