package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	"github.com/pankaj28843/docs-mcp-server/internal/index"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// ReadHeader decodes and validates only the header of the file at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("opening segment file: %w", err)
	}
	defer f.Close()
	b := make([]byte, HeaderSize)
	if _, err := f.ReadAt(b, 0); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %w", apperrors.ErrIndexBuild, err)
	}
	return decodeHeader(b)
}

func decodeHeader(b []byte) (Header, error) {
	h := Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		Generation: binary.LittleEndian.Uint64(b[24:32]),
		DictOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("%w: invalid segment file: bad magic bytes %x", apperrors.ErrIndexBuild, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported segment version %d", apperrors.ErrIndexBuild, h.Version)
	}
	return h, nil
}

// Load reads, verifies and reassembles the snapshot stored at path for
// tenantID.
func Load(path, tenantID string) (*index.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading segment file: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: segment file truncated (%d bytes)", apperrors.ErrIndexBuild, len(data))
	}
	h, err := decodeHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	bodyEnd := int64(len(data) - FooterSize)
	footer := data[bodyEnd:]
	if sum := crc32.ChecksumIEEE(data[HeaderSize:bodyEnd]); sum != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: segment checksum mismatch", apperrors.ErrIndexBuild)
	}
	if err := checkBounds(h, bodyEnd); err != nil {
		return nil, err
	}

	var dict []DictEntry
	if err := json.Unmarshal(data[h.DictOffset:h.DictOffset+h.DictSize], &dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %w", apperrors.ErrIndexBuild, err)
	}
	var docs []*docstore.Document
	if err := json.Unmarshal(data[h.DocsOffset:h.DocsOffset+h.DocsSize], &docs); err != nil {
		return nil, fmt.Errorf("%w: parsing documents: %w", apperrors.ErrIndexBuild, err)
	}
	if len(dict) != int(h.TermCount) || len(docs) != int(h.DocCount) {
		return nil, fmt.Errorf("%w: header counts do not match contents", apperrors.ErrIndexBuild)
	}

	postBase := int64(HeaderSize)
	entries := make([]index.TermEntry, 0, len(dict))
	for _, e := range dict {
		if e.PostOffset < 0 || e.PostLen < 0 || e.PostOffset > h.DictOffset-postBase || int64(e.PostLen) > h.DictOffset-postBase-e.PostOffset {
			return nil, fmt.Errorf("%w: postings for %q out of range", apperrors.ErrIndexBuild, e.Term)
		}
		start := postBase + e.PostOffset
		end := start + int64(e.PostLen)
		var postings index.PostingList
		if err := json.Unmarshal(data[start:end], &postings); err != nil {
			return nil, fmt.Errorf("%w: parsing postings for %q: %w", apperrors.ErrIndexBuild, e.Term, err)
		}
		if len(postings) != e.DocFreq {
			return nil, fmt.Errorf("%w: doc frequency mismatch for %q", apperrors.ErrIndexBuild, e.Term)
		}
		entries = append(entries, index.TermEntry{Term: e.Term, Postings: postings})
	}
	var createdAt time.Time
	if h.CreatedAt != 0 {
		createdAt = time.Unix(0, h.CreatedAt).UTC()
	}
	return index.Restore(tenantID, h.Generation, createdAt, entries, docs)
}

// checkBounds rejects section offsets and sizes that fall outside the body.
// The header is not covered by the checksum, so every field is suspect.
func checkBounds(h Header, bodyEnd int64) error {
	switch {
	case h.DictSize < 0, h.DocsSize < 0:
		return fmt.Errorf("%w: negative segment section size", apperrors.ErrIndexBuild)
	case h.DictOffset < int64(HeaderSize), h.DocsOffset < h.DictOffset, h.DocsOffset > bodyEnd:
		return fmt.Errorf("%w: segment section offsets out of range", apperrors.ErrIndexBuild)
	case h.DictSize > h.DocsOffset-h.DictOffset, h.DocsSize > bodyEnd-h.DocsOffset:
		return fmt.Errorf("%w: segment section bounds out of range", apperrors.ErrIndexBuild)
	}
	return nil
}
