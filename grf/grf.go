// Package grf reads GRF archive containers as shipped with the Ragnarok
// Online client.
//
// A GRF file bundles many named resource entries, each individually
// zlib-compressed and, in archives touched by old patchers, scrambled
// with a legacy DES-like block transform (see des.go). The table of
// contents is parsed once, eagerly, when the archive is opened; after
// that a File is an immutable snapshot and safe for concurrent reads.
package grf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/korean"
)

// ErrFormat is the root cause of every malformed-archive error returned
// by this package. Use errors.Cause to test for it.
var ErrFormat = errors.New("malformed grf archive")

const (
	// headerSize is the fixed size of the GRF preamble; all stored
	// offsets are relative to the end of it.
	headerSize = 46

	grfSignature     = "Master of Magic"
	supportedVersion = 0x200
)

// Entry type flags, straight from the client's FILELIST struct.
const (
	typeFile          = 0x01 // regular file (unset means directory)
	typeEncryptMixed  = 0x02 // whole payload DES+shuffle scrambled
	typeEncryptHeader = 0x04 // first 20 blocks DES scrambled
)

// Entry describes one file stored in the archive. Entries are immutable
// once the archive is open.
type Entry struct {
	// Name is the stored path, decoded from its legacy EUC-KR bytes,
	// with the archive's backslash separators preserved.
	Name string

	PackSize    uint32 // compressed size
	AlignedSize uint32 // compressed size padded to the cipher block size
	RealSize    uint32 // decompressed size
	Type        byte
	Offset      uint32 // relative to the end of the header
}

// IsFile reports whether the entry is a regular file rather than a
// directory marker.
func (e *Entry) IsFile() bool {
	return e.Type&typeFile != 0
}

// Encrypted reports whether any block transform applies to the entry.
func (e *Entry) Encrypted() bool {
	return e.Type&(typeEncryptMixed|typeEncryptHeader) != 0
}

// File is an open archive: its version, its table of contents, and the
// file handle entries are read through.
type File struct {
	path    string
	f       *os.File
	size    int64
	version uint32

	entries []Entry
	index   map[string]int // normalized name -> entries index
}

type header struct {
	Signature   [15]byte
	Key         [15]byte
	TableOffset uint32
	Skip        uint32
	FileCount   uint32
	Version     uint32
}

// Open opens the archive at path and eagerly parses its table of
// contents. The returned File holds an open handle until Close.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening grf %q", path)
	}

	gf, err := newFile(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	glog.V(1).Infof("grf.Open(%q): version 0x%x, %d entries", path, gf.version, len(gf.entries))
	return gf, nil
}

func newFile(f *os.File, path string) (*File, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat grf %q", path)
	}

	var h header
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrapf(ErrFormat, "%q: reading header: %v", path, err)
	}

	sig := strings.TrimRight(string(h.Signature[:]), "\x00")
	if sig != grfSignature {
		return nil, errors.Wrapf(ErrFormat, "%q: bad signature %q", path, sig)
	}
	if h.Version != supportedVersion {
		// 0x1xx archives keep an encrypted name table with a layout
		// this reader does not implement; refuse them outright rather
		// than misparse.
		return nil, errors.Wrapf(ErrFormat, "%q: unsupported version; got 0x%x, want 0x%x", path, h.Version, supportedVersion)
	}

	tableOff := int64(h.TableOffset) + headerSize
	if tableOff+8 > st.Size() {
		return nil, errors.Wrapf(ErrFormat, "%q: table offset %d out of bounds", path, h.TableOffset)
	}

	var tableSizes struct{ PackSize, RealSize uint32 }
	sizeBuf := make([]byte, 8)
	if _, err := f.ReadAt(sizeBuf, tableOff); err != nil {
		return nil, errors.Wrapf(ErrFormat, "%q: reading table sizes: %v", path, err)
	}
	tableSizes.PackSize = binary.LittleEndian.Uint32(sizeBuf[0:4])
	tableSizes.RealSize = binary.LittleEndian.Uint32(sizeBuf[4:8])

	if tableOff+8+int64(tableSizes.PackSize) > st.Size() {
		return nil, errors.Wrapf(ErrFormat, "%q: truncated table of contents", path)
	}
	packed := make([]byte, tableSizes.PackSize)
	if _, err := f.ReadAt(packed, tableOff+8); err != nil {
		return nil, errors.Wrapf(ErrFormat, "%q: reading table of contents: %v", path, err)
	}

	table, err := inflate(packed, tableSizes.RealSize)
	if err != nil {
		return nil, errors.Wrapf(err, "%q: table of contents", path)
	}

	count := int64(h.FileCount) - int64(h.Skip) - 7
	if count < 0 {
		count = 0
	}

	gf := &File{
		path:    path,
		f:       f,
		size:    st.Size(),
		version: h.Version,
		index:   make(map[string]int),
	}
	if err := gf.parseEntries(table, count); err != nil {
		return nil, errors.Wrapf(err, "%q", path)
	}
	return gf, nil
}

// parseEntries walks the decompressed table of contents: a NUL-terminated
// EUC-KR name followed by a 17-byte fixed record, repeated.
func (gf *File) parseEntries(table []byte, count int64) error {
	gf.entries = make([]Entry, 0, count)

	pos := 0
	for n := int64(0); n < count; n++ {
		if pos >= len(table) {
			break
		}

		nul := bytes.IndexByte(table[pos:], 0)
		if nul < 0 {
			return errors.Wrap(ErrFormat, "unterminated entry name in table of contents")
		}
		name := decodeEntryName(table[pos : pos+nul])
		pos += nul + 1

		if pos+17 > len(table) {
			return errors.Wrapf(ErrFormat, "truncated entry record for %q", name)
		}
		rec := table[pos : pos+17]
		pos += 17

		e := Entry{
			Name:        name,
			PackSize:    binary.LittleEndian.Uint32(rec[0:4]),
			AlignedSize: binary.LittleEndian.Uint32(rec[4:8]),
			RealSize:    binary.LittleEndian.Uint32(rec[8:12]),
			Type:        rec[12],
			Offset:      binary.LittleEndian.Uint32(rec[13:17]),
		}
		gf.entries = append(gf.entries, e)

		key := normalizeName(name)
		if _, dup := gf.index[key]; !dup {
			gf.index[key] = len(gf.entries) - 1
		}
	}
	return nil
}

// decodeEntryName converts a stored EUC-KR name to UTF-8. Undecodable
// bytes fall back to the raw string so the entry stays addressable.
func decodeEntryName(raw []byte) string {
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		glog.V(2).Infof("grf: entry name %q is not valid EUC-KR: %v", raw, err)
		return string(raw)
	}
	return string(decoded)
}

// normalizeName maps both separator styles and letter case onto the
// archive's native form so lookups are insensitive to either.
func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "\\")
	name = strings.TrimLeft(name, "\\")
	return strings.ToLower(name)
}

// Lookup finds the entry stored under name. Both slash styles and any
// letter case are accepted.
func (gf *File) Lookup(name string) (*Entry, bool) {
	i, ok := gf.index[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return &gf.entries[i], true
}

// Entries returns the table of contents in stored order. The returned
// slice is shared and must not be modified.
func (gf *File) Entries() []Entry {
	return gf.entries
}

// Version returns the archive's version word, e.g. 0x200.
func (gf *File) Version() uint32 {
	return gf.version
}

// Path returns the path the archive was opened from.
func (gf *File) Path() string {
	return gf.path
}

// ReadEntry returns the decoded plaintext bytes of the entry: the stored
// payload with any block transform undone and the zlib stream inflated.
// A corrupt entry fails only this read, never the archive.
//
// ReadEntry is safe for concurrent use; it reads through ReadAt and
// never moves a shared file position.
func (gf *File) ReadEntry(e *Entry) ([]byte, error) {
	if !e.IsFile() {
		return nil, errors.Wrapf(ErrFormat, "entry %q is a directory", e.Name)
	}

	off := int64(e.Offset) + headerSize
	if off+int64(e.AlignedSize) > gf.size {
		return nil, errors.Wrapf(ErrFormat, "entry %q extends past end of archive", e.Name)
	}

	buf := make([]byte, e.AlignedSize)
	if _, err := gf.f.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(ErrFormat, "entry %q: short read: %v", e.Name, err)
	}

	// Decrypt-then-inflate: encrypted entries are always compressed
	// before they are scrambled.
	encrypted := true
	switch {
	case e.Type&typeEncryptMixed != 0:
		decodeFull(buf, e.PackSize)
	case e.Type&typeEncryptHeader != 0:
		decodeHeader(buf)
	default:
		encrypted = false
	}

	if !encrypted && e.RealSize == e.PackSize {
		// Stored uncompressed.
		return buf[:e.RealSize], nil
	}

	out, err := inflate(buf, e.RealSize)
	if err != nil {
		return nil, errors.Wrapf(err, "entry %q", e.Name)
	}
	return out, nil
}

// Read looks up name and reads its entry in one step.
func (gf *File) Read(name string) ([]byte, error) {
	e, ok := gf.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "entry %q", name)
	}
	return gf.ReadEntry(e)
}

// Close releases the underlying file handle. The table of contents
// remains readable but entry reads will fail.
func (gf *File) Close() error {
	return gf.f.Close()
}

// inflate decompresses a zlib stream and checks the result against the
// declared plaintext size.
func inflate(data []byte, realSize uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "zlib: %v", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "inflate: %v", err)
	}
	if uint32(len(out)) != realSize {
		return nil, errors.Wrapf(ErrFormat, "decompressed size mismatch; got %d, want %d", len(out), realSize)
	}
	return out, nil
}
