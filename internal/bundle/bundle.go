package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"shroomdump/internal/services"
)

const (
	// Magic opens every bundle.
	Magic = "SHRB"
	// Version is the only encoding version produced and accepted.
	Version uint8 = 1

	headerSize      = len(Magic) + 1 + 4
	entryHeaderSize = 2 + 1 + 4 + 4
	maxRawSize      = 1 << 30
)

// ErrFinalized is returned by Add once the builder has been finalized.
var ErrFinalized = errors.New("bundle already finalized")

// Entry is one named payload.
type Entry struct {
	Name string
	Data []byte
}

// FormatError reports malformed bundle bytes.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: bundle offset %d: %s", services.ErrFormat, e.Offset, e.Reason)
}

// Is matches services.ErrFormat.
func (e *FormatError) Is(target error) bool { return target == services.ErrFormat }

// Builder accumulates entries in insertion order.
type Builder struct {
	entries   []Entry
	finalized []byte
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an entry. Duplicate names are kept; readers resolve them with
// last-write-wins.
func (b *Builder) Add(name string, data []byte) error {
	if b.finalized != nil {
		return ErrFinalized
	}
	if name == "" {
		return errors.New("bundle entry name must not be empty")
	}
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("bundle entry name too long: %d bytes", len(name))
	}
	if len(data) > maxRawSize {
		return fmt.Errorf("bundle entry %q too large: %d bytes", name, len(data))
	}
	b.entries = append(b.entries, Entry{Name: name, Data: append([]byte(nil), data...)})
	return nil
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Finalize encodes the entries. The first call fixes the result; later calls
// return the same bytes and further Adds fail. Callers must not modify the
// returned slice.
func (b *Builder) Finalize() ([]byte, error) {
	if b.finalized != nil {
		return b.finalized, nil
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.WriteByte(Version)
	writeUint32(&buf, uint32(len(b.entries)))
	for _, entry := range b.entries {
		tag, stored, err := encodePayload(entry.Name, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", entry.Name, err)
		}
		writeUint16(&buf, uint16(len(entry.Name)))
		buf.WriteString(entry.Name)
		buf.WriteByte(byte(tag))
		writeUint32(&buf, uint32(len(entry.Data)))
		writeUint32(&buf, uint32(len(stored)))
		buf.Write(stored)
	}
	b.finalized = buf.Bytes()
	b.entries = nil
	return b.finalized, nil
}

// Encode is a convenience for building a bundle from entries in one call.
func Encode(entries []Entry) ([]byte, error) {
	builder := NewBuilder()
	for _, entry := range entries {
		if err := builder.Add(entry.Name, entry.Data); err != nil {
			return nil, err
		}
	}
	return builder.Finalize()
}

// EntryInfo describes an entry without its payload.
type EntryInfo struct {
	Name        string
	Compression CompressionTag
	RawSize     int
	StoredSize  int
	Offset      int
}

type record struct {
	info   EntryInfo
	stored []byte
}

func parse(data []byte) ([]record, error) {
	if len(data) < headerSize {
		return nil, &FormatError{Offset: len(data), Reason: "truncated header"}
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, &FormatError{Offset: 0, Reason: "bad magic"}
	}
	if v := data[len(Magic)]; v != Version {
		return nil, &FormatError{Offset: len(Magic), Reason: fmt.Sprintf("unsupported version %d", v)}
	}
	count := int(binary.BigEndian.Uint32(data[len(Magic)+1:]))
	pos := headerSize

	// Every entry needs at least a header, so count is bounded by the input.
	if count > (len(data)-pos)/entryHeaderSize {
		return nil, &FormatError{Offset: pos, Reason: fmt.Sprintf("declared %d entries exceed remaining bytes", count)}
	}
	records := make([]record, 0, count)
	for i := 0; i < count; i++ {
		start := pos
		if len(data)-pos < 2 {
			return nil, &FormatError{Offset: pos, Reason: "truncated entry name length"}
		}
		nameLen := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		if len(data)-pos < nameLen+1+4+4 {
			return nil, &FormatError{Offset: pos, Reason: "truncated entry header"}
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		tag := CompressionTag(data[pos])
		pos++
		rawSize := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		storedSize := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if name == "" {
			return nil, &FormatError{Offset: start, Reason: "empty entry name"}
		}
		if tag > CompressionZstd {
			return nil, &FormatError{Offset: pos - 9, Reason: fmt.Sprintf("entry %q: unknown compression tag %d", name, tag)}
		}
		if rawSize > maxRawSize {
			return nil, &FormatError{Offset: pos - 8, Reason: fmt.Sprintf("entry %q: raw length %d exceeds limit", name, rawSize)}
		}
		if storedSize > len(data)-pos {
			return nil, &FormatError{Offset: pos, Reason: fmt.Sprintf("entry %q: declared length %d exceeds remaining %d bytes", name, storedSize, len(data)-pos)}
		}
		records = append(records, record{
			info: EntryInfo{
				Name:        name,
				Compression: tag,
				RawSize:     rawSize,
				StoredSize:  storedSize,
				Offset:      start,
			},
			stored: data[pos : pos+storedSize],
		})
		pos += storedSize
	}
	if pos != len(data) {
		return nil, &FormatError{Offset: pos, Reason: fmt.Sprintf("%d trailing bytes", len(data)-pos)}
	}
	return records, nil
}

// Inspect lists entry headers without decompressing payloads.
func Inspect(data []byte) ([]EntryInfo, error) {
	records, err := parse(data)
	if err != nil {
		return nil, err
	}
	infos := make([]EntryInfo, len(records))
	for i, r := range records {
		infos[i] = r.info
	}
	return infos, nil
}

// Read decodes every entry in order. Returned payloads do not alias data.
func Read(data []byte) ([]Entry, error) {
	records, err := parse(data)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		payload, err := decodePayload(r.info.Compression, r.stored, r.info.RawSize)
		if err != nil {
			return nil, &FormatError{Offset: r.info.Offset, Reason: fmt.Sprintf("entry %q: %v", r.info.Name, err)}
		}
		entries[i] = Entry{Name: r.info.Name, Data: payload}
	}
	return entries, nil
}

// Bundle is a decoded, read-only bundle.
type Bundle struct {
	entries []Entry
	index   map[string]int
}

// Decode reads data into a Bundle.
func Decode(data []byte) (*Bundle, error) {
	entries, err := Read(data)
	if err != nil {
		return nil, err
	}
	return newBundle(entries), nil
}

func newBundle(entries []Entry) *Bundle {
	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		index[entry.Name] = i
	}
	return &Bundle{entries: entries, index: index}
}

// Entries returns the entries in file order, duplicates included.
func (b *Bundle) Entries() []Entry {
	return b.entries
}

// Names returns the distinct entry names in order of their last occurrence.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.index))
	for i, entry := range b.entries {
		if b.index[entry.Name] == i {
			names = append(names, entry.Name)
		}
	}
	return names
}

// Lookup returns the payload of the last entry named name.
func (b *Bundle) Lookup(name string) ([]byte, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.entries[i].Data, true
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
