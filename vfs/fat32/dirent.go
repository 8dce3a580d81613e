package fat32

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/aos-project/aos-core/errors"
)

const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLFN       = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID

	direntFree    = 0xE5
	direntEnd     = 0x00
	lfnLastMarker = 0x40
	lfnCharsPer   = 13
)

// lfnByteOffsets are the byte offsets within a 32-byte LFN entry holding its
// 13 UTF-16LE code units, in on-disk order.
var lfnByteOffsets = [lfnCharsPer]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// ShortDirent is the 32-byte on-disk short (8.3) directory entry.
type ShortDirent struct {
	NameRaw        [11]byte
	Attr           uint8
	NTReserved     uint8
	CreateTimeTens uint8
	CreateTime     uint16
	CreateDate     uint16
	AccessDate     uint16
	FirstClusterHi uint16
	WriteTime      uint16
	WriteDate      uint16
	FirstClusterLo uint16
	FileSize       uint32
}

// FirstCluster returns the entry's combined first-cluster number.
func (d *ShortDirent) FirstCluster() uint32 {
	return uint32(d.FirstClusterHi)<<16 | uint32(d.FirstClusterLo)
}

// SetFirstCluster splits `cluster` across the hi/lo fields.
func (d *ShortDirent) SetFirstCluster(cluster uint32) {
	d.FirstClusterHi = uint16(cluster >> 16)
	d.FirstClusterLo = uint16(cluster & 0xFFFF)
}

// IsFree reports whether this slot is unused (either never written, or
// freed by a deletion).
func (d *ShortDirent) IsFree() bool {
	return d.NameRaw[0] == direntFree || d.NameRaw[0] == direntEnd
}

// IsEnd reports whether this slot marks the end of the directory; entries
// never appear after it.
func (d *ShortDirent) IsEnd() bool {
	return d.NameRaw[0] == direntEnd
}

// IsLFN reports whether this slot is a long-filename continuation entry
// rather than a short entry.
func (d *ShortDirent) IsLFN() bool {
	return d.Attr&AttrLFN == AttrLFN
}

// ShortName renders the raw 8.3 name field as "NAME.EXT" (or "NAME" with no
// extension), trimming padding spaces.
func (d *ShortDirent) ShortName() string {
	name := strings.TrimRight(string(d.NameRaw[0:8]), " ")
	ext := strings.TrimRight(string(d.NameRaw[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// DecodeShortDirent parses a 32-byte buffer into a ShortDirent.
func DecodeShortDirent(buf []byte) (*ShortDirent, error) {
	if len(buf) != DirentSize {
		return nil, errors.Invalid.WithMessage("directory entry must be exactly 32 bytes")
	}
	d := &ShortDirent{
		Attr:           buf[11],
		NTReserved:     buf[12],
		CreateTimeTens: buf[13],
		CreateTime:     binary.LittleEndian.Uint16(buf[14:16]),
		CreateDate:     binary.LittleEndian.Uint16(buf[16:18]),
		AccessDate:     binary.LittleEndian.Uint16(buf[18:20]),
		FirstClusterHi: binary.LittleEndian.Uint16(buf[20:22]),
		WriteTime:      binary.LittleEndian.Uint16(buf[22:24]),
		WriteDate:      binary.LittleEndian.Uint16(buf[24:26]),
		FirstClusterLo: binary.LittleEndian.Uint16(buf[26:28]),
		FileSize:       binary.LittleEndian.Uint32(buf[28:32]),
	}
	copy(d.NameRaw[:], buf[0:11])
	return d, nil
}

// EncodeShortDirent serializes a ShortDirent into a 32-byte buffer.
func EncodeShortDirent(d *ShortDirent) []byte {
	buf := make([]byte, DirentSize)
	copy(buf[0:11], d.NameRaw[:])
	buf[11] = d.Attr
	buf[12] = d.NTReserved
	buf[13] = d.CreateTimeTens
	binary.LittleEndian.PutUint16(buf[14:16], d.CreateTime)
	binary.LittleEndian.PutUint16(buf[16:18], d.CreateDate)
	binary.LittleEndian.PutUint16(buf[18:20], d.AccessDate)
	binary.LittleEndian.PutUint16(buf[20:22], d.FirstClusterHi)
	binary.LittleEndian.PutUint16(buf[22:24], d.WriteTime)
	binary.LittleEndian.PutUint16(buf[24:26], d.WriteDate)
	binary.LittleEndian.PutUint16(buf[26:28], d.FirstClusterLo)
	binary.LittleEndian.PutUint32(buf[28:32], d.FileSize)
	return buf
}

// shortNameChecksum computes the checksum LFN entries carry to cross-check
// against their associated short entry.
func shortNameChecksum(nameRaw [11]byte) uint8 {
	var sum uint8
	for _, b := range nameRaw {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// lfnEntry is one 32-byte long-filename continuation entry, decoded enough
// to extract its 13 UTF-16LE code units and sequence metadata.
type lfnEntry struct {
	sequence int
	isLast   bool
	checksum uint8
	chars    [lfnCharsPer]uint16
}

func decodeLFNEntry(buf []byte) lfnEntry {
	e := lfnEntry{
		sequence: int(buf[0] &^ lfnLastMarker),
		isLast:   buf[0]&lfnLastMarker != 0,
		checksum: buf[13],
	}
	for i, off := range lfnByteOffsets {
		e.chars[i] = binary.LittleEndian.Uint16(buf[off:])
	}
	return e
}

func encodeLFNEntry(e lfnEntry) []byte {
	buf := make([]byte, DirentSize)
	ord := uint8(e.sequence)
	if e.isLast {
		ord |= lfnLastMarker
	}
	buf[0] = ord
	buf[11] = AttrLFN
	buf[13] = e.checksum
	for i, off := range lfnByteOffsets {
		binary.LittleEndian.PutUint16(buf[off:], e.chars[i])
	}
	return buf
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// AssembleLFN reconstructs a long file name from its continuation entries,
// which are stored on disk in reverse order (highest sequence number
// first). It validates every entry's checksum against the owning short
// entry before accepting the name.
func AssembleLFN(entries [][]byte, shortNameRaw [11]byte) (string, error) {
	if len(entries) == 0 {
		return "", errors.Invalid.WithMessage("no LFN entries to assemble")
	}

	decoded := make([]lfnEntry, len(entries))
	for i, raw := range entries {
		decoded[i] = decodeLFNEntry(raw)
	}

	wantChecksum := shortNameChecksum(shortNameRaw)
	for _, e := range decoded {
		if e.checksum != wantChecksum {
			return "", errors.Invalid.WithMessage("LFN checksum does not match its short entry")
		}
	}

	units := make([]uint16, 0, len(decoded)*lfnCharsPer)
	for i := len(decoded) - 1; i >= 0; i-- {
		for _, u := range decoded[i].chars {
			if u == 0x0000 || u == 0xFFFF {
				break
			}
			units = append(units, u)
		}
	}

	encoded := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(encoded[i*2:], u)
	}

	decoder := utf16le.NewDecoder()
	name, err := decoder.Bytes(encoded)
	if err != nil {
		return "", errors.Invalid.Wrap(err)
	}
	return string(name), nil
}

// BuildLFNEntries splits `name` into the sequence of 13-code-unit LFN
// entries needed to store it, most-significant sequence number first (the
// order they are written to disk in).
func BuildLFNEntries(name string, shortNameRaw [11]byte) ([][]byte, error) {
	encoder := utf16le.NewEncoder()
	encoded, err := encoder.Bytes([]byte(name))
	if err != nil {
		return nil, errors.Invalid.Wrap(err)
	}

	units := make([]uint16, len(encoded)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(encoded[i*2:])
	}
	units = append(units, 0x0000)

	checksum := shortNameChecksum(shortNameRaw)
	entryCount := (len(units) + lfnCharsPer - 1) / lfnCharsPer

	out := make([][]byte, entryCount)
	for seq := 0; seq < entryCount; seq++ {
		var e lfnEntry
		e.sequence = seq + 1
		e.isLast = seq == entryCount-1
		e.checksum = checksum

		for i := 0; i < lfnCharsPer; i++ {
			idx := seq*lfnCharsPer + i
			if idx < len(units) {
				e.chars[i] = units[idx]
			} else {
				e.chars[i] = 0xFFFF
			}
		}
		out[entryCount-1-seq] = encodeLFNEntry(e)
	}
	return out, nil
}
