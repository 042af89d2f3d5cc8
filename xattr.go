package squashfs

import (
	"encoding/binary"
	"io"
)

// Xattr prefix ids, matching SquashFS's small fixed namespace table.
const (
	XattrTypeUser = iota
	XattrTypeTrusted
	XattrTypeSecurity
)

// xattrOOL marks, ORed into an entry's stored type, that the value is
// not inline but a reference into the xattr value table.
const xattrOOL = 0x0100

var xattrPrefix = map[int]string{
	XattrTypeUser:     "user.",
	XattrTypeTrusted:  "trusted.",
	XattrTypeSecurity: "security.",
}

// Xattr is one decoded extended attribute: a namespace-prefixed name
// and its value.
type Xattr struct {
	Type     uint16
	FullName string
	Value    []byte
}

// xattrIdEntry is the 16-byte record the xattr id table holds per
// distinct xattr set: a metablock-stream reference into the xattr
// table where the set's entries start, how many entries it has, and
// their total encoded size.
type xattrIdEntry struct {
	ref   uint64
	count uint32
	size  uint32
}

func xattrIdEntryDecoder(sb *Superblock) func([]byte) xattrIdEntry {
	return func(b []byte) xattrIdEntry {
		return xattrIdEntry{
			ref:   sb.order.Uint64(b[0:8]),
			count: sb.order.Uint32(b[8:12]),
			size:  sb.order.Uint32(b[12:16]),
		}
	}
}

// xattrIdTable is the id-table indirection in front of the xattr
// table: xattrIdx (stored on an Inode) is an index into this table, not
// a direct reference, so repeated xattr sets across many inodes share
// one copy.
type xattrIdTable struct {
	sb              *Superblock
	xattrTableStart int64
	lt              *lookupTable[xattrIdEntry]
}

const invalidXattrIndex = 0xffffffff

func (sb *Superblock) newXattrIDTable() (*xattrIdTable, error) {
	if sb.XattrIdTableStart == 0 || sb.XattrIdTableStart == ^uint64(0) {
		return nil, newErr(KindAbsence, "xattrtable", "", ErrNoXattrTable)
	}

	hdr, err := sb.mapAt(int64(sb.XattrIdTableStart), 16)
	if err != nil {
		return nil, err
	}
	xattrTableStart := sb.order.Uint64(hdr[0:8])
	count := sb.order.Uint32(hdr[8:12])

	lt, err := newLookupTable(sb, int64(sb.XattrIdTableStart)+16, count, 16, xattrIdEntryDecoder(sb))
	if err != nil {
		return nil, err
	}

	return &xattrIdTable{sb: sb, xattrTableStart: int64(xattrTableStart), lt: lt}, nil
}

// Xattrs returns every extended attribute attached to the inode whose
// XattrIdx is xid, resolving out-of-line values transparently.
func (xt *xattrIdTable) Xattrs(xid uint32) ([]Xattr, error) {
	if xid == invalidXattrIndex {
		return nil, nil
	}

	id, err := xt.lt.Get(xid)
	if err != nil {
		return nil, err
	}

	base := xt.xattrTableStart + int64(id.ref>>16)
	stream, err := newMetablockStream(xt.sb, base, int(id.ref&0xffff))
	if err != nil {
		return nil, err
	}

	out := make([]Xattr, 0, id.count)
	for i := uint32(0); i < id.count; i++ {
		var typ, nameSize uint16
		if err := readUint16(stream, xt.sb.order, &typ); err != nil {
			return nil, err
		}
		if err := readUint16(stream, xt.sb.order, &nameSize); err != nil {
			return nil, err
		}
		name := make([]byte, nameSize)
		if _, err := io.ReadFull(stream, name); err != nil {
			return nil, err
		}

		var val []byte
		if typ&xattrOOL != 0 {
			var ref uint64
			if err := readUint64(stream, xt.sb.order, &ref); err != nil {
				return nil, err
			}
			ool, err := newMetablockStream(xt.sb, xt.xattrTableStart+int64(ref>>16), int(ref&0xffff))
			if err != nil {
				return nil, err
			}
			var valSize uint32
			if err := readUint32(ool, xt.sb.order, &valSize); err != nil {
				return nil, err
			}
			val = make([]byte, valSize)
			if _, err := io.ReadFull(ool, val); err != nil {
				return nil, err
			}
		} else {
			var valSize uint32
			if err := readUint32(stream, xt.sb.order, &valSize); err != nil {
				return nil, err
			}
			val = make([]byte, valSize)
			if _, err := io.ReadFull(stream, val); err != nil {
				return nil, err
			}
		}

		realType := typ &^ xattrOOL
		out = append(out, Xattr{
			Type:     realType,
			FullName: xattrPrefix[int(realType)] + string(name),
			Value:    val,
		})
	}

	return out, nil
}

func readUint16(r io.Reader, order binary.ByteOrder, v *uint16) error {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = order.Uint16(b[:])
	return nil
}

func readUint32(r io.Reader, order binary.ByteOrder, v *uint32) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = order.Uint32(b[:])
	return nil
}

func readUint64(r io.Reader, order binary.ByteOrder, v *uint64) error {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = order.Uint64(b[:])
	return nil
}
