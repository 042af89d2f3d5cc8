package squashfs

import (
	"context"
	"encoding/binary"
	"io"
	"io/fs"
	"log"
	"strings"
	"sync/atomic"
)

type Inode struct {
	// refcnt is first value to get guaranteed 64bits alignment, if not sync/atomic will panic
	refcnt uint64 // for fuse

	sb *Superblock

	Type    uint16
	Perm    uint16
	UidIdx  uint16
	GidIdx  uint16
	ModTime int32
	Ino     uint32 // inode number

	StartBlock uint64
	NLink      uint32
	Size       uint64 // Careful, actual on disk size varies depending on type
	Offset     uint32 // uint16 for directories
	ParentIno  uint32 // for directories
	SymTarget  []byte // The target path this symlink points to
	IdxCount   uint16 // index count for advanced directories
	DirIndex   []DirIndexEntry
	XattrIdx   uint32 // xattr table index (if relevant)
	Sparse     uint64

	// fragment
	FragBlock uint32
	FragOfft  uint32

	// device (block/char), basic and extended
	Rdev uint32

	// file blocks (some have value 0x1001000)
	Blocks     []uint32
	BlocksOfft []uint64
}

const invalidFragBlock = 0xffffffff

// GetInode resolves an inode by its public (NFS export / fs.FS-visible)
// number, using the cached index built up while walking directories
// and, failing that, the export table.
func (sb *Superblock) GetInode(ino uint64) (*Inode, error) {
	if ino == 1 {
		// get root inode
		return sb.rootIno, nil
	}
	if ino == sb.rootInoN {
		// we reverse
		ino = 1
	}

	// check index
	sb.inoIdxL.RLock()
	inor, ok := sb.inoIdx[uint32(ino)]
	sb.inoIdxL.RUnlock()
	if ok {
		return sb.GetInodeRef(inor)
	}

	inor, err := sb.lookupExport(uint32(ino))
	if err != nil {
		return nil, newErr(KindAbsence, "getinode", "", ErrInodeNotExported)
	}
	return sb.GetInodeRef(inor)
}

// lookupExport resolves a public inode number to its inodeRef via the
// NFS export table, present only when the archive was built with
// -exportable.
func (sb *Superblock) lookupExport(ino uint32) (inodeRef, error) {
	sb.exportTableOnce.Do(func() {
		if !sb.Flags.HasExportTable() || sb.ExportTableStart == 0 || sb.ExportTableStart == ^uint64(0) {
			sb.exportTableErr = newErr(KindAbsence, "exporttable", "", ErrNoExportTable)
			return
		}
		sb.exportTable, sb.exportTableErr = newLookupTable(sb, int64(sb.ExportTableStart), sb.InodeCnt, 8, func(b []byte) inodeRef {
			return inodeRef(sb.order.Uint64(b))
		})
	})
	if sb.exportTableErr != nil {
		return 0, sb.exportTableErr
	}
	if ino == 0 {
		return 0, newErr(KindResource, "exporttable", "", ErrOutOfRange)
	}
	return sb.exportTable.Get(ino - 1)
}

func (sb *Superblock) GetInodeRef(inor inodeRef) (*Inode, error) {
	r, err := newMetablockStream(sb, int64(sb.InodeTableStart)+int64(inor.Index()), int(inor.Offset()))
	if err != nil {
		return nil, err
	}

	ino := &Inode{sb: sb}

	// read inode info
	err = binary.Read(r, sb.order, &ino.Type)
	if err != nil {
		return nil, err
	}
	err = binary.Read(r, sb.order, &ino.Perm)
	if err != nil {
		return nil, err
	}
	err = binary.Read(r, sb.order, &ino.UidIdx)
	if err != nil {
		return nil, err
	}
	err = binary.Read(r, sb.order, &ino.GidIdx)
	if err != nil {
		return nil, err
	}
	err = binary.Read(r, sb.order, &ino.ModTime)
	if err != nil {
		return nil, err
	}
	err = binary.Read(r, sb.order, &ino.Ino)
	if err != nil {
		return nil, err
	}

	switch ino.Type {
	case 1: // Basic Directory
		var u32 uint32
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)

		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}

		var u16 uint16
		if err := binary.Read(r, sb.order, &u16); err != nil {
			return nil, err
		}
		ino.Size = uint64(u16)

		if err := binary.Read(r, sb.order, &u16); err != nil {
			return nil, err
		}
		ino.Offset = uint32(u16)

		if err := binary.Read(r, sb.order, &ino.ParentIno); err != nil {
			return nil, err
		}
		ino.XattrIdx = invalidXattrIndex

	case 8: // Extended dir
		var u32 uint32
		var u16 uint16

		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		ino.Size = uint64(u32)
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)
		if err := binary.Read(r, sb.order, &ino.ParentIno); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.IdxCount); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &u16); err != nil {
			return nil, err
		}
		ino.Offset = uint32(u16)
		if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
			return nil, err
		}

		if ino.IdxCount > 0 {
			idx, err := readDirIndex(r, sb.order, int(ino.IdxCount))
			if err != nil {
				return nil, err
			}
			ino.DirIndex = idx
		}

	case 2: // Basic file
		var u32 uint32
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)

		if err := binary.Read(r, sb.order, &ino.FragBlock); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.FragOfft); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		ino.Size = uint64(u32)
		ino.XattrIdx = invalidXattrIndex

		if err := ino.readBlockList(r); err != nil {
			return nil, err
		}

	case 9: // extended file
		if err := binary.Read(r, sb.order, &ino.StartBlock); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.Size); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.Sparse); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.FragBlock); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.FragOfft); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
			return nil, err
		}

		if err := ino.readBlockList(r); err != nil {
			return nil, err
		}

	case 3: // basic symlink
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}

		var u32 uint32
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		if u32 > 4096 {
			return nil, newErr(KindFormat, "getinoderef", "", ErrInvalidSuper)
		}
		ino.Size = uint64(u32)
		ino.XattrIdx = invalidXattrIndex

		buf := make([]byte, u32)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		ino.SymTarget = buf

	case 10: // extended symlink
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		var u32 uint32
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return nil, err
		}
		if u32 > 4096 {
			return nil, newErr(KindFormat, "getinoderef", "", ErrInvalidSuper)
		}
		ino.Size = uint64(u32)
		buf := make([]byte, u32)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		ino.SymTarget = buf
		if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
			return nil, err
		}

	case 4, 5: // basic block/char device
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.Rdev); err != nil {
			return nil, err
		}
		ino.XattrIdx = invalidXattrIndex

	case 11, 12: // extended block/char device
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.Rdev); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
			return nil, err
		}

	case 6, 7: // basic fifo/socket
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		ino.XattrIdx = invalidXattrIndex

	case 13, 14: // extended fifo/socket
		if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
			return nil, err
		}
		if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
			return nil, err
		}

	default:
		log.Printf("squashfs: unsupported inode type %d", ino.Type)
		return ino, nil
	}

	return ino, nil
}

// readDirIndex decodes an extended directory's index array: count
// entries, each naming the first directory entry of a later directory
// header and where that header starts, letting LookupRelativeInode
// (through selectDirIndex) start its linear scan at a later header
// instead of at the beginning of a large directory.
func readDirIndex(r io.Reader, order binary.ByteOrder, count int) ([]DirIndexEntry, error) {
	out := make([]DirIndexEntry, count)
	for i := 0; i < count; i++ {
		var index, start, nameSize uint32
		if err := binary.Read(r, order, &index); err != nil {
			return nil, err
		}
		if err := binary.Read(r, order, &start); err != nil {
			return nil, err
		}
		if err := binary.Read(r, order, &nameSize); err != nil {
			return nil, err
		}
		name := make([]byte, nameSize+1)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		out[i] = DirIndexEntry{Index: index, Start: start, Name: string(name)}
	}
	return out, nil
}

// readBlockList decodes a file inode's block-size table, shared by the
// basic and extended file variants.
func (ino *Inode) readBlockList(r io.Reader) error {
	sb := ino.sb
	blocks := int(ino.Size / uint64(sb.BlockSize))
	if ino.FragBlock == invalidFragBlock {
		if ino.Size%uint64(sb.BlockSize) != 0 {
			blocks++
		}
	}

	ino.Blocks = make([]uint32, blocks)
	ino.BlocksOfft = make([]uint64, blocks)

	offt := uint64(0)
	var u32 uint32
	for i := 0; i < blocks; i++ {
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return err
		}
		ino.Blocks[i] = u32
		ino.BlocksOfft[i] = offt
		offt += uint64(u32) & 0xffffff // low 24 bits: on-disk size (bit 24 is the uncompressed flag)
	}

	if ino.FragBlock != invalidFragBlock {
		ino.Blocks = append(ino.Blocks, invalidFragBlock) // special code
	}
	return nil
}

// GetUid resolves this inode's owning user id through the archive's id
// table.
func (i *Inode) GetUid() uint32 {
	uid, err := i.sb.resolveID(i.UidIdx)
	if err != nil {
		return 0
	}
	return uid
}

// GetGid resolves this inode's owning group id through the archive's
// id table.
func (i *Inode) GetGid() uint32 {
	gid, err := i.sb.resolveID(i.GidIdx)
	if err != nil {
		return 0
	}
	return gid
}

// Xattrs returns this inode's extended attributes, or nil if it has
// none.
func (i *Inode) Xattrs() ([]Xattr, error) {
	if i.XattrIdx == invalidXattrIndex {
		return nil, nil
	}
	i.sb.xattrTableOnce.Do(func() {
		i.sb.xattrTable, i.sb.xattrTableErr = i.sb.newXattrIDTable()
	})
	if i.sb.xattrTableErr != nil {
		return nil, i.sb.xattrTableErr
	}
	return i.sb.xattrTable.Xattrs(i.XattrIdx)
}

func (i *Inode) fragmentTable() (*fragmentTable, error) {
	i.sb.fragTableOnce.Do(func() {
		i.sb.fragTable, i.sb.fragTableErr = i.sb.newFragmentTable()
	})
	return i.sb.fragTable, i.sb.fragTableErr
}

func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	switch i.Type {
	case 2, 9: // Basic/extended file
		if uint64(off) >= i.Size {
			return 0, io.EOF
		}

		if uint64(off+int64(len(p))) > i.Size {
			p = p[:int64(i.Size)-off]
		}

		block := int(off / int64(i.sb.BlockSize))
		offset := int(off % int64(i.sb.BlockSize))
		n := 0

		for {
			var buf []byte

			if i.Blocks[block] == invalidFragBlock {
				ft, err := i.fragmentTable()
				if err != nil {
					return n, err
				}
				buf, err = ft.Block(i.sb, i.FragBlock)
				if err != nil {
					return n, err
				}
				if i.FragOfft != 0 {
					buf = buf[i.FragOfft:]
				}
			} else if i.Blocks[block] == 0 {
				// this part of the file contains only zeroes
				buf = make([]byte, i.sb.BlockSize)
			} else {
				raw := i.Blocks[block]&0x1000000 != 0
				size := int64(i.Blocks[block] & 0xffffff)
				src, err := i.sb.mapAt(int64(i.StartBlock+i.BlocksOfft[block]), size)
				if err != nil {
					return n, err
				}

				if raw {
					buf = src
				} else {
					dst := make([]byte, i.sb.BlockSize)
					buf, err = i.sb.Comp.decompress(dst, src)
					if err != nil {
						return n, err
					}
				}
			}

			if offset > 0 {
				buf = buf[offset:]
			}

			l := copy(p, buf)
			n += l
			if l == len(p) {
				return n, nil
			}

			p = p[l:]
			block++
			offset = 0
		}
	}
	return 0, fs.ErrInvalid
}

// selectDirIndex picks the last index entry whose name does not sort
// after name, so the directory reader can start there instead of at
// the beginning. Index entry names may be stored truncated to however
// many bytes the writer chose to index on, so the comparison is done
// over MIN(len(entry name), len(name)+1) bytes, matching
// strncmp(name, index_name, SQSH_MIN(index_name_size, name_len + 1))
// in _examples/original_source/src/directory/directory_iterator.c. The
// +1 lets the comparison see one byte past name's end -- mirroring the
// NUL terminator strncmp relies on in C -- so an index name that is a
// strict superstring of name (e.g. "file_1024" indexing past target
// "file_1") compares as greater instead of merely equal, and is
// correctly left unselected rather than skipped past.
func selectDirIndex(idx []DirIndexEntry, name string) *DirIndexEntry {
	var best *DirIndexEntry
	for k := range idx {
		e := &idx[k]
		l := len(e.Name)
		if l > len(name)+1 {
			l = len(name) + 1
		}
		if dirIndexNameGreater(e.Name, name, l) {
			break
		}
		best = e
	}
	return best
}

// dirIndexNameGreater reports whether indexName's first n bytes sort
// after name's, treating name as implicitly NUL-terminated at its own
// length once n runs past it (n never runs past indexName, since the
// caller bounds n by len(indexName)).
func dirIndexNameGreater(indexName, name string, n int) bool {
	for k := 0; k < n; k++ {
		var nb byte
		if k < len(name) {
			nb = name[k]
		}
		if indexName[k] != nb {
			return indexName[k] > nb
		}
	}
	return false
}

func (i *Inode) LookupRelativeInode(ctx context.Context, name string) (*Inode, error) {
	switch i.Type {
	case 1, 8:
		var seek *DirIndexEntry
		if i.Type == 8 && len(i.DirIndex) > 0 {
			seek = selectDirIndex(i.DirIndex, name)
		}
		dr, err := i.sb.dirReader(i, seek)
		if err != nil {
			return nil, err
		}
		for {
			ename, inoR, err := dr.next()
			if err != nil {
				if err == io.EOF {
					return nil, fs.ErrNotExist
				}
				return nil, err
			}

			if name == ename {
				found, err := i.sb.GetInodeRef(inoR)
				if err != nil {
					return nil, err
				}
				i.sb.inoIdxL.Lock()
				i.sb.inoIdx[found.Ino] = inoR
				i.sb.inoIdxL.Unlock()
				return found, nil
			}
		}
	}
	return nil, fs.ErrInvalid
}

// LookupRelativeInodePath is like LookupRelativeInode but handles
// slashes in name, resolving "." and ".." without ever treating them
// as directory entries: ".." pops the most recently visited ancestor
// off a stack seeded with i, never going above it, the same
// inode-ref-stack approach resolvePath uses.
func (i *Inode) LookupRelativeInodePath(ctx context.Context, name string) (*Inode, error) {
	cur := i
	stack := []*Inode{cur}

	for {
		if len(name) == 0 {
			// trailing slash?
			return cur, nil
		}
		pos := strings.IndexByte(name, '/')
		var part string
		if pos == -1 {
			part = name
			name = ""
		} else {
			part = name[:pos]
			name = name[pos+1:]
		}

		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			cur = stack[len(stack)-1]
			continue
		}

		t, err := cur.LookupRelativeInode(ctx, part)
		if err != nil {
			return nil, err
		}
		cur = t
		stack = append(stack, cur)

		if pos == -1 {
			return cur, nil
		}
	}
}

func (i *Inode) Mode() fs.FileMode {
	return UnixToMode(uint32(i.Perm)) | squashfsTypeToMode(i.Type)
}

func squashfsTypeToMode(t uint16) fs.FileMode {
	return Type(t).Mode()
}

func (i *Inode) IsDir() bool {
	switch i.Type {
	case 1, 8:
		return true
	}
	return false
}

func (i *Inode) Readlink() ([]byte, error) {
	switch i.Type {
	case 3, 10:
		return i.SymTarget, nil
	}
	return nil, fs.ErrInvalid
}

func (i *Inode) AddRef(count uint64) uint64 {
	return atomic.AddUint64(&i.refcnt, count)
}

func (i *Inode) DelRef(count uint64) uint64 {
	return atomic.AddUint64(&i.refcnt, ^(count - 1))
}
