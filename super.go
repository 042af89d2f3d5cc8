package squashfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sync"
)

// Superblock is both the decoded 96-byte SquashFS header and, once
// opened via Open/New, the archive façade: it satisfies fs.FS (and the
// fs.StatFS/fs.ReadDirFS/fs.SubFS extensions), and every other
// component (inode decoder, directory iterator, tables) hangs off it.
// https://dr-emann.github.io/squashfs/
type Superblock struct {
	mapper mapper
	order  binary.ByteOrder

	Magic             uint32
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              Compression
	BlockLog          uint16
	Flags             Flags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64

	inoOfft  uint64 // public inode-number offset, for FUSE mounts of multiple images
	rootInoN uint64 // inode number of the root inode, as read from the root inode itself

	rootIno *Inode

	inoIdx  map[uint32]inodeRef
	inoIdxL sync.RWMutex

	idTable     *idTable
	idTableOnce sync.Once
	idTableErr  error

	fragTable     *fragmentTable
	fragTableOnce sync.Once
	fragTableErr  error

	xattrTable     *xattrIdTable
	xattrTableOnce sync.Once
	xattrTableErr  error

	exportTable     *lookupTable[inodeRef]
	exportTableOnce sync.Once
	exportTableErr  error
}

// maxSymlinkDepth bounds path resolution recursion through symlinks,
// mirroring the teacher's own ErrTooManySymlinks guard.
const maxSymlinkDepth = 40

// New opens a SquashFS archive backed by an arbitrary io.ReaderAt,
// wrapping it in a cached mapper so every subsequent read goes through
// the same bounded LRU regardless of source.
func New(r io.ReaderAt, opts ...Option) (*Superblock, error) {
	return open(readerAtMapper{r: r}, opts...)
}

// Open opens a SquashFS archive stored at path on the local filesystem.
func Open(path string, opts ...Option) (*Superblock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := newFileMapper(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return open(m, opts...)
}

// OpenFD opens a SquashFS archive from an already-open *os.File
// (source type FD), useful when the caller inherited the descriptor
// rather than a path (e.g. from a parent process or a container
// runtime).
func OpenFD(f *os.File, opts ...Option) (*Superblock, error) {
	m, err := newFDMapper(f)
	if err != nil {
		return nil, err
	}
	return open(m, opts...)
}

// OpenMemory opens a SquashFS archive already fully resident in
// memory (source type MEMORY).
func OpenMemory(data []byte, opts ...Option) (*Superblock, error) {
	return open(newMemoryMapper(data), opts...)
}

// OpenURL opens a SquashFS archive served over HTTP(S) via Range
// requests (source type URL), without downloading it up front.
func OpenURL(url string, opts ...Option) (*Superblock, error) {
	m, err := newURLMapper(url)
	if err != nil {
		return nil, err
	}
	return open(m, opts...)
}

func open(m mapper, opts ...Option) (*Superblock, error) {
	sb := &Superblock{
		mapper: newCachedMapper(m, defaultCacheBlocks),
		inoIdx: make(map[uint32]inodeRef),
	}

	for _, o := range opts {
		if err := o(sb); err != nil {
			return nil, err
		}
	}

	head, err := sb.mapAt(0, int64(sb.binarySize()))
	if err != nil {
		return nil, err
	}

	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}

	rootIno, err := sb.GetInodeRef(inodeRef(sb.RootInode))
	if err != nil {
		return nil, err
	}
	sb.rootIno = rootIno
	sb.rootInoN = uint64(rootIno.Ino)
	sb.inoIdx[rootIno.Ino] = inodeRef(sb.RootInode)

	return sb, nil
}

// setInodeRefCache records the inodeRef backing a freshly resolved
// public inode number, so a later lookup by number (FUSE's NodeId path)
// skips the export table.
func (sb *Superblock) setInodeRefCache(ino uint32, ref inodeRef) {
	sb.inoIdxL.Lock()
	sb.inoIdx[ino] = ref
	sb.inoIdxL.Unlock()
}

// mapAt is the single entry point every other component uses to read
// archive bytes, going through the cached mapper rather than any raw
// io.ReaderAt.
func (sb *Superblock) mapAt(offset, size int64) ([]byte, error) {
	return sb.mapper.Map(offset, size)
}

// Close releases the underlying mapper (unmapping and closing a local
// file, or closing an io.ReaderAt that is also an io.Closer; for
// in-memory and URL sources it does nothing).
func (sb *Superblock) Close() error {
	return sb.mapper.Close()
}

func (s *Superblock) UnmarshalBinary(data []byte) error {
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	r := bytes.NewReader(data)

	switch string(data[:4]) {
	case "hsqs":
		s.order = binary.LittleEndian
	case "sqsh":
		s.order = binary.BigEndian
	default:
		return newErr(KindFormat, "unmarshal", "", ErrInvalidFile)
	}

	var err error
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		c := name[0]
		if c < 'A' || c > 'Z' {
			continue
		}
		err = binary.Read(r, s.order, v.Field(i).Addr().Interface())
		if err != nil {
			return err
		}
	}

	if s.Magic != 0x73717368 {
		return newErr(KindFormat, "unmarshal", "", ErrInvalidFile)
	}
	if s.VMajor != 4 {
		return newErr(KindFormat, "unmarshal", "", ErrInvalidVersion)
	}
	if s.BlockSize == 0 || uint32(1)<<s.BlockLog != s.BlockSize {
		return newErr(KindFormat, "unmarshal", "", ErrInvalidSuper)
	}

	return nil
}

func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	sz := uintptr(0)

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		c := name[0]
		if c < 'A' || c > 'Z' {
			continue
		}
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// --- façade: fs.FS and friends ---

var (
	_ fs.FS        = (*Superblock)(nil)
	_ fs.StatFS    = (*Superblock)(nil)
	_ fs.ReadDirFS = (*Superblock)(nil)
	_ fs.SubFS     = (*Superblock)(nil)
)

// FindInode resolves name to its Inode. When lstat is true, the last
// path component is not followed if it is a symlink.
func (sb *Superblock) FindInode(name string, lstat bool) (*Inode, error) {
	ino, err := sb.resolvePath(context.TODO(), name)
	if err != nil {
		return nil, &fs.PathError{Op: "find", Path: name, Err: unwrapErr(err)}
	}

	depth := 0
	for !lstat && (ino.Type == 3 || ino.Type == 10) {
		depth++
		if depth > maxSymlinkDepth {
			return nil, &fs.PathError{Op: "find", Path: name, Err: ErrTooManySymlinks}
		}
		target, err := ino.Readlink()
		if err != nil {
			return nil, err
		}
		ino, err = sb.resolvePath(context.TODO(), string(target))
		if err != nil {
			return nil, &fs.PathError{Op: "find", Path: name, Err: unwrapErr(err)}
		}
	}

	return ino, nil
}

func unwrapErr(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Err
	}
	return err
}

// Open implements fs.FS.
func (sb *Superblock) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, err
	}
	return ino.OpenFile(name), nil
}

// Stat implements fs.StatFS, following a trailing symlink.
func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: baseName(name), ino: ino}, nil
}

// Lstat returns file info for name without following a trailing
// symlink.
func (sb *Superblock) Lstat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: baseName(name), ino: ino}, nil
}

// ReadDir implements fs.ReadDirFS.
func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}
	dr, err := sb.dirReader(ino, nil)
	if err != nil {
		return nil, err
	}
	return dr.ReadDir(-1)
}

// Sub implements fs.SubFS.
func (sb *Superblock) Sub(dir string) (fs.FS, error) {
	ino, err := sb.FindInode(dir, false)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "sub", Path: dir, Err: ErrNotDirectory}
	}
	return &subFS{sb: sb, root: dir}, nil
}

// subFS implements fs.FS rooted at an arbitrary directory inode,
// backing Superblock.Sub.
type subFS struct {
	sb   *Superblock
	root string
}

func (s *subFS) Open(name string) (fs.File, error) {
	return s.sb.Open(joinSub(s.root, name))
}

func joinSub(root, name string) string {
	if name == "." {
		return root
	}
	return root + "/" + name
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
