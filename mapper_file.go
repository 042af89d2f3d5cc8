package squashfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileMapper backs a Superblock opened from a local path or *os.File
// (source types PATH/FD) with a single read-only mmap of the whole
// file, so Map is just a bounds-checked re-slice of already-paged-in
// memory rather than a syscall per access.
type fileMapper struct {
	f    *os.File
	data []byte
}

func newFileMapper(f *os.File) (*fileMapper, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &fileMapper{f: f}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, newErr(KindResource, "mmap", f.Name(), ErrMapFailed)
	}
	return &fileMapper{f: f, data: data}, nil
}

// newFDMapper mirrors newFileMapper for the FD source type, where the
// caller hands us an already-open *os.File instead of a path.
func newFDMapper(f *os.File) (*fileMapper, error) {
	return newFileMapper(f)
}

func (m *fileMapper) Size() int64 { return int64(len(m.data)) }

func (m *fileMapper) Close() error {
	if m.data != nil {
		unix.Munmap(m.data)
	}
	return m.f.Close()
}

func (m *fileMapper) Map(offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > int64(len(m.data)) {
		return nil, newErr(KindResource, "map", "", ErrOutOfRange)
	}
	return m.data[offset : offset+size], nil
}
