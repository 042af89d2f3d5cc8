package squashfs

import "io"

// metablockStream provides sequential io.Reader access over a run of
// contiguous metadata blocks, the representation SquashFS uses for its
// inode table and directory table: entries are packed end to end across
// as many 8 KiB (decompressed) metablocks as needed, addressed by a
// 48-bit block offset plus a 16-bit in-block offset (an inodeRef, or the
// equivalent pair used for directory headers). This mirrors the
// teacher's tableReader/inodeReader, generalized to read across more
// than the single metablock those two assumed.
type metablockStream struct {
	sb   *Superblock
	base int64 // absolute offset of the next not-yet-fetched metablock
	buf  []byte
}

// newMetablockStream opens a stream starting at the metablock found at
// base, skipping the first innerOffset decompressed bytes of it.
func newMetablockStream(sb *Superblock, base int64, innerOffset int) (*metablockStream, error) {
	s := &metablockStream{sb: sb, base: base}
	if err := s.fetch(); err != nil {
		return nil, err
	}
	if innerOffset != 0 {
		if innerOffset > len(s.buf) {
			return nil, newErr(KindFormat, "metablockstream", "", ErrOutOfRange)
		}
		s.buf = s.buf[innerOffset:]
	}
	return s, nil
}

func (s *metablockStream) fetch() error {
	data, consumed, err := readMetablock(s.sb, s.base)
	if err != nil {
		return err
	}
	s.base += consumed
	s.buf = data
	return nil
}

// Read implements io.Reader, transparently crossing metablock
// boundaries so callers (typically encoding/binary) can decode a
// structure straddling two blocks without any special-casing.
func (s *metablockStream) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		if err := s.fetch(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// skip discards n bytes of stream content, fetching further metablocks
// as needed.
func (s *metablockStream) skip(n int) error {
	for n > 0 {
		if len(s.buf) == 0 {
			if err := s.fetch(); err != nil {
				return err
			}
		}
		k := n
		if k > len(s.buf) {
			k = len(s.buf)
		}
		s.buf = s.buf[k:]
		n -= k
	}
	return nil
}

var _ io.Reader = (*metablockStream)(nil)
