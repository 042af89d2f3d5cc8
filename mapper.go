package squashfs

import (
	"io"
	"sync"
)

// defaultCacheBlocks bounds the cachedMapper's LRU, grounded on
// keeword-go-diskfs's defaultCacheSize knob (there expressed in bytes;
// here in mapperChunk-sized blocks, since the cache is chunk-addressed
// rather than byte-addressed). 256 blocks * 32 KiB = 8 MiB.
const defaultCacheBlocks = 256

// readerAtMapper adapts an arbitrary io.ReaderAt (the New(r) entry
// point) to the mapper interface. Its Size is unknown unless r also
// implements a Size() int64 method (as *os.File does not, but some
// wrappers might).
type readerAtMapper struct {
	r io.ReaderAt
}

func (m readerAtMapper) Size() int64 {
	if s, ok := m.r.(interface{ Size() int64 }); ok {
		return s.Size()
	}
	return -1
}

func (m readerAtMapper) Close() error {
	if c, ok := m.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m readerAtMapper) Map(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(io.NewSectionReader(m.r, offset, size), buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return buf[:n], nil
		}
		return nil, err
	}
	return buf, nil
}

// mapper is the abstraction that sits between a SquashFS archive's
// logical byte offsets and whatever actually stores its bytes: a local
// file via mmap, an in-memory slice, or a remote object fetched over
// HTTP range requests. Every other component reads the archive only
// through a mapper, never through an *os.File or io.ReaderAt directly,
// so a superblock opened from a URL behaves exactly like one opened
// from a path.
type mapper interface {
	// Map returns size bytes starting at offset. The returned slice
	// must not be mutated by the caller and is only guaranteed valid
	// until the next call into the mapper.
	Map(offset, size int64) ([]byte, error)

	// Size returns the total size of the mapped source, or -1 if unknown
	// (e.g. a URL source that didn't report Content-Length).
	Size() int64

	Close() error
}

// mapperChunk bounds how much a single underlying fetch (mmap window,
// HTTP range request) ever covers, so the cache holds uniformly sized
// entries and a worst-case fragmented read never drags in the whole
// archive.
const mapperChunk = 32 * 1024

// cachedMapper wraps a mapper with an LRU of fetched chunks, grounded
// on diskfs-go-diskfs's cache-in-front-of-reader design (its
// lru_test.go). Chunk fetches are serialized by mu; once fetched, the
// returned slice is handed out without holding the lock.
type cachedMapper struct {
	mu       sync.Mutex
	backend  mapper
	cache    *lru
	size     int64
	chunkLen int64
}

func newCachedMapper(backend mapper, cacheBlocks int) *cachedMapper {
	return &cachedMapper{
		backend:  backend,
		cache:    newLRU(cacheBlocks),
		size:     backend.Size(),
		chunkLen: mapperChunk,
	}
}

func (c *cachedMapper) Size() int64 { return c.size }

func (c *cachedMapper) Close() error { return c.backend.Close() }

// SetCacheBlocks resizes the cache's capacity in-place, grounded on
// keeword-go-diskfs's SetCacheSize/GetCacheSize knobs.
func (c *cachedMapper) SetCacheBlocks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.setMaxBlocks(n)
}

func (c *cachedMapper) chunkAt(pos int64) (int64, int64) {
	start := (pos / c.chunkLen) * c.chunkLen
	end := start + c.chunkLen
	if c.size >= 0 && end > c.size {
		end = c.size
	}
	return start, end - start
}

// Map fetches offset..offset+size, spanning as many cached chunks as
// needed and assembling them into one contiguous slice when a read
// crosses a chunk boundary.
func (c *cachedMapper) Map(offset, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size <= c.chunkLen {
		start, clen := c.chunkAt(offset)
		if offset+size <= start+clen {
			chunk, err := c.fetchChunk(start, clen)
			if err != nil {
				return nil, err
			}
			lo := offset - start
			if lo+size > int64(len(chunk)) {
				return nil, newErr(KindResource, "map", "", ErrOutOfRange)
			}
			return chunk[lo : lo+size], nil
		}
	}

	out := make([]byte, size)
	got := int64(0)
	for got < size {
		pos := offset + got
		start, clen := c.chunkAt(pos)
		chunk, err := c.fetchChunk(start, clen)
		if err != nil {
			return nil, err
		}
		lo := pos - start
		if lo >= int64(len(chunk)) {
			return nil, newErr(KindResource, "map", "", ErrOutOfRange)
		}
		n := int64(copy(out[got:], chunk[lo:]))
		if n == 0 {
			return nil, newErr(KindResource, "map", "", ErrOutOfRange)
		}
		got += n
	}
	return out, nil
}

func (c *cachedMapper) fetchChunk(start, clen int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _, err := c.cache.get(start, func() ([]byte, uint16, error) {
		buf, err := c.backend.Map(start, clen)
		if err != nil {
			return nil, 0, err
		}
		if int64(len(buf)) != clen {
			// keep a copy: backends may reuse buffers across calls
			cp := make([]byte, len(buf))
			copy(cp, buf)
			buf = cp
		}
		return buf, uint16(len(buf)), nil
	})
	return data, err
}
