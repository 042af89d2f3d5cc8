package squashfs

// memoryMapper backs a Superblock opened from an in-memory byte slice
// (source type MEMORY): the whole archive is already resident, so
// Map is a bounds-checked re-slice with no I/O.
type memoryMapper struct {
	data []byte
}

func newMemoryMapper(data []byte) *memoryMapper {
	return &memoryMapper{data: data}
}

func (m *memoryMapper) Size() int64 { return int64(len(m.data)) }

func (m *memoryMapper) Close() error { return nil }

func (m *memoryMapper) Map(offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > int64(len(m.data)) {
		return nil, newErr(KindResource, "map", "", ErrOutOfRange)
	}
	return m.data[offset : offset+size], nil
}
