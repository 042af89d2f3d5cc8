package squashfs

// lookupTable implements the two-level indirection SquashFS uses for its
// id, export and fragment tables (and, wrapped by xattrIdTable, the
// xattr id table too): a flat, uncompressed array of 64-bit metablock
// offsets sits at indexStart, one per metablockMaxSize/entrySize
// entries; each of those metablocks holds fixed-size entrySize records,
// decoded with decode.
//
// Declared generic over the decoded entry type so the three on-disk
// layouts (uint32 ids, 8-byte inode refs, 16-byte fragment/xattr
// records) share one fetch-and-cache implementation.
type lookupTable[T any] struct {
	sb         *Superblock
	indexStart int64
	entrySize  int
	count      uint32
	decode     func([]byte) T

	blockPtrs []int64
}

func newLookupTable[T any](sb *Superblock, indexStart int64, count uint32, entrySize int, decode func([]byte) T) (*lookupTable[T], error) {
	entriesPerBlock := metablockMaxSize / entrySize
	numBlocks := int((count + uint32(entriesPerBlock) - 1) / uint32(entriesPerBlock))

	lt := &lookupTable[T]{
		sb:         sb,
		indexStart: indexStart,
		entrySize:  entrySize,
		count:      count,
		decode:     decode,
		blockPtrs:  make([]int64, numBlocks),
	}

	if numBlocks > 0 {
		raw, err := sb.mapAt(indexStart, int64(numBlocks)*8)
		if err != nil {
			return nil, err
		}
		for i := 0; i < numBlocks; i++ {
			lt.blockPtrs[i] = int64(sb.order.Uint64(raw[i*8 : i*8+8]))
		}
	}

	return lt, nil
}

// Get decodes and returns the idx-th entry.
func (lt *lookupTable[T]) Get(idx uint32) (T, error) {
	var zero T
	if idx >= lt.count {
		return zero, newErr(KindResource, "table", "", ErrOutOfRange)
	}

	entriesPerBlock := metablockMaxSize / lt.entrySize
	block := int(idx) / entriesPerBlock
	inner := (int(idx) % entriesPerBlock) * lt.entrySize

	data, _, err := readMetablock(lt.sb, lt.blockPtrs[block])
	if err != nil {
		return zero, err
	}
	if inner+lt.entrySize > len(data) {
		return zero, newErr(KindFormat, "table", "", ErrOutOfRange)
	}

	return lt.decode(data[inner : inner+lt.entrySize]), nil
}
