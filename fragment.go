package squashfs

// fragmentEntry is one 16-byte record of the fragment table: the start
// offset of a fragment block on disk, its on-disk size (bit 24 marks
// "not compressed", mirroring data block size fields), and a reserved
// field the format carries for alignment.
type fragmentEntry struct {
	start  uint64
	size   uint32
	unused uint32
}

func fragmentEntryDecoder(sb *Superblock) func([]byte) fragmentEntry {
	return func(b []byte) fragmentEntry {
		return fragmentEntry{
			start:  sb.order.Uint64(b[0:8]),
			size:   sb.order.Uint32(b[8:12]),
			unused: sb.order.Uint32(b[12:16]),
		}
	}
}

// fragmentTable resolves a basic/extended file's fragment_block_index
// into the decompressed tail bytes of its shared fragment block,
// grounded on the teacher's inlined fragment lookup in inode.go's
// Inode.ReadAt, pulled out into its own component per the archive's
// fragment table abstraction.
type fragmentTable struct {
	lt *lookupTable[fragmentEntry]
}

func (sb *Superblock) newFragmentTable() (*fragmentTable, error) {
	if !sb.Flags.HasFragments() && sb.FragCount == 0 {
		return nil, newErr(KindAbsence, "fragmenttable", "", ErrNoFragmentTable)
	}
	lt, err := newLookupTable(sb, int64(sb.FragTableStart), sb.FragCount, 16, fragmentEntryDecoder(sb))
	if err != nil {
		return nil, err
	}
	return &fragmentTable{lt: lt}, nil
}

// Block fetches and decompresses the fragmentIndex-th fragment block in
// full; callers slice out the bytes for one file's tail from fragOfft.
func (ft *fragmentTable) Block(sb *Superblock, fragmentIndex uint32) ([]byte, error) {
	ent, err := ft.lt.Get(fragmentIndex)
	if err != nil {
		return nil, err
	}

	const notCompressed = 1 << 24
	raw := ent.size&notCompressed != 0
	size := int64(ent.size &^ notCompressed)

	buf, err := sb.mapAt(int64(ent.start), size)
	if err != nil {
		return nil, err
	}
	if raw {
		return buf, nil
	}

	dst := make([]byte, sb.BlockSize)
	out, err := sb.Comp.decompress(dst, buf)
	if err != nil {
		return nil, err
	}
	return out, nil
}
