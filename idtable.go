package squashfs

// idTable resolves the uid/gid indexes stored in inodes into the actual
// 32-bit uid/gid values, SquashFS's own small indirection to keep
// repeated ids compact in the inode table.
type idTable struct {
	lt *lookupTable[uint32]
}

func (sb *Superblock) newIDTable() (*idTable, error) {
	lt, err := newLookupTable(sb, int64(sb.IdTableStart), uint32(sb.IdCount), 4, func(b []byte) uint32 {
		return sb.order.Uint32(b)
	})
	if err != nil {
		return nil, err
	}
	return &idTable{lt: lt}, nil
}

func (t *idTable) Get(idx uint16) (uint32, error) {
	return t.lt.Get(uint32(idx))
}

// resolveID maps an inode's UidIdx/GidIdx field to the actual id,
// lazily building the id table on first use.
func (sb *Superblock) resolveID(idx uint16) (uint32, error) {
	sb.idTableOnce.Do(func() {
		sb.idTable, sb.idTableErr = sb.newIDTable()
	})
	if sb.idTableErr != nil {
		return 0, sb.idTableErr
	}
	return sb.idTable.Get(idx)
}
