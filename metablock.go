package squashfs

// metablockMaxSize is the maximum number of decompressed bytes a single
// SquashFS metadata block may hold.
const metablockMaxSize = 8192

// readMetablock fetches and, if needed, decompresses the metadata block
// starting at the given absolute offset. It returns the decompressed
// payload and the number of on-disk bytes consumed (2 header bytes plus
// the compressed/raw payload), so callers addressing a flat run of
// metablocks (the inode and directory tables) can step to the next one.
func readMetablock(sb *Superblock, offset int64) (data []byte, consumed int64, err error) {
	hdr, err := sb.mapAt(offset, 2)
	if err != nil {
		return nil, 0, err
	}
	lenN := sb.order.Uint16(hdr)
	raw := lenN&0x8000 != 0
	lenN &= 0x7fff

	if lenN > metablockMaxSize {
		return nil, 0, newErr(KindFormat, "metablock", "", ErrMetablockTooBig)
	}

	body, err := sb.mapAt(offset+2, int64(lenN))
	if err != nil {
		return nil, 0, err
	}

	if raw {
		cp := make([]byte, len(body))
		copy(cp, body)
		return cp, 2 + int64(lenN), nil
	}

	dst := make([]byte, metablockMaxSize)
	out, err := sb.Comp.decompress(dst, body)
	if err != nil {
		return nil, 0, err
	}
	return out, 2 + int64(lenN), nil
}
