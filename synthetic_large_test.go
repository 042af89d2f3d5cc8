package squashfs_test

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"testing"

	"github.com/sqfsgo/squashfs"
)

// buildIndexedDir splits entries into one or more directory-table
// metablocks, filling every block but the last to exactly 8192
// decompressed bytes (the real format's constraint that a writer fills
// a metadata block before starting the next one) by appending a
// synthetic filler entry where needed. It returns each block's raw
// bytes alongside the cumulative byte offset and entries-index its
// first real entry falls at, so the caller can build one DirIndexEntry
// per block boundary.
func buildIndexedDir(entries []dirEntry, fillerInner uint16) (blocks [][]byte, byteOffsets []int, entryIdx []int) {
	const metaBlockSize = 8192
	const headerSize = 12
	const entryFixed = 8

	i := 0
	logical := 0
	for i < len(entries) {
		byteOffsets = append(byteOffsets, logical)
		entryIdx = append(entryIdx, i)

		n := 0
		size := headerSize
		for i+n < len(entries) {
			need := entryFixed + len(entries[i+n].name)
			if size+need > metaBlockSize {
				break
			}
			size += need
			n++
		}
		isLast := i+n >= len(entries)

		filler := 0
		if !isLast && size < metaBlockSize {
			filler = metaBlockSize - size
			if filler < entryFixed+1 {
				// back off one entry to leave room for a valid filler name
				n--
				size -= entryFixed + len(entries[i+n].name)
				filler = metaBlockSize - size
			}
		}

		count := n
		if filler > 0 {
			count++
		}

		var d sqfsBuilder
		d.u32(uint32(count - 1)) // header count, biased by -1
		d.u32(0)                 // start_block: all entries' inodes live in inode-table block 0
		d.u32(0)                 // inode_number, unused by the reader

		for k := 0; k < n; k++ {
			e := entries[i+k]
			d.u16(e.innerOffset)
			d.u16(0)
			d.u16(e.typ)
			d.u16(uint16(len(e.name) - 1))
			d.raw([]byte(e.name))
		}
		if filler > 0 {
			nameLen := filler - entryFixed
			d.u16(fillerInner)
			d.u16(0)
			d.u16(uint16(squashfs.FileType))
			d.u16(uint16(nameLen - 1))
			d.raw(repeatByte('Z', nameLen))
		}

		blocks = append(blocks, d.buf)
		logical += len(d.buf)
		i += n
	}

	return blocks, byteOffsets, entryIdx
}

func repeatByte(c byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// buildLargeImage produces an archive exercising the scenarios the
// minimal image leaves untouched: a file spanning several datablocks
// plus a fragment tail, an extended file carrying both an inline and an
// out-of-line extended attribute, and a directory large enough to carry
// an index.
//
//	/               (root dir, inode 1)
//	/bigfile        (basic file, inode 2, two full blocks + fragment tail)
//	/xattrfile      (extended file, inode 3, one inline + one OOL xattr)
//	/bigdir         (extended dir, inode 4, 1025 entries, all aliasing bigfile)
func buildLargeImage(t *testing.T) []byte {
	t.Helper()

	b := &sqfsBuilder{buf: make([]byte, 96)} // superblock placeholder

	// --- bigfile's two full raw data blocks plus its fragment tail ---
	blockA := repeatByte('A', testBlockSize)
	blockB := repeatByte('B', testBlockSize)
	bigFileBlockAOff := b.off()
	b.raw(blockA)
	b.raw(blockB)

	const fragTail = "FRAGMENT-TAIL"
	const fragPad = 5
	fragContent := append(repeatByte(0, fragPad), []byte(fragTail)...)
	fragBlockOff := b.off()
	b.raw(fragContent)

	bigFileSize := uint32(2*testBlockSize + len(fragTail))

	// --- xattrfile's content ---
	xattrContent := []byte("hello-xattr")
	xattrFileDataOff := b.off()
	b.raw(xattrContent)

	// --- xattr value table: one inline entry, one out-of-line entry ---
	// xm1 (the entries stream) must be allocated before its own offset
	// can serve as xattrTableStart, but its OOL entry's ref field names
	// a forward offset into xm2, which does not exist yet; write xm1
	// with a zeroed ref placeholder, then patch it once xm2 is written.
	const inlineName = "inline"
	inlineVal := []byte("v1")
	const oolName = "ool"
	oolVal := []byte("ool-value")

	xm1Off := b.off()
	var xm1 sqfsBuilder
	xm1.u16(squashfs.XattrTypeUser)
	xm1.u16(uint16(len(inlineName))) // xattr name size is NOT biased by -1
	xm1.raw([]byte(inlineName))
	xm1.u32(uint32(len(inlineVal)))
	xm1.raw(inlineVal)

	xm1.u16(squashfs.XattrTypeUser | 0x0100) // 0x0100: out-of-line value marker
	xm1.u16(uint16(len(oolName)))
	xm1.raw([]byte(oolName))
	refFieldOff := len(xm1.buf)
	xm1.u64(0) // placeholder, patched below once xm2Off is known

	xattrEntriesSize := uint32(len(xm1.buf))
	b.metablock(xm1.buf)

	var xm2 sqfsBuilder
	xm2.u32(uint32(len(oolVal)))
	xm2.raw(oolVal)
	xm2Off := b.metablock(xm2.buf)

	refAbs := xm1Off + 2 + uint64(refFieldOff) // +2: metablock length header
	binary.LittleEndian.PutUint64(b.buf[refAbs:refAbs+8], (xm2Off-xm1Off)<<16)

	xattrTableStart := xm1Off

	var xidEntry sqfsBuilder
	xidEntry.u64(0) // ref: entries start right at xattrTableStart, offset 0
	xidEntry.u32(2) // count
	xidEntry.u32(xattrEntriesSize)
	xidBlockOff := b.metablock(xidEntry.buf)

	xattrIdTableStart := b.off()
	b.u64(xattrTableStart)
	b.u32(1) // one distinct xattr set
	b.u32(0) // padding
	b.u64(xidBlockOff) // flat block-pointer array, immediately after the header

	// --- inode table: bigfile, xattrfile first; bigdir and root follow
	// once their own directory listings (below) are known ---
	var inodes sqfsBuilder

	bigFileInoOff := inodes.off()
	inodes.u16(uint16(squashfs.FileType))
	inodes.u16(0644)
	inodes.u16(0)
	inodes.u16(0)
	inodes.u32(0)
	inodes.u32(2) // ino
	inodes.u32(uint32(bigFileBlockAOff))
	inodes.u32(0) // fragment block index
	inodes.u32(fragPad)
	inodes.u32(bigFileSize)
	inodes.u32(uint32(testBlockSize) | 0x1000000)
	inodes.u32(uint32(testBlockSize) | 0x1000000)

	xattrFileInoOff := inodes.off()
	inodes.u16(uint16(squashfs.XFileType))
	inodes.u16(0644)
	inodes.u16(0)
	inodes.u16(0)
	inodes.u32(0)
	inodes.u32(3) // ino
	inodes.u64(xattrFileDataOff)
	inodes.u64(uint64(len(xattrContent)))
	inodes.u64(0) // sparse
	inodes.u32(1) // nlink
	inodes.u32(0xffffffff) // no fragment
	inodes.u32(0)
	inodes.u32(0) // xattr index
	inodes.u32(uint32(len(xattrContent)) | 0x1000000)

	// --- bigdir's own listing, 1025 entries all aliasing bigfile ---
	entries := make([]dirEntry, 1025)
	for i := range entries {
		entries[i] = dirEntry{
			innerOffset: uint16(bigFileInoOff),
			typ:         uint16(squashfs.FileType),
			name:        fmt.Sprintf("f%04d", i),
		}
	}
	dirBlocks, byteOffsets, entryIdx := buildIndexedDir(entries, uint16(bigFileInoOff))
	if len(dirBlocks) < 2 {
		t.Fatalf("buildIndexedDir produced %d blocks, want at least 2", len(dirBlocks))
	}

	var blockOffs []uint64
	for _, blk := range dirBlocks {
		blockOffs = append(blockOffs, b.metablock(blk))
	}
	dirTableStart := blockOffs[0]

	totalDirSize := 0
	for _, blk := range dirBlocks {
		totalDirSize += len(blk)
	}

	idxIndexName := entries[entryIdx[1]].name

	bigDirInoOff := inodes.off()
	inodes.u16(uint16(squashfs.XDirType))
	inodes.u16(0755)
	inodes.u16(0)
	inodes.u16(0)
	inodes.u32(0)
	inodes.u32(4) // ino
	inodes.u32(2) // nlink
	inodes.u32(uint32(totalDirSize))
	inodes.u32(uint32(blockOffs[0] - dirTableStart)) // start_block, relative: 0
	inodes.u32(1)                                    // parent inode
	inodes.u16(1)                                    // index count
	inodes.u16(0)                                    // offset within its own start block
	inodes.u32(0xffffffff)                           // no xattrs on the directory itself
	inodes.u32(uint32(byteOffsets[1]))
	inodes.u32(uint32(blockOffs[1] - dirTableStart))
	inodes.u32(uint32(len(idxIndexName) - 1))
	inodes.raw([]byte(idxIndexName))

	// --- root's listing, now that every child inode's offset is known ---
	rootDirData := encodeDir([]dirEntry{
		{innerOffset: uint16(bigFileInoOff), typ: uint16(squashfs.FileType), name: "bigfile"},
		{innerOffset: uint16(xattrFileInoOff), typ: uint16(squashfs.XFileType), name: "xattrfile"},
		{innerOffset: uint16(bigDirInoOff), typ: uint16(squashfs.XDirType), name: "bigdir"},
	})
	rootDirOff := b.metablock(rootDirData)

	rootInoOff := inodes.off()
	inodes.u16(uint16(squashfs.DirType))
	inodes.u16(0755)
	inodes.u16(0)
	inodes.u16(0)
	inodes.u32(0)
	inodes.u32(1) // ino
	inodes.u32(uint32(rootDirOff - dirTableStart))
	inodes.u32(2) // nlink
	inodes.u16(uint16(len(rootDirData)))
	inodes.u16(0)
	inodes.u32(1) // parent inode (self)

	inodeTableStart := b.metablock(inodes.buf)

	// --- fragment table ---
	var fragEntry sqfsBuilder
	fragEntry.u64(fragBlockOff)
	fragEntry.u32(uint32(len(fragContent)) | 0x1000000)
	fragEntry.u32(0)
	fragEntryBlockOff := b.metablock(fragEntry.buf)
	fragTableStart := b.off()
	b.u64(fragEntryBlockOff)

	// --- id table: one entry (uid/gid 0) ---
	idBlockOff := b.metablock(func() []byte {
		var idb sqfsBuilder
		idb.u32(0)
		return idb.buf
	}())
	idTableStart := b.off()
	b.u64(idBlockOff)

	total := b.off()

	sb := b.buf[:96]
	binary.LittleEndian.PutUint32(sb[0:4], 0x73717368) // "hsqs"
	binary.LittleEndian.PutUint32(sb[4:8], 4)           // inode count
	binary.LittleEndian.PutUint32(sb[8:12], 0)          // mtime
	binary.LittleEndian.PutUint32(sb[12:16], testBlockSize)
	binary.LittleEndian.PutUint32(sb[16:20], 1) // frag count
	binary.LittleEndian.PutUint16(sb[20:22], uint16(squashfs.GZip))
	binary.LittleEndian.PutUint16(sb[22:24], 12) // block log, 1<<12==4096
	binary.LittleEndian.PutUint16(sb[24:26], 0)  // flags: fragments and xattrs enabled
	binary.LittleEndian.PutUint16(sb[26:28], 1)  // id count
	binary.LittleEndian.PutUint16(sb[28:30], 4)  // vmajor
	binary.LittleEndian.PutUint16(sb[30:32], 0)  // vminor
	binary.LittleEndian.PutUint64(sb[32:40], rootInoOff&0xffff)
	binary.LittleEndian.PutUint64(sb[40:48], total)
	binary.LittleEndian.PutUint64(sb[48:56], idTableStart)
	binary.LittleEndian.PutUint64(sb[56:64], xattrIdTableStart)
	binary.LittleEndian.PutUint64(sb[64:72], inodeTableStart)
	binary.LittleEndian.PutUint64(sb[72:80], dirTableStart)
	binary.LittleEndian.PutUint64(sb[80:88], fragTableStart)
	binary.LittleEndian.PutUint64(sb[88:96], ^uint64(0)) // no export table

	return b.buf
}

func TestSyntheticLargeImageMultiBlockFragment(t *testing.T) {
	img := buildLargeImage(t)
	sqfs, err := squashfs.OpenMemory(img)
	if err != nil {
		t.Fatalf("OpenMemory: %s", err)
	}
	defer sqfs.Close()

	data, err := fs.ReadFile(sqfs, "bigfile")
	if err != nil {
		t.Fatalf("ReadFile bigfile: %s", err)
	}
	want := 2*testBlockSize + len("FRAGMENT-TAIL")
	if len(data) != want {
		t.Fatalf("len(bigfile) = %d, want %d", len(data), want)
	}
	for i := 0; i < testBlockSize; i++ {
		if data[i] != 'A' {
			t.Fatalf("data[%d] = %q, want 'A'", i, data[i])
		}
	}
	for i := 0; i < testBlockSize; i++ {
		if data[testBlockSize+i] != 'B' {
			t.Fatalf("data[%d] = %q, want 'B'", testBlockSize+i, data[testBlockSize+i])
		}
	}
	if string(data[2*testBlockSize:]) != "FRAGMENT-TAIL" {
		t.Fatalf("fragment tail = %q, want %q", data[2*testBlockSize:], "FRAGMENT-TAIL")
	}

	// An unaligned read straddling the block/fragment boundary must
	// still assemble correctly.
	buf := make([]byte, 20)
	n, err := func() (int, error) {
		ino, err := sqfs.FindInode("bigfile", false)
		if err != nil {
			return 0, err
		}
		return ino.ReadAt(buf, int64(2*testBlockSize-10))
	}()
	if err != nil {
		t.Fatalf("straddling ReadAt: %s", err)
	}
	want2 := string(repeatByte('B', 10)) + "FRAGMENT-TAIL"[:10]
	if string(buf[:n]) != want2 {
		t.Errorf("straddling ReadAt = %q, want %q", buf[:n], want2)
	}
}

func TestSyntheticLargeImageXattrs(t *testing.T) {
	img := buildLargeImage(t)
	sqfs, err := squashfs.OpenMemory(img)
	if err != nil {
		t.Fatalf("OpenMemory: %s", err)
	}
	defer sqfs.Close()

	ino, err := sqfs.FindInode("xattrfile", false)
	if err != nil {
		t.Fatalf("FindInode xattrfile: %s", err)
	}
	xattrs, err := ino.Xattrs()
	if err != nil {
		t.Fatalf("Xattrs: %s", err)
	}
	if len(xattrs) != 2 {
		t.Fatalf("len(Xattrs) = %d, want 2", len(xattrs))
	}
	byName := map[string]string{}
	for _, x := range xattrs {
		byName[x.FullName] = string(x.Value)
	}
	if v, ok := byName["user.inline"]; !ok || v != "v1" {
		t.Errorf("user.inline = %q, ok=%v, want %q", v, ok, "v1")
	}
	if v, ok := byName["user.ool"]; !ok || v != "ool-value" {
		t.Errorf("user.ool = %q, ok=%v, want %q", v, ok, "ool-value")
	}
}

func TestSyntheticLargeImageIndexedDir(t *testing.T) {
	img := buildLargeImage(t)
	sqfs, err := squashfs.OpenMemory(img)
	if err != nil {
		t.Fatalf("OpenMemory: %s", err)
	}
	defer sqfs.Close()

	entries, err := sqfs.ReadDir("bigdir")
	if err != nil {
		t.Fatalf("ReadDir bigdir: %s", err)
	}
	if len(entries) != 1025 {
		t.Fatalf("ReadDir bigdir returned %d entries, want 1025", len(entries))
	}

	// One name from the first (indexed-past) block, one from the
	// second, and the exact name the index entry itself points at: all
	// three must resolve identically whether selectDirIndex picks the
	// index entry or leaves the scan starting at the beginning.
	for _, name := range []string{"f0001", "f0628", "f1024"} {
		ino, err := sqfs.FindInode("bigdir/"+name, false)
		if err != nil {
			t.Fatalf("FindInode bigdir/%s: %s", name, err)
		}
		if !ino.Mode().IsRegular() {
			t.Errorf("bigdir/%s mode = %s, want regular file", name, ino.Mode())
		}
	}

	if _, err := sqfs.FindInode("bigdir/f9999", false); err == nil {
		t.Errorf("FindInode bigdir/f9999 unexpectedly succeeded")
	}
}
