package squashfs

import "github.com/pierrec/lz4/v4"

// SquashFS's LZ4 blocks are raw LZ4 blocks (no frame header, no checksum):
// the compressed size comes from the block-size table, the decompressed
// size is bounded by the archive's block size. lz4.UncompressBlock is the
// matching raw-block API.
func init() {
	RegisterCompHandler(LZ4, &CompHandler{
		Decompress: func(dst, src []byte) (int, error) {
			return lz4.UncompressBlock(src, dst)
		},
	})
}
