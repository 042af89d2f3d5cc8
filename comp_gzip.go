package squashfs

import (
	"bytes"

	"github.com/klauspost/compress/zlib"
)

// SquashFS's "gzip" compressor is the zlib-wrapped deflate stream produced
// by zlib's compress()/uncompress(), not a gzip-framed one, so this uses
// klauspost/compress's zlib reader rather than its gzip reader.
func init() {
	RegisterCompHandler(GZip, &CompHandler{
		Decompress: func(dst, src []byte) (int, error) {
			r, err := zlib.NewReader(bytes.NewReader(src))
			if err != nil {
				return 0, err
			}
			defer r.Close()
			return readAll(r, dst)
		},
	})
}
