//go:build zstd

package squashfs

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

func init() {
	RegisterCompHandler(ZSTD, &CompHandler{
		Decompress: func(dst, src []byte) (int, error) {
			d, err := zstd.NewReader(nil)
			if err != nil {
				return 0, err
			}
			defer d.Close()
			out, err := d.DecodeAll(src, make([]byte, 0, len(dst)))
			if err != nil {
				return 0, err
			}
			if len(out) > len(dst) {
				return 0, io.ErrShortBuffer
			}
			return copy(dst, out), nil
		},
	})
}
