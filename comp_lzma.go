package squashfs

import (
	"bytes"

	"github.com/ulikunitz/xz/lzma"
)

func init() {
	RegisterCompHandler(LZMA, &CompHandler{
		Decompress: func(dst, src []byte) (int, error) {
			r, err := lzma.NewReader(bytes.NewReader(src))
			if err != nil {
				return 0, err
			}
			return readAll(r, dst)
		},
	})
}
