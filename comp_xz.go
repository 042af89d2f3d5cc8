//go:build xz

package squashfs

import (
	"bytes"

	"github.com/ulikunitz/xz"
)

// XZ support is behind a build tag: the xz superblock also carries a
// compression-options block (dictionary size, filter flags) this minimal
// reader ignores, matching the teacher's own xz/zstd-optional split.
func init() {
	RegisterCompHandler(XZ, &CompHandler{
		Decompress: func(dst, src []byte) (int, error) {
			r, err := xz.NewReader(bytes.NewReader(src))
			if err != nil {
				return 0, err
			}
			return readAll(r, dst)
		},
	})
}
