package squashfs

import (
	"context"
	"io/fs"
	"strings"
)

// resolvePath walks name (slash-separated, relative to the archive
// root) component by component. "." is skipped. ".." is never looked
// up as a directory entry -- SquashFS directories carry no such entry
// on disk -- it instead pops the most recently visited ancestor off an
// explicit stack, bottoming out at the root, mirroring
// squash_resolve_path's inode_refs[] stack (see
// _examples/original_source/src/resolve_path.c).
func (sb *Superblock) resolvePath(ctx context.Context, name string) (*Inode, error) {
	name = strings.Trim(name, "/")
	cur := sb.rootIno
	if name == "" || name == "." {
		return cur, nil
	}

	stack := []*Inode{cur}

	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			cur = stack[len(stack)-1]
			continue
		}
		if !cur.IsDir() {
			return nil, &Error{Kind: KindOperation, Op: "resolve", Path: name, Err: ErrNotDirectory}
		}
		next, err := cur.LookupRelativeInode(ctx, part)
		if err != nil {
			if err == fs.ErrNotExist {
				return nil, &Error{Kind: KindAbsence, Op: "resolve", Path: name, Err: fs.ErrNotExist}
			}
			return nil, err
		}
		cur = next
		stack = append(stack, cur)
	}
	return cur, nil
}
