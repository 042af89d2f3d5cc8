package squashfs

// Option configures a Superblock at open time, applied after the
// mapper is wired but before the header is read, so options can affect
// how that initial read itself is cached.
type Option func(sb *Superblock) error

// InodeOffset sets an offset added to every public inode number
// (Inode.publicInodeNum), used by FUSE mounts that stitch several
// SquashFS images into one inode namespace.
func InodeOffset(inoOfft uint64) Option {
	return func(sb *Superblock) error {
		sb.inoOfft = inoOfft
		return nil
	}
}

// CacheBlocks overrides the number of mapperChunk-sized blocks the
// cached mapper keeps resident, trading memory for fewer repeat reads
// of hot metadata (directory/inode tables). Mirrors the cache-size
// knob keeword-go-diskfs exposes via SetCacheSize/GetCacheSize.
func CacheBlocks(n int) Option {
	return func(sb *Superblock) error {
		if cm, ok := sb.mapper.(*cachedMapper); ok {
			cm.SetCacheBlocks(n)
		}
		return nil
	}
}
