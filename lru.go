package squashfs

// lruBlock is one cached chunk of source bytes, keyed by its absolute
// byte offset in the source.
type lruBlock struct {
	pos        int64
	data       []byte
	size       uint16 // length of the chunk as fetched (cachedMapper stores len(data))
	next, prev *lruBlock
}

// lru is a bounded cache of fetched chunks, evicting the
// least-recently-used entry once maxBlocks is exceeded. The doubly
// linked list plus map design mirrors the one exercised by
// diskfs-go-diskfs's squashfs reader (see its lru_test.go): root is a
// sentinel node, root.next is the most-recently-used block and
// root.prev is the least-recently-used one.
type lru struct {
	root      lruBlock
	cache     map[int64]*lruBlock
	maxBlocks int
}

func newLRU(maxBlocks int) *lru {
	l := &lru{
		cache:     make(map[int64]*lruBlock),
		maxBlocks: maxBlocks,
	}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// unlink removes block from the list, leaving it otherwise untouched.
func (l *lru) unlink(block *lruBlock) {
	block.prev.next = block.next
	block.next.prev = block.prev
	block.next = nil
	block.prev = nil
}

// push inserts block at the most-recently-used end of the list.
func (l *lru) push(block *lruBlock) {
	block.next = l.root.next
	block.prev = &l.root
	l.root.next.prev = block
	l.root.next = block
}

// pop removes and returns the least-recently-used block. Panics if the
// list is empty; callers must never call pop on an empty lru.
func (l *lru) pop() *lruBlock {
	if l.root.prev == &l.root {
		panic("squashfs: lru pop on list empty")
	}
	block := l.root.prev
	l.unlink(block)
	return block
}

// trim evicts blocks from the cache until at most n remain.
func (l *lru) trim(n int) {
	for len(l.cache) > n {
		block := l.pop()
		delete(l.cache, block.pos)
	}
}

// setMaxBlocks changes the cache's capacity, evicting immediately if the
// new bound is smaller than the current occupancy.
func (l *lru) setMaxBlocks(n int) {
	l.maxBlocks = n
	l.trim(n)
}

// add inserts block as most-recently-used, evicting as needed to respect
// maxBlocks.
func (l *lru) add(block *lruBlock) {
	l.push(block)
	l.cache[block.pos] = block
	l.trim(l.maxBlocks)
}

// get returns the cached data for pos, calling fetch and caching the
// result on a miss. A fetch error is propagated without being cached.
func (l *lru) get(pos int64, fetch func() (data []byte, size uint16, err error)) ([]byte, uint16, error) {
	if block, ok := l.cache[pos]; ok {
		l.unlink(block)
		l.push(block)
		return block.data, block.size, nil
	}

	data, size, err := fetch()
	if err != nil {
		return nil, 0, err
	}

	l.add(&lruBlock{pos: pos, data: data, size: size})
	return data, size, nil
}
