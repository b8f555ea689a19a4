package crawler

// Entry is one unit of crawl work: a descriptor URL and its hop distance
// from the seed.
type Entry struct {
	URL   string
	Depth int
}

// Frontier is the FIFO work queue of a breadth-first crawl.
// Entries pushed by a merge at depth d always have depth d+1, so depths are
// non-decreasing from head to tail.
// A Frontier is not safe for concurrent use.
type Frontier struct {
	entries []Entry
	head    int
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Push appends e to the tail.
func (f *Frontier) Push(e Entry) {
	f.entries = append(f.entries, e)
}

// Pop removes and returns the head entry.
func (f *Frontier) Pop() (Entry, bool) {
	if f.head >= len(f.entries) {
		return Entry{}, false
	}
	e := f.entries[f.head]
	f.entries[f.head] = Entry{}
	f.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if f.head > 64 && f.head*2 >= len(f.entries) {
		n := copy(f.entries, f.entries[f.head:])
		f.entries = f.entries[:n]
		f.head = 0
	}
	return e, true
}

// Peek returns the head entry without removing it.
func (f *Frontier) Peek() (Entry, bool) {
	if f.head >= len(f.entries) {
		return Entry{}, false
	}
	return f.entries[f.head], true
}

// PeekDepth returns the depth of the head entry.
func (f *Frontier) PeekDepth() (int, bool) {
	e, ok := f.Peek()
	return e.Depth, ok
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	return len(f.entries) - f.head
}
