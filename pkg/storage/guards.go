package storage

// BasicGuard owns a (buffer pool, frame) pair without holding either page
// latch. Dropping it unpins the page exactly once. Move semantics are
// modeled with Go value receivers: assigning a guard to a new variable and
// calling Drop on the old one is the caller's responsibility, matching the
// "move-assignment drops the previous tenant first" rule of RAII-style
// guards. UpgradeRead and UpgradeWrite transfer ownership explicitly,
// leaving this guard empty.
type BasicGuard struct {
	bpm  *BufferPoolManager
	page *Page
}

// NewPageGuarded allocates a page and returns an owning BasicGuard over it.
func (bpm *BufferPoolManager) NewPageGuarded() (BasicGuard, error) {
	id, err := bpm.NewPage()
	if err != nil {
		return BasicGuard{}, err
	}
	page := bpm.mustResident(id)
	return BasicGuard{bpm: bpm, page: page}, nil
}

// FetchPageBasic pins id and returns an owning BasicGuard, holding neither
// latch.
func (bpm *BufferPoolManager) FetchPageBasic(id PageID) (BasicGuard, error) {
	page, err := bpm.FetchPage(id)
	if err != nil {
		return BasicGuard{}, err
	}
	return BasicGuard{bpm: bpm, page: page}, nil
}

// mustResident looks up the frame currently backing id without touching pin
// counts; callers must already hold a pin (e.g. immediately after NewPage).
func (bpm *BufferPoolManager) mustResident(id PageID) *Page {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	fid := bpm.pageTable[id]
	return bpm.frames[fid]
}

// Page exposes the guarded page's id and backing bytes without transferring
// ownership.
func (g BasicGuard) Page() *Page { return g.page }

// Valid reports whether the guard owns a page (the zero BasicGuard does not).
func (g BasicGuard) Valid() bool { return g.page != nil }

// Drop unpins the page. It is safe to call at most once per guard; calling
// it on an already-dropped (zero-value) guard is a no-op.
func (g *BasicGuard) Drop() {
	if g.page == nil {
		return
	}
	g.bpm.UnpinPage(g.page.ID(), false)
	g.page = nil
	g.bpm = nil
}

// UpgradeRead releases the basic guard and fetches a read guard on the same
// page, matching the header-then-root descent pattern used when navigating
// into a freshly allocated tree node.
func (g *BasicGuard) UpgradeRead() ReadGuard {
	page, bpm := g.page, g.bpm
	g.page, g.bpm = nil, nil
	page.RLock()
	return ReadGuard{bpm: bpm, page: page}
}

// UpgradeWrite releases the basic guard and fetches a write guard on the
// same page, marking it dirty.
func (g *BasicGuard) UpgradeWrite() WriteGuard {
	page, bpm := g.page, g.bpm
	g.page, g.bpm = nil, nil
	page.Lock()
	page.isDirty = true
	return WriteGuard{bpm: bpm, page: page}
}

// ReadGuard owns a (buffer pool, frame) pair plus that frame's shared latch.
type ReadGuard struct {
	bpm  *BufferPoolManager
	page *Page
}

// FetchPageRead atomically pins id and acquires its read latch.
func (bpm *BufferPoolManager) FetchPageRead(id PageID) (ReadGuard, error) {
	page, err := bpm.FetchPage(id)
	if err != nil {
		return ReadGuard{}, err
	}
	page.RLock()
	return ReadGuard{bpm: bpm, page: page}, nil
}

// Page exposes the guarded page's bytes for reading.
func (g ReadGuard) Page() *Page { return g.page }

// Valid reports whether the guard owns a page.
func (g ReadGuard) Valid() bool { return g.page != nil }

// Drop releases the read latch and unpins the page exactly once.
func (g *ReadGuard) Drop() {
	if g.page == nil {
		return
	}
	g.page.RUnlock()
	g.bpm.UnpinPage(g.page.ID(), false)
	g.page = nil
	g.bpm = nil
}

// WriteGuard owns a (buffer pool, frame) pair plus that frame's exclusive
// latch. Acquiring one marks the page dirty immediately, since any writer
// is assumed to intend to mutate the page.
type WriteGuard struct {
	bpm  *BufferPoolManager
	page *Page
}

// FetchPageWrite atomically pins id, acquires its write latch, and marks it
// dirty.
func (bpm *BufferPoolManager) FetchPageWrite(id PageID) (WriteGuard, error) {
	page, err := bpm.FetchPage(id)
	if err != nil {
		return WriteGuard{}, err
	}
	page.Lock()
	page.isDirty = true
	return WriteGuard{bpm: bpm, page: page}, nil
}

// Page exposes the guarded page's bytes for reading and writing.
func (g WriteGuard) Page() *Page { return g.page }

// Valid reports whether the guard owns a page.
func (g WriteGuard) Valid() bool { return g.page != nil }

// Drop releases the write latch and unpins the page exactly once, marking it
// dirty (sticky for the lifetime of the guard).
func (g *WriteGuard) Drop() {
	if g.page == nil {
		return
	}
	g.page.Unlock()
	g.bpm.UnpinPage(g.page.ID(), true)
	g.page = nil
	g.bpm = nil
}
