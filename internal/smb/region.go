package smb

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

var (
	ErrNoFreePage      = errors.New("smb: no free page available")
	ErrChunkOutOfRange = errors.New("smb: chunk index out of range for page layout")
	ErrProtocolViolation = errors.New("smb: illegal chunk state transition")
	ErrBadPageSize     = errors.New("smb: page size must be a power of two in [4096, 32768]")
)

// Region is a typed view over a byte slice holding N pages of an SMB.
// Callers reach chunk bytes through ChunkPayload and ChunkHeaderBytes, but
// TryAcquirePage, TryAcquireChunk, CompleteChunk, TryBeginRead, and
// ReleaseChunk are the only verbs that change page or chunk state (spec.md
// §9, first design note).
//
// Region is safe for concurrent use by one writer and one service reader
// per the ABI's ownership rules: all transitions are single-word atomic
// compare-and-swaps on the page header, so no additional lock is needed
// between the writer and the service (they run in separate processes in
// production; in the in-process IPC implementation they merely run in
// separate goroutines over the same Region).
type Region struct {
	buf      []byte
	pageSize int
	numPages int
}

// NewRegion allocates a fresh Region of numPages pages of pageSize bytes
// each. pageSize must be a power of two in [4096, 32768]. The backing
// buffer is over-allocated and sliced so that every page header word is
// naturally aligned for atomic access, mirroring the alignment guarantees
// a real mmap'd page gives for free.
func NewRegion(numPages, pageSize int) (*Region, error) {
	if pageSize < 4096 || pageSize > 32768 || pageSize&(pageSize-1) != 0 {
		return nil, ErrBadPageSize
	}
	if numPages < 1 {
		return nil, fmt.Errorf("smb: numPages must be >= 1, got %d", numPages)
	}
	raw := make([]byte, numPages*pageSize+pageSize)
	off := alignOffset(raw, 8)
	buf := raw[off : off+numPages*pageSize]
	return &Region{buf: buf, pageSize: pageSize, numPages: numPages}, nil
}

// alignOffset returns the smallest offset >= 0 into buf whose address is a
// multiple of align.
func alignOffset(buf []byte, align int) int {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rem := int(addr % uintptr(align))
	if rem == 0 {
		return 0
	}
	return align - rem
}

// PageSize returns the configured page size in bytes.
func (r *Region) PageSize() int { return r.pageSize }

// NumPages returns the number of pages in the region.
func (r *Region) NumPages() int { return r.numPages }

func (r *Region) pageBytes(page int) []byte {
	return r.buf[page*r.pageSize : (page+1)*r.pageSize]
}

func (r *Region) headerPtr32(page int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.pageBytes(page)[0]))
}

func (r *Region) headerPtr64(page int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.pageBytes(page)[0]))
}

// loadWord reads the current page header word, regardless of its width.
func (r *Region) loadWord(page int, width int) uint64 {
	if width == 8 {
		return atomic.LoadUint64(r.headerPtr64(page))
	}
	return uint64(atomic.LoadUint32(r.headerPtr32(page)))
}

// casWord attempts a compare-and-swap on the page header word.
func (r *Region) casWord(page int, width int, old, new uint64) bool {
	if width == 8 {
		return atomic.CompareAndSwapUint64(r.headerPtr64(page), old, new)
	}
	return atomic.CompareAndSwapUint32(r.headerPtr32(page), uint32(old), uint32(new))
}

// pageLayout reads the layout code currently stamped on a page. A page
// that has never been claimed reads as Layout1 with all chunks Free,
// which is indistinguishable from an explicitly-initialized empty page —
// that's fine, Free-everywhere is the correct zero value either way.
func (r *Region) pageLayout(page int) (Layout, int) {
	word32 := atomic.LoadUint32(r.headerPtr32(page))
	layout := unpackLayout(uint64(word32))
	if !layout.Valid() {
		layout = Layout1
	}
	return layout, layout.HeaderWidth()
}

// ChunkOffset returns the byte offset within a page where chunk i begins.
func (r *Region) ChunkOffset(layout Layout, i int) (int, error) {
	n := layout.ChunkCount()
	if i < 0 || i >= n {
		return 0, ErrChunkOutOfRange
	}
	return i * (r.pageSize / n), nil
}

// ChunkPayload returns the writable payload region of chunk i on a page
// (the bytes after the 16-byte chunk header). Safe to call regardless of
// ownership state; callers are responsible for honoring the ABI's "don't
// touch payload you don't own" rule (spec.md §4.1 concurrency rules).
func (r *Region) ChunkPayload(page int, layout Layout, i int) ([]byte, error) {
	off, err := r.ChunkOffset(layout, i)
	if err != nil {
		return nil, err
	}
	size := r.pageSize / layout.ChunkCount()
	chunkBytes := r.pageBytes(page)[off : off+size]
	return chunkBytes[ChunkHeaderSize:], nil
}

// ChunkHeaderBytes returns the 16-byte header slice of chunk i on a page.
func (r *Region) ChunkHeaderBytes(page int, layout Layout, i int) ([]byte, error) {
	off, err := r.ChunkOffset(layout, i)
	if err != nil {
		return nil, err
	}
	size := r.pageSize / layout.ChunkCount()
	return r.pageBytes(page)[off : off+size][:ChunkHeaderSize], nil
}

// TryAcquirePage atomically claims a page whose layout is Free-everywhere
// (every chunk slot reads 0/Free) and re-stamps it with the requested
// layout, leaving every chunk Free under the new partitioning. Returns the
// page index, or ErrNoFreePage if none is available.
func (r *Region) TryAcquirePage(layout Layout) (int, error) {
	if !layout.Valid() {
		return 0, fmt.Errorf("smb: invalid layout %d", layout)
	}
	width := layout.HeaderWidth()
	for page := 0; page < r.numPages; page++ {
		curLayout, curWidth := r.pageLayout(page)
		word := r.loadWord(page, curWidth)
		if !isPageFree(word, curLayout) {
			continue
		}
		newWord := packPageWord(layout, make([]ChunkState, layout.ChunkCount()))
		if width != curWidth {
			// Widening/narrowing the header word: the unused high bytes of
			// a 32-bit word are implicitly zero when read back as part of a
			// 64-bit CAS only if the region reserves 8 bytes per header
			// regardless of width, which it does (headerPtr64 always reads
			// the first 8 bytes). A Free page has all-zero high bytes by
			// construction (see NewRegion), so the CAS below is sound.
			old := r.loadWord(page, width)
			if r.casWord(page, width, old, newWord) {
				return page, nil
			}
			continue
		}
		if r.casWord(page, width, word, newWord) {
			return page, nil
		}
	}
	return 0, ErrNoFreePage
}

// isPageFree reports whether every chunk slot for the page's current
// layout reads Free.
func isPageFree(word uint64, layout Layout) bool {
	n := layout.ChunkCount()
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if unpackState(word, i) != StateFree {
			return false
		}
	}
	return true
}

// TryAcquireChunk performs the writer's 0->1 (Free -> Writer-owned)
// transition on chunk i of page. Returns false if the chunk was not Free.
func (r *Region) TryAcquireChunk(page, i int) (bool, error) {
	return r.transition(page, i, StateFree, StateWriterOwned)
}

// CompleteChunk performs the writer's 1->2 (Writer-owned -> Complete)
// transition. The caller must have fully populated the chunk header
// before calling this.
func (r *Region) CompleteChunk(page, i int) error {
	ok, err := r.transition(page, i, StateWriterOwned, StateComplete)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: page %d chunk %d not writer-owned", ErrProtocolViolation, page, i)
	}
	return nil
}

// TryBeginRead performs the service's 2->3 (Complete -> Service-owned)
// transition. Returns false if the chunk was not Complete (e.g. another
// scan already claimed it, or the writer hasn't finished it yet).
func (r *Region) TryBeginRead(page, i int) (bool, error) {
	return r.transition(page, i, StateComplete, StateServiceOwned)
}

// ReleaseChunk performs the service's 3->0 (Service-owned -> Free)
// transition, returning the chunk to the writer's free pool.
func (r *Region) ReleaseChunk(page, i int) error {
	ok, err := r.transition(page, i, StateServiceOwned, StateFree)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: page %d chunk %d not service-owned", ErrProtocolViolation, page, i)
	}
	return nil
}

// ChunkState returns the current state of chunk i on page without mutating
// it. Used by the ingestion scan to find Complete chunks cheaply.
func (r *Region) ChunkState(page, i int) (ChunkState, error) {
	layout, width := r.pageLayout(page)
	if i < 0 || i >= layout.ChunkCount() {
		return 0, ErrChunkOutOfRange
	}
	word := r.loadWord(page, width)
	return unpackState(word, i), nil
}

// PageLayout returns the layout currently stamped on page.
func (r *Region) PageLayout(page int) (Layout, error) {
	if page < 0 || page >= r.numPages {
		return 0, fmt.Errorf("smb: page index %d out of range", page)
	}
	layout, _ := r.pageLayout(page)
	return layout, nil
}

// transition performs a single CAS attempt moving chunk i from `from` to
// `to`. It retries only on a concurrent, unrelated CAS failure (another
// chunk on the same page changing state); a same-chunk state mismatch
// returns false immediately, not an error — this is the protocol's normal
// "chunk wasn't in the expected state yet" outcome, distinct from an
// illegal transition (which the caller functions above turn into
// ErrProtocolViolation when they know a precondition was supposed to hold).
func (r *Region) transition(page, i int, from, to ChunkState) (bool, error) {
	if !canTransition(from, to) {
		return false, fmt.Errorf("%w: %s->%s is not a legal edge", ErrProtocolViolation, from, to)
	}
	layout, width := r.pageLayout(page)
	if i < 0 || i >= layout.ChunkCount() {
		return false, ErrChunkOutOfRange
	}
	for {
		word := r.loadWord(page, width)
		if unpackState(word, i) != from {
			return false, nil
		}
		newWord := setState(word, i, to)
		if r.casWord(page, width, word, newWord) {
			return true, nil
		}
		// Lost the race to a concurrent writer on a different chunk of the
		// same page header word; re-read and retry.
	}
}
