// Package smb implements the Shared Memory Buffer ABI: the byte-exact,
// lock-free single-producer/single-consumer layout shared between one
// Producer process and the Service.
//
// A Region is a typed view over a []byte; NewRegion allocates it on the
// heap, and the package has no mmap-backed constructor. The only state
// mutators are the five verbs in region.go.
package smb

import "fmt"

// Layout identifies how many equal-size chunks a page is partitioned into.
// Fixed at the moment a page transitions from Free to in-use and recorded
// in the page header's layout code (bits 0-2).
type Layout uint8

const (
	Layout1  Layout = 0
	Layout2  Layout = 1
	Layout4  Layout = 2
	Layout7  Layout = 3
	Layout14 Layout = 4
	Layout16 Layout = 5
)

// chunksPerLayout maps a layout code to its chunk count.
var chunksPerLayout = map[Layout]int{
	Layout1:  1,
	Layout2:  2,
	Layout4:  4,
	Layout7:  7,
	Layout14: 14,
	Layout16: 16,
}

// ChunkCount returns the number of chunks for this layout, or 0 if invalid.
func (l Layout) ChunkCount() int {
	return chunksPerLayout[l]
}

// Valid reports whether l is one of the six legal layout codes.
func (l Layout) Valid() bool {
	_, ok := chunksPerLayout[l]
	return ok
}

// LayoutFor picks the coarsest layout whose chunk count is >= minChunks,
// or an error if minChunks exceeds 16.
func LayoutFor(minChunks int) (Layout, error) {
	order := []Layout{Layout1, Layout2, Layout4, Layout7, Layout14, Layout16}
	for _, l := range order {
		if l.ChunkCount() >= minChunks {
			return l, nil
		}
	}
	return 0, fmt.Errorf("smb: no layout fits %d chunks", minChunks)
}

// HeaderWidth returns the width in bytes of the page header word needed to
// hold this layout's per-chunk state field. Layout16 needs 2*16=32 state
// bits plus the 3 layout bits, which overflows a 32-bit word, so it uses a
// 64-bit word; every other layout fits in 32 bits. The chosen width must be
// agreed by both peers at handshake time (see ipc.InitializeConnectionReply).
func (l Layout) HeaderWidth() int {
	if l == Layout16 {
		return 8
	}
	return 4
}
