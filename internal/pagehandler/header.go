package pagehandler

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// Header page (page-id 0) byte layout. Endianness and offsets are an
// implementation choice of this wrapper, but must stay stable across
// opens — see spec.md §6.
const (
	headerMagicOff    = 0
	headerVersionOff  = 4
	nullPageBarOff    = 8
	freeListSizeOff   = 12
	freeListPageIDOff = 16
	checksumOff       = 20
	freeListContentOff = 24

	headerVersion = uint32(1)
)

var headerMagic = [4]byte{'P', 'G', 'H', 'D'}

// HeaderFreeListMaxSize returns how many free-list entries fit in the
// tail of a header page of the given size.
func HeaderFreeListMaxSize(pageSize int) int {
	return (pageSize - freeListContentOff) / 4
}

// HeaderPage is a thin typed view over page 0. It owns no heap memory
// beyond the raw buffer it wraps.
type HeaderPage struct {
	raw *RawPage
}

// NewHeaderPage initializes a fresh header page: null_page_bar = 1,
// free_list_size = 0.
func NewHeaderPage(pageSize int) *HeaderPage {
	h := &HeaderPage{raw: NewRawPage(HeaderPageID, pageSize)}
	copy(h.raw.Data[headerMagicOff:headerMagicOff+4], headerMagic[:])
	putUint32(h.raw.Data, headerVersion, headerVersionOff)
	h.SetNullPageBar(1)
	h.SetFreeListSize(0)
	h.SetFreeListPageID(0)
	h.recomputeChecksum()
	return h
}

// WrapHeaderPage validates and wraps an existing raw page-0 buffer.
func WrapHeaderPage(raw *RawPage) (*HeaderPage, error) {
	if len(raw.Data) < freeListContentOff {
		return nil, corruptHeaderErr("WrapHeaderPage", fmt.Errorf("page too small: %d bytes", len(raw.Data)))
	}
	h := &HeaderPage{raw: raw}
	if string(raw.Data[headerMagicOff:headerMagicOff+4]) != string(headerMagic[:]) {
		return nil, corruptHeaderErr("WrapHeaderPage", fmt.Errorf("bad header magic"))
	}
	if getUint32(raw.Data, headerVersionOff) != headerVersion {
		return nil, corruptHeaderErr("WrapHeaderPage", fmt.Errorf("unsupported header version %d", getUint32(raw.Data, headerVersionOff)))
	}
	if got, want := getUint32(raw.Data, checksumOff), h.computeChecksum(); got != want {
		return nil, corruptHeaderErr("WrapHeaderPage", fmt.Errorf("header checksum mismatch: got %x want %x", got, want))
	}
	return h, nil
}

func (h *HeaderPage) computeChecksum() uint32 {
	sum := blake3.Sum256(h.raw.Data[:checksumOff])
	return getUint32(sum[:], 0)
}

func (h *HeaderPage) recomputeChecksum() {
	putUint32(h.raw.Data, h.computeChecksum(), checksumOff)
}

// RawPage returns the underlying buffer, with the checksum refreshed.
func (h *HeaderPage) RawPage() *RawPage {
	h.recomputeChecksum()
	return h.raw
}

func (h *HeaderPage) NullPageBar() uint32 { return getUint32(h.raw.Data, nullPageBarOff) }
func (h *HeaderPage) SetNullPageBar(v uint32) {
	putUint32(h.raw.Data, v, nullPageBarOff)
}

func (h *HeaderPage) FreeListSize() uint32 { return getUint32(h.raw.Data, freeListSizeOff) }
func (h *HeaderPage) SetFreeListSize(v uint32) {
	putUint32(h.raw.Data, v, freeListSizeOff)
}

func (h *HeaderPage) FreeListPageID() uint32 { return getUint32(h.raw.Data, freeListPageIDOff) }
func (h *HeaderPage) SetFreeListPageID(v uint32) {
	putUint32(h.raw.Data, v, freeListPageIDOff)
}

func (h *HeaderPage) maxFreeListSize() int {
	return HeaderFreeListMaxSize(len(h.raw.Data))
}

func (h *HeaderPage) freeListEntryOffset(i int) int {
	return freeListContentOff + i*4
}

// FreeListContent returns a copy of the currently populated free-list
// entries, page-id 0 never among them.
func (h *HeaderPage) FreeListContent() []PageID {
	n := int(h.FreeListSize())
	out := make([]PageID, n)
	for i := 0; i < n; i++ {
		out[i] = PageID(getUint32(h.raw.Data, h.freeListEntryOffset(i)))
	}
	return out
}

// PushFree appends id to the free list (LIFO order is maintained by the
// caller always popping the last entry). Returns ErrNotImplemented if the
// overflow-pointer path would be needed.
func (h *HeaderPage) PushFree(id PageID) error {
	if h.FreeListPageID() != 0 {
		return notImplementedErr("HeaderPage.PushFree", fmt.Errorf("free-list overflow page %d in use", h.FreeListPageID()))
	}
	size := int(h.FreeListSize())
	if size >= h.maxFreeListSize() {
		return notImplementedErr("HeaderPage.PushFree", fmt.Errorf("free list full at %d entries", size))
	}
	if id == HeaderPageID {
		return invariantErr("HeaderPage.PushFree", fmt.Errorf("page 0 must never enter the free list"))
	}
	putUint32(h.raw.Data, uint32(id), h.freeListEntryOffset(size))
	h.SetFreeListSize(uint32(size + 1))
	return nil
}

// CanPushFree reports whether n additional entries would fit without
// requiring the unimplemented overflow path.
func (h *HeaderPage) CanPushFree(n int) bool {
	return h.FreeListPageID() == 0 && int(h.FreeListSize())+n <= h.maxFreeListSize()
}

// PopFree removes and returns the most recently freed page-id (LIFO).
func (h *HeaderPage) PopFree() (PageID, bool) {
	size := int(h.FreeListSize())
	if size == 0 {
		return 0, false
	}
	id := PageID(getUint32(h.raw.Data, h.freeListEntryOffset(size-1)))
	h.SetFreeListSize(uint32(size - 1))
	return id, true
}
