package pagehandler

const (
	// DefaultPageSize is the page size used when the caller doesn't
	// override it; must be a power of two.
	DefaultPageSize = 4096

	// DBInitBlockCount is the initial file size in pages, and the
	// grow-increment used every time the null-page bar crosses the
	// last-committed file size.
	DBInitBlockCount = 16

	// PreserveWrapperMinRemainSize is the minimum remaining free space
	// a data page must report to be worth indexing in the free-bucket
	// map.
	PreserveWrapperMinRemainSize = 16

	// MaxTrackedSlotCount bounds how many slots a data page may carry
	// and still be re-indexed into the free-bucket map (u16::MAX / 2).
	MaxTrackedSlotCount = ((1 << 16) - 1) / 2

	// JournalFullThreshold is the number of outstanding journal entries
	// that triggers an immediate checkpoint after commit.
	JournalFullThreshold = 1000
)

// PageID addresses a single fixed-size page within the store. Page 0 is
// always the header page.
type PageID uint32

// HeaderPageID is the reserved page-id of the header page.
const HeaderPageID PageID = 0

// RawPage is a (page-id, bytes) pair that can be read from, written to,
// and synced to the main file at offset pageID * pageSize.
type RawPage struct {
	ID   PageID
	Data []byte
}

// NewRawPage allocates a zeroed raw page of the given size for id.
func NewRawPage(id PageID, pageSize int) *RawPage {
	return &RawPage{ID: id, Data: make([]byte, pageSize)}
}

// Clone returns an owned, independent copy of the page. Every page handed
// back to a caller from the read pipeline is a clone: callers must never
// be able to mutate what the cache holds.
func (p *RawPage) Clone() *RawPage {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &RawPage{ID: p.ID, Data: data}
}
