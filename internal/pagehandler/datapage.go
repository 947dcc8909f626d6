package pagehandler

import (
	"fmt"

	"github.com/cloverdb/pagehandler/pkg/bitwise"
)

// Data page byte layout, adapted from the slotted-page design in
// SimonWaldherr-tinySQL's internal/storage/pager/slotted_page.go, with
// the slot directory narrowed from a 4-byte (offset, length) entry down
// to a single 2-byte length field (high bit reserved as a tombstone flag)
// so that the "+2 bytes of per-slot overhead" spec.md §4.5 bakes into
// distribute_data_page_wrapper's size request lines up exactly with what
// this layout actually reserves for a new slot. Offsets are not stored;
// they're derived by walking the directory, since records are always
// appended (never reused in place) and therefore lay out contiguously
// from the end of the page inward.
const (
	dpPageIDOff     = 0 // uint32
	dpSlotCountOff  = 4 // uint16
	dpDataStartOff  = 6 // uint16, offset where stored record bytes begin
	dpHeaderSize    = 8
	dpSlotEntrySize = 2

	dpTombstoneBit = uint16(1 << 15)
	dpMaxRecordLen = int(dpTombstoneBit) - 1
)

// DataPage wraps a raw page buffer holding up to N variable-length
// document records, addressed by slot index. Removed slots are
// tombstoned so existing slot indices stay stable for the life of the
// page.
type DataPage struct {
	raw *RawPage
}

// InitDataPage initializes a fresh, empty data page for pid.
func InitDataPage(pid PageID, pageSize int) *DataPage {
	raw := NewRawPage(pid, pageSize)
	d := &DataPage{raw: raw}
	putUint32(raw.Data, uint32(pid), dpPageIDOff)
	putUint16(raw.Data, 0, dpSlotCountOff)
	putUint16(raw.Data, uint16(pageSize), dpDataStartOff)
	return d
}

// WrapDataPage reconstructs a wrapper from a previously consumed raw
// page; the raw page already embeds pid, slot_count and data_start.
//
// A stored pid of zero means the bytes were never formatted by
// InitDataPage at all, rather than formatted for a different page: the
// region behind a ticket can end up in this state when the write that
// would have formatted it was rolled back before ever reaching the
// journal's committed set or the main file. That's indistinguishable
// from "never written" and not from "corrupt", so it's treated as an
// empty page (slot count zero) instead of an error; any other mismatch
// still means the buffer belongs to a different page.
func WrapDataPage(raw *RawPage) (*DataPage, error) {
	if len(raw.Data) < dpHeaderSize {
		return nil, corruptStoreErr("WrapDataPage", fmt.Errorf("page too small: %d bytes", len(raw.Data)))
	}
	storedPID := PageID(getUint32(raw.Data, dpPageIDOff))
	if storedPID != raw.ID {
		if storedPID == 0 && raw.ID != HeaderPageID {
			return &DataPage{raw: raw}, nil
		}
		return nil, corruptStoreErr("WrapDataPage", fmt.Errorf("page id mismatch: buffer says %d, caller says %d", storedPID, raw.ID))
	}
	return &DataPage{raw: raw}, nil
}

// ConsumePage hands back ownership of the underlying raw page. All
// metadata needed to reconstruct the wrapper via WrapDataPage is already
// embedded in it.
func (d *DataPage) ConsumePage() *RawPage { return d.raw }

// BorrowPage returns the underlying raw page without transferring
// ownership; the caller must not retain it past the next mutation.
func (d *DataPage) BorrowPage() *RawPage { return d.raw }

func (d *DataPage) PageID() PageID { return PageID(getUint32(d.raw.Data, dpPageIDOff)) }

func (d *DataPage) SlotCount() int { return int(getUint16(d.raw.Data, dpSlotCountOff)) }

func (d *DataPage) setSlotCount(n int) { putUint16(d.raw.Data, uint16(n), dpSlotCountOff) }

func (d *DataPage) DataStart() int { return int(getUint16(d.raw.Data, dpDataStartOff)) }

func (d *DataPage) setDataStart(off int) { putUint16(d.raw.Data, uint16(off), dpDataStartOff) }

func (d *DataPage) slotDirEnd() int { return dpHeaderSize + d.SlotCount()*dpSlotEntrySize }

// RemainSize reports the bytes available for a new Put, including the
// per-slot directory overhead that a new record would also consume.
func (d *DataPage) RemainSize() int {
	remain := d.DataStart() - d.slotDirEnd()
	if remain < 0 {
		return 0
	}
	return remain
}

func (d *DataPage) slotEntry(i int) uint16 {
	return getUint16(d.raw.Data, dpHeaderSize+i*dpSlotEntrySize)
}

func (d *DataPage) setSlotEntry(i int, v uint16) {
	putUint16(d.raw.Data, v, dpHeaderSize+i*dpSlotEntrySize)
}

const dpTombstoneBitPos = 15 // bit position of dpTombstoneBit within a uint16 slot entry

func isTombstone(entry uint16) bool { return bitwise.IsSet(uint64(entry), dpTombstoneBitPos) }
func entryLength(entry uint16) int  { return int(entry &^ dpTombstoneBit) }

// slotOffset returns the byte offset of slot i's record data by walking
// the directory: records are laid out contiguously from the page end
// inward in slot order, whether or not earlier slots are tombstoned.
func (d *DataPage) slotOffset(i int) int {
	off := len(d.raw.Data)
	for j := 0; j <= i; j++ {
		off -= entryLength(d.slotEntry(j))
	}
	return off
}

// Put appends a new record and returns its slot index. The caller (via
// distribute_data_page_wrapper) is responsible for having guaranteed
// RemainSize() >= len(data) + 2 before calling this.
func (d *DataPage) Put(data []byte) (int, error) {
	if len(data) > dpMaxRecordLen {
		return -1, invariantErr("DataPage.Put", fmt.Errorf("record of %d bytes exceeds max %d", len(data), dpMaxRecordLen))
	}
	if d.RemainSize() < len(data)+dpSlotEntrySize {
		return -1, invariantErr("DataPage.Put", fmt.Errorf("page %d has no room for %d bytes (remain %d)", d.PageID(), len(data), d.RemainSize()))
	}
	index := d.SlotCount()
	newStart := d.DataStart() - len(data)
	copy(d.raw.Data[newStart:newStart+len(data)], data)
	d.setDataStart(newStart)
	d.setSlotEntry(index, uint16(len(data)))
	d.setSlotCount(index + 1)
	return index, nil
}

// Get returns the bytes stored at slot, or false if the slot is absent
// (tombstoned or out of range).
func (d *DataPage) Get(slot int) ([]byte, bool) {
	if slot < 0 || slot >= d.SlotCount() {
		return nil, false
	}
	entry := d.slotEntry(slot)
	if isTombstone(entry) {
		return nil, false
	}
	off := d.slotOffset(slot)
	length := entryLength(entry)
	out := make([]byte, length)
	copy(out, d.raw.Data[off:off+length])
	return out, true
}

// Remove tombstones slot and returns the bytes it held, or false if the
// slot was already absent.
func (d *DataPage) Remove(slot int) ([]byte, bool) {
	data, ok := d.Get(slot)
	if !ok {
		return nil, false
	}
	entry := d.slotEntry(slot)
	d.setSlotEntry(slot, uint16(bitwise.Set(uint64(entry), dpTombstoneBitPos)))
	return data, true
}

// IsEmpty reports whether every slot on the page is tombstoned.
func (d *DataPage) IsEmpty() bool {
	for i := 0; i < d.SlotCount(); i++ {
		if !isTombstone(d.slotEntry(i)) {
			return false
		}
	}
	return true
}
