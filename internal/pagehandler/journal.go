package pagehandler

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zeebo/blake3"
)

// JournalManager is an append-only, forward write-ahead log: every page
// write durably lands here first and is only later applied ("checkpoint")
// to the main file. This is the opposite direction from the teacher's
// internal/minisql/journal.go, which journals before-images for
// rollback-on-crash (sqlite's classic rollback journal). spec.md §6
// calls for a redo log instead (append_raw_page / read_page-returns-
// newer-version / checkpoint_journal), which is the shape
// SimonWaldherr-tinySQL's internal/storage/pager/wal.go implements, so
// the on-disk framing here (magic+version+pageSize header, per-record
// type/txid/pageid/checksum) is adapted from that file with BLAKE3
// swapped in for the checksum, per the JuniperBible pack repo's use of
// BLAKE3 for the same "detect corruption of a stored blob" role.
const (
	journalMagic      = "PGJRNL01"
	journalVersion    = uint32(1)
	journalHeaderSize = 32

	recTypePage     = byte(1)
	recTypeBegin    = byte(2)
	recTypeCommit   = byte(3)
	recHeaderSize   = 1 + 8 + 4 + 4 + 4 // type, txID, pageID, dataLen, checksum
)

// DBFile is the subset of *os.File the page handler and journal manager
// need; letting tests substitute an in-memory fake.
type DBFile interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
}

// JournalManager durably records page writes under the current
// transaction, lets the coordinator read back a newer-than-main-file
// version of a page, and checkpoints committed writes into the main
// file.
type JournalManager struct {
	file     *os.File
	path     string
	pageSize int

	committed map[PageID][]byte
	pending   map[PageID][]byte

	txType      *TxKind
	txStartSize int64
	nextTxID    uint64

	writeOffset int64
	entryCount  int
}

// OpenJournalManager opens (or creates) the journal file at path. If a
// journal left over from a prior session holds committed-but-not-
// checkpointed pages, they are indexed but NOT applied to the main file
// here -- the caller does that once it also holds the main file open,
// via Checkpoint.
func OpenJournalManager(path string, pageSize int, mainFileSizeHint int64) (*JournalManager, error) {
	_ = mainFileSizeHint // recorded only as a hint by callers; the journal itself is self-describing.

	jm := &JournalManager{
		path:      path,
		pageSize:  pageSize,
		committed: make(map[PageID][]byte),
		pending:   make(map[PageID][]byte),
		nextTxID:  1,
	}

	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ioErr("OpenJournalManager", err)
	}
	jm.file = f

	if !exists {
		if err := jm.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		jm.writeOffset = journalHeaderSize
		return jm, nil
	}

	if err := jm.validateHeader(); err != nil {
		f.Close()
		return nil, err
	}

	offset, err := jm.recover()
	if err != nil {
		f.Close()
		return nil, err
	}
	jm.writeOffset = offset

	return jm, nil
}

func (jm *JournalManager) writeHeader() error {
	buf := make([]byte, journalHeaderSize)
	copy(buf[0:8], journalMagic)
	putUint32(buf, journalVersion, 8)
	putUint32(buf, uint32(jm.pageSize), 12)
	// bytes 16:28 reserved
	sum := blake3.Sum256(buf[:28])
	putUint32(buf, getUint32(sum[:], 0), 28)
	if _, err := jm.file.WriteAt(buf, 0); err != nil {
		return ioErr("JournalManager.writeHeader", err)
	}
	return ioErr2(jm.file.Sync())
}

func ioErr2(err error) error {
	if err == nil {
		return nil
	}
	return ioErr("JournalManager", err)
}

func (jm *JournalManager) validateHeader() error {
	buf := make([]byte, journalHeaderSize)
	if _, err := jm.file.ReadAt(buf, 0); err != nil {
		return ioErr("JournalManager.validateHeader", err)
	}
	if string(buf[0:8]) != journalMagic {
		return corruptStoreErr("JournalManager.validateHeader", fmt.Errorf("bad journal magic"))
	}
	if getUint32(buf, 8) != journalVersion {
		return corruptStoreErr("JournalManager.validateHeader", fmt.Errorf("unsupported journal version"))
	}
	if int(getUint32(buf, 12)) != jm.pageSize {
		return corruptStoreErr("JournalManager.validateHeader", fmt.Errorf("journal page size mismatch"))
	}
	sum := blake3.Sum256(buf[:28])
	if getUint32(buf, 28) != getUint32(sum[:], 0) {
		return corruptStoreErr("JournalManager.validateHeader", fmt.Errorf("journal header checksum mismatch"))
	}
	return nil
}

// recover scans every record after the header. Records belonging to a
// transaction that never reached a COMMIT record (the tail left by an
// unclean shutdown) are discarded; committed records populate
// jm.committed. Returns the file offset just past the last fully
// recovered (committed or file-end) record, which becomes the new
// write position -- truncating away any dangling uncommitted tail.
func (jm *JournalManager) recover() (int64, error) {
	offset := int64(journalHeaderSize)
	lastGoodOffset := offset
	txPending := make(map[PageID][]byte)
	inTx := false
	txEntries := 0
	committedEntries := 0

	for {
		hdr := make([]byte, recHeaderSize)
		n, err := jm.file.ReadAt(hdr, offset)
		if err != nil && err != io.EOF {
			return 0, ioErr("JournalManager.recover", err)
		}
		if n < recHeaderSize {
			break
		}
		recType := hdr[0]
		txID := getUint64(hdr, 1)
		pageID := PageID(getUint32(hdr, 9))
		dataLen := int(getUint32(hdr, 13))
		wantChecksum := getUint32(hdr, 17)

		data := make([]byte, dataLen)
		if dataLen > 0 {
			n, err := jm.file.ReadAt(data, offset+int64(recHeaderSize))
			if err != nil && err != io.EOF {
				return 0, ioErr("JournalManager.recover", err)
			}
			if n < dataLen {
				break // truncated tail record
			}
		}
		sum := blake3.Sum256(append(append([]byte{}, hdr[:17]...), data...))
		if getUint32(sum[:], 0) != wantChecksum {
			break // corrupt tail record
		}

		recSize := int64(recHeaderSize + dataLen)
		switch recType {
		case recTypeBegin:
			inTx = true
			txPending = make(map[PageID][]byte)
			txEntries = 0
			if txID >= jm.nextTxID {
				jm.nextTxID = txID + 1
			}
		case recTypePage:
			if inTx {
				txPending[pageID] = data
				txEntries++
			}
		case recTypeCommit:
			for pid, d := range txPending {
				jm.committed[pid] = d
			}
			committedEntries += txEntries
			txEntries = 0
			inTx = false
			txPending = make(map[PageID][]byte)
			lastGoodOffset = offset + recSize
		default:
			break
		}
		offset += recSize
	}

	// Rewind past any dangling, never-committed transaction tail left
	// by an unclean shutdown -- those bytes are valid-looking but must
	// not be replayed or written past on the next append.
	if err := truncateFile(jm.file, lastGoodOffset); err != nil {
		return 0, err
	}
	jm.entryCount = committedEntries
	return lastGoodOffset, nil
}

func truncateFile(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return ioErr("JournalManager.recover", err)
	}
	return nil
}

// StartTransaction begins a new transaction of the given kind.
func (jm *JournalManager) StartTransaction(kind TxKind) error {
	k := kind
	jm.txType = &k
	jm.txStartSize = jm.writeOffset
	jm.pending = make(map[PageID][]byte)

	buf := make([]byte, recHeaderSize)
	buf[0] = recTypeBegin
	putUint64(buf, jm.nextTxID, 1)
	jm.nextTxID++
	putUint32(buf, 0, 9)
	putUint32(buf, 0, 13)
	sum := blake3.Sum256(buf[:17])
	putUint32(buf, getUint32(sum[:], 0), 17)

	if err := jm.appendRaw(buf); err != nil {
		return err
	}
	return nil
}

// UpgradeReadTransactionToWrite promotes the in-progress transaction from
// Read to Write in place.
func (jm *JournalManager) UpgradeReadTransactionToWrite() error {
	if jm.txType == nil {
		return invariantErr("JournalManager.UpgradeReadTransactionToWrite", fmt.Errorf("no transaction in progress"))
	}
	w := TxWrite
	jm.txType = &w
	return nil
}

// TransactionType reports the in-progress transaction's kind, or nil.
func (jm *JournalManager) TransactionType() *TxKind { return jm.txType }

// AppendRawPage durably records a page write under the current
// transaction. Must be called inside an active transaction.
func (jm *JournalManager) AppendRawPage(page *RawPage) error {
	if jm.txType == nil {
		return invariantErr("JournalManager.AppendRawPage", fmt.Errorf("no active transaction"))
	}

	buf := make([]byte, recHeaderSize+len(page.Data))
	buf[0] = recTypePage
	putUint64(buf, jm.nextTxID-1, 1)
	putUint32(buf, uint32(page.ID), 9)
	putUint32(buf, uint32(len(page.Data)), 13)
	copy(buf[recHeaderSize:], page.Data)
	sum := blake3.Sum256(append(append([]byte{}, buf[:17]...), page.Data...))
	putUint32(buf, getUint32(sum[:], 0), 17)

	if err := jm.appendRaw(buf); err != nil {
		return err
	}

	data := make([]byte, len(page.Data))
	copy(data, page.Data)
	jm.pending[page.ID] = data
	jm.entryCount++
	return nil
}

func (jm *JournalManager) appendRaw(buf []byte) error {
	if _, err := jm.file.WriteAt(buf, jm.writeOffset); err != nil {
		return ioErr("JournalManager.appendRaw", err)
	}
	jm.writeOffset += int64(len(buf))
	return nil
}

// ReadPage returns a page if the journal has a newer version than the
// main file: either the current transaction's pending write, or a
// committed-but-not-yet-checkpointed write.
func (jm *JournalManager) ReadPage(pid PageID) ([]byte, bool) {
	if data, ok := jm.pending[pid]; ok {
		return data, true
	}
	if data, ok := jm.committed[pid]; ok {
		return data, true
	}
	return nil, false
}

// Commit durably marks the current transaction as committed: its pending
// writes become visible to every future reader until checkpointed.
func (jm *JournalManager) Commit() error {
	if jm.txType == nil {
		return invariantErr("JournalManager.Commit", fmt.Errorf("no active transaction"))
	}

	buf := make([]byte, recHeaderSize)
	buf[0] = recTypeCommit
	putUint64(buf, jm.nextTxID-1, 1)
	sum := blake3.Sum256(buf[:17])
	putUint32(buf, getUint32(sum[:], 0), 17)
	if err := jm.appendRaw(buf); err != nil {
		return err
	}
	if err := ioErr2(jm.file.Sync()); err != nil {
		return err
	}

	for pid, data := range jm.pending {
		jm.committed[pid] = data
	}
	jm.pending = make(map[PageID][]byte)
	jm.txType = nil
	return nil
}

// Rollback discards the current transaction's pending writes. The
// physical journal file is truncated back to where the transaction
// began, so a future reopen never sees the abandoned records.
func (jm *JournalManager) Rollback() error {
	if jm.txType == nil {
		return invariantErr("JournalManager.Rollback", fmt.Errorf("no active transaction"))
	}
	// Count the page records being discarded: the same page may have been
	// appended more than once in this transaction.
	rolledBack := 0
	hdr := make([]byte, recHeaderSize)
	for off := jm.txStartSize; off < jm.writeOffset; {
		if _, err := jm.file.ReadAt(hdr, off); err != nil {
			return ioErr("JournalManager.Rollback", err)
		}
		if hdr[0] == recTypePage {
			rolledBack++
		}
		off += int64(recHeaderSize) + int64(getUint32(hdr, 13))
	}
	if err := truncateFile(jm.file, jm.txStartSize); err != nil {
		return err
	}
	jm.writeOffset = jm.txStartSize
	jm.pending = make(map[PageID][]byte)
	jm.txType = nil
	jm.entryCount -= rolledBack
	return nil
}

// Len reports the number of page-write entries appended since the last
// checkpoint; the coordinator checkpoints once this crosses
// JournalFullThreshold.
func (jm *JournalManager) Len() int { return jm.entryCount }

// Path returns the journal's file path.
func (jm *JournalManager) Path() string { return jm.path }

// Checkpoint applies every committed-but-not-checkpointed page to the
// main file and truncates the journal back to an empty header. Pages are
// sorted by id first, then written run by run: a maximal span of
// consecutive page-ids is concatenated into one buffer and applied with a
// single WriteAt, so N contiguous pages cost one syscall instead of N --
// the coalescing SPEC_FULL.md's "batch flush" supplemented feature asks
// for, which the teacher's own pagerImpl.FlushBatch doesn't actually do
// (it also writes one page at a time, just sorted).
func (jm *JournalManager) Checkpoint(mainFile DBFile) error {
	ids := make([]PageID, 0, len(jm.committed))
	for pid := range jm.committed {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i := 0; i < len(ids); {
		runStart := i
		i++
		for i < len(ids) && ids[i] == ids[i-1]+1 {
			i++
		}
		// [runStart, i) is a maximal run of consecutive page-ids.
		run := ids[runStart:i]
		buf := make([]byte, 0, len(run)*jm.pageSize)
		for _, pid := range run {
			buf = append(buf, jm.committed[pid]...)
		}
		offset := int64(run[0]) * int64(jm.pageSize)
		if _, err := mainFile.WriteAt(buf, offset); err != nil {
			return ioErr("JournalManager.Checkpoint", err)
		}
	}
	if len(ids) > 0 {
		if err := ioErr2(mainFile.Sync()); err != nil {
			return err
		}
	}

	if err := truncateFile(jm.file, journalHeaderSize); err != nil {
		return err
	}
	jm.writeOffset = journalHeaderSize
	jm.committed = make(map[PageID][]byte)
	jm.entryCount = 0
	return nil
}

// Close closes the underlying journal file.
func (jm *JournalManager) Close() error {
	if err := jm.file.Close(); err != nil {
		return ioErr("JournalManager.Close", err)
	}
	return nil
}
