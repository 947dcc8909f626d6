package pagehandler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.db")
}

// Scenario 1: fresh open.
func TestOpen_FreshStore(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(65536), info.Size())

	s, err := h.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint32(DBInitBlockCount), s.PageCount)
	assert.Equal(t, uint32(0), s.FreeListSize)
	assert.Equal(t, NoTrans, h.TransactionState())
}

func storeOneDoc(t *testing.T, h *PageHandler, payload string) Ticket {
	t.Helper()
	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	ticket, err := h.StoreDoc(RawDocument(payload))
	require.NoError(t, err)
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)
	return ticket
}

// Scenario 2: store/retrieve, surviving a close+reopen.
func TestStoreRetrieve_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)

	ticket := storeOneDoc(t, h, `{"name": "alice"}`)

	doc, ok, err := h.GetDocFromTicket(ticket)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := doc.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, `{"name": "alice"}`, string(data))

	require.NoError(t, h.Close())

	reopened, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer reopened.Close()

	doc, ok, err = reopened.GetDocFromTicket(ticket)
	require.NoError(t, err)
	require.True(t, ok)
	data, err = doc.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, `{"name": "alice"}`, string(data))
}

// Scenario 3: free and reuse, LIFO.
func TestFreeAndReuse_LIFO(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	ticket := storeOneDoc(t, h, "only doc on its page")

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	data, ok, err := h.FreeDataTicket(ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "only doc on its page", string(data))
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	reused, err := h.AllocPageID()
	require.NoError(t, err)
	assert.Equal(t, ticket.Page, reused, "freed page should be reused LIFO")
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)
}

// P9: free_pages([a,b,c]) followed by three alloc_page_id() calls yields
// {c,b,a} in LIFO order.
func TestFreePages_ThenAlloc_LIFOOrder(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.StartTransaction(TxWrite))
	a, err := h.AllocPageID()
	require.NoError(t, err)
	b, err := h.AllocPageID()
	require.NoError(t, err)
	c, err := h.AllocPageID()
	require.NoError(t, err)
	require.NoError(t, h.Commit())

	require.NoError(t, h.StartTransaction(TxWrite))
	require.NoError(t, h.FreePages([]PageID{a, b, c}))
	require.NoError(t, h.Commit())

	require.NoError(t, h.StartTransaction(TxWrite))
	first, err := h.AllocPageID()
	require.NoError(t, err)
	second, err := h.AllocPageID()
	require.NoError(t, err)
	third, err := h.AllocPageID()
	require.NoError(t, err)
	require.NoError(t, h.Commit())

	assert.Equal(t, []PageID{c, b, a}, []PageID{first, second, third})
}

// Scenario 4 / P5: rollback discards cache.
func TestRollback_DiscardsCache(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	ticket, err := h.StoreDoc(RawDocument("doomed"))
	require.NoError(t, err)

	require.NoError(t, h.Rollback())
	h.SetTransactionState(NoTrans)

	_, ok := h.cache.Get(ticket.Page)
	assert.False(t, ok, "cache must be empty after rollback")

	_, found, err := h.GetDocFromTicket(ticket)
	require.NoError(t, err)
	assert.False(t, found, "rolled-back document must not be visible")
}

// Scenario 5: best-fit allocator picks the tightest-fitting page.
func TestDistributeDataPageWrapper_BestFit(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	small := InitDataPage(10, h.pageSize)
	medium := InitDataPage(11, h.pageSize)
	large := InitDataPage(12, h.pageSize)

	h.buckets.Insert(40, small.PageID())
	h.buckets.Insert(100, medium.PageID())
	h.buckets.Insert(500, large.PageID())

	require.NoError(t, h.StartTransaction(TxWrite))
	require.NoError(t, h.pipelineWritePage(small.ConsumePage()))
	require.NoError(t, h.pipelineWritePage(medium.ConsumePage()))
	require.NoError(t, h.pipelineWritePage(large.ConsumePage()))

	wrapper, err := h.distributeDataPageWrapper(80)
	require.NoError(t, err)
	assert.Equal(t, medium.PageID(), wrapper.PageID())
}

// Scenario 6: auto-transaction upgrade.
func TestAutoStartTransaction_UpgradesReadToWrite(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	autoStarted, err := h.AutoStartTransaction(TxRead)
	require.NoError(t, err)
	assert.True(t, autoStarted)
	h.SetTransactionState(UserAuto)

	autoStarted, err = h.AutoStartTransaction(TxWrite)
	require.NoError(t, err)
	assert.False(t, autoStarted)
	assert.Equal(t, UserAuto, h.TransactionState())
	assert.Equal(t, TxWrite, *h.journal.TransactionType())
}

// P7/P8: store then get, store then free.
func TestStoreGetFree_RoundTrip(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	faker := gofakeit.New(2)
	doc := RawDocument(faker.Sentence(8))

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	ticket, err := h.StoreDoc(doc)
	require.NoError(t, err)
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)

	got, ok, err := h.GetDocFromTicket(ticket)
	require.NoError(t, err)
	require.True(t, ok)
	gotBytes, err := got.ToBytes()
	require.NoError(t, err)
	wantBytes, err := doc.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	freedBytes, ok, err := h.FreeDataTicket(ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wantBytes, freedBytes)
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)

	_, ok, err = h.GetDocFromTicket(ticket)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetDocFromTicket_NotFound(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.StartTransaction(TxWrite))
	h.SetTransactionState(User)
	ticket, err := h.StoreDoc(RawDocument("x"))
	require.NoError(t, err)
	require.NoError(t, h.Commit())
	h.SetTransactionState(NoTrans)

	_, ok, err := h.GetDocFromTicket(Ticket{Page: ticket.Page, Index: ticket.Index + 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommit_ChecksPointsWhenJournalFull(t *testing.T) {
	t.Parallel()

	path := tempDBPath(t)
	h, err := Open(path, DefaultPageSize, RawDecoder)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.StartTransaction(TxWrite))
	for i := 0; i < JournalFullThreshold; i++ {
		_, err := h.AllocPageID()
		require.NoError(t, err)
	}
	require.NoError(t, h.Commit())

	assert.Equal(t, 0, h.journal.Len(), "commit should have triggered a checkpoint")
}
