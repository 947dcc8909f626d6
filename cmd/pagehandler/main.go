// Command pagehandler is a small CLI for exercising a page handler store
// directly: put a document, fetch it back by ticket, free it, force a
// checkpoint, or print a stat snapshot.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloverdb/pagehandler/internal/pagehandler"
	"github.com/cloverdb/pagehandler/internal/pkg/logging"
)

var cli struct {
	DB       string `name:"db" short:"f" required:"" help:"Path to the store's main file." type:"path"`
	PageSize int    `name:"page-size" default:"4096" help:"Page size in bytes, used only when creating a new store."`
	LogLevel string `name:"log-level" default:"warn" help:"Log level: debug, info, warn, error."`

	Put        PutCmd        `cmd:"" help:"Store a document, printing its ticket."`
	Get        GetCmd        `cmd:"" help:"Fetch a document by ticket."`
	Free       FreeCmd       `cmd:"" help:"Free a document by ticket."`
	Stat       StatCmd       `cmd:"" help:"Print a point-in-time snapshot of the store."`
	Checkpoint CheckpointCmd `cmd:"" help:"Force-apply journaled writes to the main file."`
}

func buildLogger() (*zap.Logger, error) {
	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", cli.LogLevel, err)
	}
	conf := logging.DefaultConfig()
	conf.Level = zap.NewAtomicLevelAt(level)
	return conf.Build()
}

func openHandler() (*pagehandler.PageHandler, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, err
	}
	return pagehandler.Open(cli.DB, cli.PageSize, pagehandler.RawDecoder, pagehandler.WithLogger(logger))
}

// PutCmd stores a raw document read from argv and commits immediately.
type PutCmd struct {
	Data string `arg:"" help:"Document bytes to store, as a literal string."`
}

func (c *PutCmd) Run() error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.StartTransaction(pagehandler.TxWrite); err != nil {
		return err
	}
	h.SetTransactionState(pagehandler.User)

	ticket, err := h.StoreDoc(pagehandler.RawDocument(c.Data))
	if err != nil {
		_ = h.Rollback()
		h.SetTransactionState(pagehandler.NoTrans)
		return err
	}
	if err := h.Commit(); err != nil {
		return err
	}
	h.SetTransactionState(pagehandler.NoTrans)

	fmt.Printf("ticket=%d:%d correlation=%s\n", ticket.Page, ticket.Index, uuid.NewString())
	return nil
}

// GetCmd fetches a document given a "page:index" ticket.
type GetCmd struct {
	Ticket string `arg:"" help:"Ticket in page:index form, e.g. 3:0."`
}

func (c *GetCmd) Run() error {
	ticket, err := parseTicket(c.Ticket)
	if err != nil {
		return err
	}

	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	doc, ok, err := h.GetDocFromTicket(ticket)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	data, err := doc.ToBytes()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FreeCmd frees a document given a ticket.
type FreeCmd struct {
	Ticket string `arg:"" help:"Ticket in page:index form, e.g. 3:0."`
}

func (c *FreeCmd) Run() error {
	ticket, err := parseTicket(c.Ticket)
	if err != nil {
		return err
	}

	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.StartTransaction(pagehandler.TxWrite); err != nil {
		return err
	}
	h.SetTransactionState(pagehandler.User)

	data, ok, err := h.FreeDataTicket(ticket)
	if err != nil {
		_ = h.Rollback()
		h.SetTransactionState(pagehandler.NoTrans)
		return err
	}
	if err := h.Commit(); err != nil {
		return err
	}
	h.SetTransactionState(pagehandler.NoTrans)

	if !ok {
		fmt.Println("not found")
		return nil
	}
	fmt.Printf("freed %s\n", humanize.Bytes(uint64(len(data))))
	return nil
}

// StatCmd prints a snapshot of the store's bookkeeping.
type StatCmd struct{}

func (c *StatCmd) Run() error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	s, err := h.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("page_count:        %d\n", s.PageCount)
	fmt.Printf("db size:           %s\n", humanize.Bytes(uint64(s.PageCount)*uint64(h.PageSize())))
	fmt.Printf("cached_pages:      %d\n", s.CachedPages)
	fmt.Printf("free_list_size:    %d\n", s.FreeListSize)
	fmt.Printf("free_bucket_count: %d\n", s.FreeBucketCount)
	fmt.Printf("journal_entries:   %d\n", s.JournalEntries)
	fmt.Printf("last_commit_size:  %s\n", humanize.Bytes(uint64(s.LastCommitDBSize)))
	fmt.Printf("transaction_state: %s\n", s.TransactionState)
	return nil
}

// CheckpointCmd forces the journal to apply its pending writes.
type CheckpointCmd struct{}

func (c *CheckpointCmd) Run() error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	return h.CheckpointNow()
}

func parseTicket(s string) (pagehandler.Ticket, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return pagehandler.Ticket{}, fmt.Errorf("ticket must be page:index, got %q", s)
	}
	page, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return pagehandler.Ticket{}, fmt.Errorf("bad page in ticket %q: %w", s, err)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return pagehandler.Ticket{}, fmt.Errorf("bad index in ticket %q: %w", s, err)
	}
	return pagehandler.Ticket{Page: pagehandler.PageID(page), Index: index}, nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("pagehandler"),
		kong.Description("Inspect and exercise a page handler document store."),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
