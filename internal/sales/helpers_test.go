package sales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store/memory"
)

var errInjected = errors.New("injected failure")

// faultyRepo wraps the memory store and fails chosen calls.
type faultyRepo struct {
	*memory.Store

	mu     sync.Mutex
	failOn map[string]error
	calls  map[string]int
	block  map[string]bool
	// failEntry rejects posting of one ledger entry id only.
	failEntry string
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{
		Store:  memory.New(),
		failOn: map[string]error{},
		calls:  map[string]int{},
		block:  map[string]bool{},
	}
}

func (f *faultyRepo) failWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[method] = err
}

func (f *faultyRepo) blockOn(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[method] = true
}

func (f *faultyRepo) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faultyRepo) hit(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	err := f.failOn[method]
	blocked := f.block[method]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *faultyRepo) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	if err := f.hit(ctx, "GetItemsByIDs"); err != nil {
		return nil, err
	}
	return f.Store.GetItemsByIDs(ctx, ids)
}

func (f *faultyRepo) AdjustQuantity(ctx context.Context, itemID string, delta int) (int, error) {
	method := "AdjustQuantity-"
	if delta > 0 {
		method = "AdjustQuantity+"
	}
	if err := f.hit(ctx, method); err != nil {
		return 0, err
	}
	return f.Store.AdjustQuantity(ctx, itemID, delta)
}

func (f *faultyRepo) InsertSaleHeader(ctx context.Context, header domain.SaleHeader) error {
	if err := f.hit(ctx, "InsertSaleHeader"); err != nil {
		return err
	}
	return f.Store.InsertSaleHeader(ctx, header)
}

func (f *faultyRepo) InsertSaleLines(ctx context.Context, lines []domain.SaleLineItem) error {
	if err := f.hit(ctx, "InsertSaleLines"); err != nil {
		return err
	}
	return f.Store.InsertSaleLines(ctx, lines)
}

func (f *faultyRepo) DeleteSaleLines(ctx context.Context, saleID string) error {
	if err := f.hit(ctx, "DeleteSaleLines"); err != nil {
		return err
	}
	return f.Store.DeleteSaleLines(ctx, saleID)
}

func (f *faultyRepo) InsertStockMovements(ctx context.Context, movements []domain.StockMovement) error {
	if err := f.hit(ctx, "InsertStockMovements"); err != nil {
		return err
	}
	return f.Store.InsertStockMovements(ctx, movements)
}

func (f *faultyRepo) PostLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if err := f.hit(ctx, "PostLedgerEntry"); err != nil {
		return err
	}
	f.mu.Lock()
	reject := f.failEntry != "" && f.failEntry == entry.ID
	f.mu.Unlock()
	if reject {
		return errInjected
	}
	return f.Store.PostLedgerEntry(ctx, entry)
}

func (f *faultyRepo) DeleteLedgerEntry(ctx context.Context, id string) error {
	if err := f.hit(ctx, "DeleteLedgerEntry"); err != nil {
		return err
	}
	return f.Store.DeleteLedgerEntry(ctx, id)
}

func (f *faultyRepo) SetSaleLedgerRef(ctx context.Context, saleID string, ledgerRef *string) error {
	if err := f.hit(ctx, "SetSaleLedgerRef"); err != nil {
		return err
	}
	return f.Store.SetSaleLedgerRef(ctx, saleID, ledgerRef)
}

// sequentialIDs makes generated ids predictable: sale-1, line-1, line-2 ...
func sequentialIDs() func(prefix string) string {
	var mu sync.Mutex
	counters := map[string]int{}
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		counters[prefix]++
		return fmt.Sprintf("%s-%d", prefix, counters[prefix])
	}
}

func newTestEngine(t *testing.T, repo *faultyRepo, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithStepTimeout(time.Second),
		WithActor(func(context.Context) string { return "clerk" }),
		WithClock(func() time.Time { return time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC) }),
	}, opts...)
	e := NewEngine(repo, opts...)
	e.newID = sequentialIDs()
	return e
}

func seedItems(t *testing.T, repo interface {
	UpsertItem(context.Context, domain.InventoryItem) error
}, items ...domain.InventoryItem) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, repo.UpsertItem(context.Background(), item))
	}
}

func stockOf(t *testing.T, repo interface {
	GetItemsByIDs(context.Context, []string) (map[string]domain.InventoryItem, error)
}, id string) int {
	t.Helper()
	items, err := repo.GetItemsByIDs(context.Background(), []string{id})
	require.NoError(t, err)
	item, ok := items[id]
	require.True(t, ok, "item %s missing", id)
	return item.Quantity
}

func saleDate() time.Time {
	return time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
}

func scenarioADraft() Draft {
	return Draft{
		Buyer: "Bu Ratna",
		Date:  saleDate(),
		Note:  "seragam baru",
		Lines: []domain.SaleLineInput{
			{ItemID: "X", Quantity: 2, BasePriceCents: 1200},
			{ItemID: "Y", Quantity: 1, BasePriceCents: 5000, DonationCents: 500},
		},
	}
}

func defaultItems() []domain.InventoryItem {
	return []domain.InventoryItem{
		{ID: "X", Name: "Buku Tulis", Quantity: 10, Unit: "pcs"},
		{ID: "Y", Name: "Seragam Batik", Quantity: 5, Unit: "set"},
		{ID: "Z", Name: "Dasi", Quantity: 5, Unit: "pcs"},
	}
}
