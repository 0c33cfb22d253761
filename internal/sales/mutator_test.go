package sales

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

func TestDeleteSaleRestoresStockAndLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, scenarioADraft())
	require.NoError(t, err)
	require.NoError(t, e.DeleteSale(ctx, sale.ID))

	assert.Equal(t, 10, stockOf(t, repo, "X"))
	assert.Equal(t, 5, stockOf(t, repo, "Y"))
	assertNoSaleRows(t, repo, sale.ID)
	_, err = e.ReadSale(ctx, sale.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSaleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, scenarioADraft())
	require.NoError(t, err)
	require.NoError(t, e.DeleteSale(ctx, sale.ID))
	require.NoError(t, e.DeleteSale(ctx, sale.ID))
	require.NoError(t, e.DeleteSale(ctx, "never-existed"))

	assert.Equal(t, 10, stockOf(t, repo, "X"))
	assert.Equal(t, 5, stockOf(t, repo, "Y"))
}

func TestDeleteLegacySaleByFreeTextReference(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	record := legacyRecord("mov-1", "50.00", 2)
	require.NoError(t, repo.InsertLegacySale(ctx, record))
	require.NoError(t, repo.PostLedgerEntry(ctx, domain.LedgerEntry{
		ID: "led-old", Category: domain.LedgerCategorySaleIncome, AmountCents: 10000, Reference: record.LedgerReference,
	}))
	require.NoError(t, repo.PostLedgerEntry(ctx, domain.LedgerEntry{ID: "led-other", AmountCents: 1}))

	require.NoError(t, e.DeleteSale(ctx, "mov-1"))

	assert.Equal(t, 7, stockOf(t, repo, "Y"))
	_, err := repo.GetLegacySale(ctx, "mov-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetLedgerEntry(ctx, "led-old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetLedgerEntry(ctx, "led-other")
	require.NoError(t, err, "unrelated entries stay")
}

func TestDeleteSaleFailureRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, scenarioADraft())
	require.NoError(t, err)
	repo.failWith("DeleteSaleLines", errInjected)

	err = e.DeleteSale(ctx, sale.ID)
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, StepReversed, ledgerErr.Step)

	again, err := e.ReadSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.Totals, again.Totals)
	assert.Equal(t, 8, stockOf(t, repo, "X"))
	entries, err := repo.FindLedgerEntries(ctx, sale.ID, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "ledger entry is posted back")
}

func TestUpdateSaleScenarioD(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, Draft{
		Buyer: "Bu Ani",
		Date:  saleDate(),
		Lines: []domain.SaleLineInput{{ItemID: "X", Quantity: 3, BasePriceCents: 1200}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, repo, "X"))

	updated, err := e.UpdateSale(ctx, sale.ID, Draft{
		Buyer: "Bu Ani",
		Date:  saleDate(),
		Note:  "ganti",
		Lines: []domain.SaleLineInput{
			{ItemID: "X", Quantity: 1, BasePriceCents: 1200},
			{ItemID: "Z", Quantity: 2, BasePriceCents: 3000, DonationCents: 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, sale.ID, updated.ID)
	assert.Equal(t, int64(1200+6000+100), updated.Totals.GrandCents)
	assert.Equal(t, "clerk", updated.UpdatedBy)
	assert.Equal(t, sale.CreatedAt, updated.CreatedAt)

	assert.Equal(t, 9, stockOf(t, repo, "X"), "net delta of X is -1")
	assert.Equal(t, 3, stockOf(t, repo, "Z"))

	entries, err := repo.FindLedgerEntries(ctx, sale.ID, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, updated.Totals.GrandCents, entries[0].AmountCents)
	assert.NotEqual(t, *sale.LedgerRef, entries[0].ID)

	lines, err := repo.ListSaleLines(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestUpdateSaleCountsOwnAllocation(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, domain.InventoryItem{ID: "X", Name: "Buku", Quantity: 3})
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, Draft{
		Buyer: "Pak Budi",
		Date:  saleDate(),
		Lines: []domain.SaleLineInput{{ItemID: "X", Quantity: 3, BasePriceCents: 1000}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, stockOf(t, repo, "X"))

	updated, err := e.UpdateSale(ctx, sale.ID, Draft{
		Buyer: "Pak Budi",
		Date:  saleDate(),
		Lines: []domain.SaleLineInput{{ItemID: "X", Quantity: 3, BasePriceCents: 900}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2700), updated.Totals.GrandCents)
	assert.Equal(t, 0, stockOf(t, repo, "X"))

	_, err = e.UpdateSale(ctx, sale.ID, Draft{
		Buyer: "Pak Budi",
		Date:  saleDate(),
		Lines: []domain.SaleLineInput{{ItemID: "X", Quantity: 4, BasePriceCents: 900}},
	})
	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Lines[0].Available)
}

func TestUpdateSaleFailureRecreatesOriginal(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	sale, err := e.CreateSale(ctx, scenarioADraft())
	require.NoError(t, err)
	repo.failWith("SetSaleLedgerRef", errInjected)

	_, err = e.UpdateSale(ctx, sale.ID, Draft{
		Buyer: "Bu Ratna",
		Date:  saleDate(),
		Lines: []domain.SaleLineInput{{ItemID: "Z", Quantity: 1, BasePriceCents: 3000}},
	})
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, StepLinked, ledgerErr.Step)

	restored, err := e.ReadSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.Lines, restored.Lines)
	assert.Equal(t, sale.Totals, restored.Totals)
	assert.Equal(t, 8, stockOf(t, repo, "X"))
	assert.Equal(t, 4, stockOf(t, repo, "Y"))
	assert.Equal(t, 5, stockOf(t, repo, "Z"))

	entries, err := repo.FindLedgerEntries(ctx, sale.ID, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, *sale.LedgerRef, entries[0].ID)
}

func TestUpdateSaleUnknownID(t *testing.T) {
	e := newTestEngine(t, newFaultyRepo())
	_, err := e.UpdateSale(context.Background(), "nope", scenarioADraft())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLegacySaleBecomesModern(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	record := legacyRecord("mov-1", "50.00", 2)
	require.NoError(t, repo.InsertLegacySale(ctx, record))
	require.NoError(t, repo.PostLedgerEntry(ctx, domain.LedgerEntry{ID: "led-old", AmountCents: 10000, Reference: record.LedgerReference}))

	updated, err := e.UpdateSale(ctx, "mov-1", Draft{
		Buyer: record.Buyer,
		Date:  record.Date,
		Lines: []domain.SaleLineInput{{ItemID: "Y", Quantity: 1, BasePriceCents: 5000}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceModern, updated.Source)
	assert.Equal(t, 6, stockOf(t, repo, "Y"), "released 2, took 1")

	_, err = repo.GetLegacySale(ctx, "mov-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetLedgerEntry(ctx, "led-old")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateLegacySale(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	record := legacyRecord("mov-1", "50.00", 2)
	require.NoError(t, repo.InsertLegacySale(ctx, record))
	require.NoError(t, repo.PostLedgerEntry(ctx, domain.LedgerEntry{ID: "led-old", AmountCents: 10000, Reference: record.LedgerReference}))
	before, err := e.ReadSale(ctx, "mov-1")
	require.NoError(t, err)

	result, err := e.MigrateLegacySale(ctx, "mov-1")
	require.NoError(t, err)
	assert.Equal(t, &domain.MigrationResult{LegacyID: "mov-1", SaleID: "mov-1", Relinked: 1}, result)

	after, err := e.ReadSale(ctx, "mov-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceModern, after.Source)
	assert.Equal(t, before.Totals, after.Totals)
	require.NotNil(t, after.LedgerRef)
	assert.Equal(t, "led-old", *after.LedgerRef)
	assert.Equal(t, 5, stockOf(t, repo, "Y"), "stock untouched")

	entry, err := repo.GetLedgerEntry(ctx, "led-old")
	require.NoError(t, err)
	require.NotNil(t, entry.SaleRef)
	assert.Equal(t, "mov-1", *entry.SaleRef)

	_, err = repo.GetLegacySale(ctx, "mov-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The migrated sale deletes like any other.
	require.NoError(t, e.DeleteSale(ctx, "mov-1"))
	assert.Equal(t, 7, stockOf(t, repo, "Y"))

	_, err = e.MigrateLegacySale(ctx, "mov-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateLegacySaleFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)
	require.NoError(t, repo.InsertLegacySale(ctx, legacyRecord("mov-1", "50.00", 2)))
	repo.failWith("InsertStockMovements", errInjected)

	_, err := e.MigrateLegacySale(ctx, "mov-1")
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, StepMovementsWritten, ledgerErr.Step)

	_, err = repo.GetLegacySale(ctx, "mov-1")
	require.NoError(t, err)
	_, err = repo.GetSaleHeader(ctx, "mov-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateLegacySaleRejectsExistingHeader(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedItems(t, repo, defaultItems()...)
	e := newTestEngine(t, repo)

	created, err := e.CreateSale(ctx, scenarioADraft())
	require.NoError(t, err)
	record := legacyRecord(created.ID, "50.00", 2)
	require.NoError(t, repo.InsertLegacySale(ctx, record))
	before, err := repo.GetSaleHeader(ctx, created.ID)
	require.NoError(t, err)

	_, err = e.MigrateLegacySale(ctx, created.ID)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "id", validationErr.Field)
	var partialErr *PartialRollbackError
	assert.False(t, errors.As(err, &partialErr))

	after, err := repo.GetSaleHeader(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = repo.GetLegacySale(ctx, created.ID)
	require.NoError(t, err, "legacy record kept")
	assert.Equal(t, 1, repo.callCount("InsertSaleHeader"), "only the original create wrote a header")
}
