package sales

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

const legacyBuyerFallback = "unknown buyer"

// saleRecords is everything a stored sale owns.
type saleRecords struct {
	source    Source
	movements []domain.StockMovement
	entries   []domain.LedgerEntry
}

// allocation is the stock the sale currently holds, per item.
func (r *saleRecords) allocation() map[string]int {
	held := make(map[string]int)
	switch src := r.source.(type) {
	case ModernSource:
		for _, mv := range r.movements {
			if mv.Direction == domain.MovementIn {
				held[mv.ItemID] -= mv.Quantity
				continue
			}
			held[mv.ItemID] += mv.Quantity
		}
	case LegacySource:
		held[src.Record.ItemID] += src.Record.Quantity
	}
	return held
}

// loadRecords returns nil without error when no sale has this id.
func (e *Engine) loadRecords(ctx context.Context, repo store.SalesRepository, ledger store.LedgerStore, id string) (*saleRecords, error) {
	src, err := e.loadSource(ctx, repo, id)
	if err != nil || src == nil {
		return nil, err
	}

	recs := &saleRecords{source: src}
	saleRef, reference := id, ""
	switch s := src.(type) {
	case ModernSource:
		if err := e.step(ctx, func(ctx context.Context) error {
			var err error
			recs.movements, err = repo.ListStockMovements(ctx, id)
			return err
		}); err != nil {
			return nil, err
		}
	case LegacySource:
		reference = s.Record.LedgerReference
	}

	var found []domain.LedgerEntry
	if err := e.step(ctx, func(ctx context.Context) error {
		var err error
		found, err = ledger.FindLedgerEntries(ctx, saleRef, reference)
		return err
	}); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(found)+1)
	for _, entry := range found {
		seen[entry.ID] = struct{}{}
		recs.entries = append(recs.entries, entry)
	}

	// The header's own link may point at an entry posted without a SaleRef.
	if m, ok := src.(ModernSource); ok && m.Header.LedgerRef != nil {
		if _, dup := seen[*m.Header.LedgerRef]; !dup {
			var entry *domain.LedgerEntry
			err := e.step(ctx, func(ctx context.Context) error {
				var err error
				entry, err = ledger.GetLedgerEntry(ctx, *m.Header.LedgerRef)
				return err
			})
			switch {
			case err == nil:
				recs.entries = append(recs.entries, *entry)
			case !errors.Is(err, store.ErrNotFound):
				return nil, err
			}
		}
	}
	return recs, nil
}

// reverse releases the sale's stock and removes its ledger entries and rows.
// Every completed removal registers the action that puts it back.
func (e *Engine) reverse(ctx context.Context, u *unit, recs *saleRecords) (Step, error) {
	switch src := recs.source.(type) {
	case ModernSource:
		for _, mv := range recs.movements {
			delta := mv.Quantity
			if mv.Direction == domain.MovementIn {
				delta = -mv.Quantity
			}
			if err := e.restore(ctx, u, mv.ItemID, delta); err != nil {
				return StepReversed, err
			}
		}
		if err := e.removeEntries(ctx, u, recs.entries); err != nil {
			return StepReversed, err
		}

		saleID := src.Header.ID
		movements := recs.movements
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.DeleteStockMovements(ctx, saleID)
		}); err != nil {
			return StepReversed, err
		}
		if len(movements) > 0 {
			u.push("reinsert stock movements "+saleID, func(ctx context.Context) error {
				return u.repo.InsertStockMovements(ctx, movements)
			})
		}

		lines := src.Lines
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.DeleteSaleLines(ctx, saleID)
		}); err != nil {
			return StepReversed, err
		}
		if len(lines) > 0 {
			u.push("reinsert sale lines "+saleID, func(ctx context.Context) error {
				return u.repo.InsertSaleLines(ctx, lines)
			})
		}

		header := src.Header
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.DeleteSaleHeader(ctx, saleID)
		}); err != nil {
			return StepReversed, err
		}
		u.push("reinsert sale header "+saleID, func(ctx context.Context) error {
			return u.repo.InsertSaleHeader(ctx, header)
		})

	case LegacySource:
		record := src.Record
		if err := e.restore(ctx, u, record.ItemID, record.Quantity); err != nil {
			return StepReversed, err
		}
		if err := e.removeEntries(ctx, u, recs.entries); err != nil {
			return StepReversed, err
		}
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.DeleteLegacySale(ctx, record.ID)
		}); err != nil {
			return StepLegacyRemoved, err
		}
		u.push("reinsert legacy sale "+record.ID, func(ctx context.Context) error {
			return u.repo.InsertLegacySale(ctx, record)
		})
	}
	return StepReversed, nil
}

// restore gives delta back to stock. An item that has left the catalog has
// nothing to give back to.
func (e *Engine) restore(ctx context.Context, u *unit, itemID string, delta int) error {
	err := e.step(ctx, func(ctx context.Context) error {
		_, err := u.repo.AdjustQuantity(ctx, itemID, delta)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[sales] WARN: item %s no longer exists, skipping stock restore of %d", itemID, delta)
		return nil
	}
	if err != nil {
		return err
	}
	u.push(fmt.Sprintf("take back %d of %s", delta, itemID), func(ctx context.Context) error {
		_, err := u.repo.AdjustQuantity(ctx, itemID, -delta)
		return err
	})
	return nil
}

func (e *Engine) removeEntries(ctx context.Context, u *unit, entries []domain.LedgerEntry) error {
	for _, entry := range entries {
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.ledger.DeleteLedgerEntry(ctx, entry.ID)
		}); err != nil {
			return err
		}
		u.pushLedger("repost ledger entry "+entry.ID, func(ctx context.Context) error {
			return u.ledger.PostLedgerEntry(ctx, entry)
		})
	}
	return nil
}

// UpdateSale replaces the content of sale id. New lines are checked against
// current stock plus the sale's own allocation, the old sale is reversed and
// the new one is written under the same id. If writing fails the original
// sale is put back.
func (e *Engine) UpdateSale(ctx context.Context, id string, d Draft) (*domain.Sale, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	recs, err := e.loadRecords(ctx, e.repo, e.ledger, id)
	if err != nil {
		return nil, &LedgerError{Step: StepValidating, Err: err}
	}
	if recs == nil {
		return nil, ErrNotFound
	}

	items, lineErrs, err := e.checkStock(ctx, stockLines(d.Lines), recs.allocation())
	if err != nil {
		return nil, &LedgerError{Step: StepValidating, Err: err}
	}
	if len(lineErrs) > 0 {
		return nil, &StockError{Lines: lineErrs}
	}

	actor := e.actor(ctx)
	p := e.newPlan(id, d, items, actor, e.now())
	switch src := recs.source.(type) {
	case ModernSource:
		p.header.CreatedBy = src.Header.CreatedBy
		p.header.CreatedAt = src.Header.CreatedAt
	case LegacySource:
		p.header.CreatedAt = src.Record.CreatedAt
	}

	err = e.run(ctx, "update", id, func(ctx context.Context, u *unit) (Step, error) {
		current, err := e.loadRecords(ctx, u.repo, u.ledger, id)
		if err != nil {
			return StepReversed, err
		}
		if current != nil {
			if step, err := e.reverse(ctx, u, current); err != nil {
				return step, err
			}
		}
		return e.writeSale(ctx, u, &p)
	})
	if err != nil {
		return nil, err
	}

	sale := Normalize(ModernSource{Header: p.header, Lines: p.lines})
	return &sale, nil
}

// DeleteSale restores the sale's stock and removes its ledger entries, lines,
// movements and header, or its legacy record. Unknown ids succeed.
func (e *Engine) DeleteSale(ctx context.Context, id string) error {
	return e.run(ctx, "delete", id, func(ctx context.Context, u *unit) (Step, error) {
		recs, err := e.loadRecords(ctx, u.repo, u.ledger, id)
		if err != nil {
			return StepReversed, err
		}
		if recs == nil {
			return StepReversed, nil
		}
		return e.reverse(ctx, u, recs)
	})
}

// MigrateLegacySale rewrites a legacy record as a header, one line and one
// movement under the same id, points its ledger entries at the new header
// and removes the record. Stock is untouched because the legacy sale already
// consumed it.
func (e *Engine) MigrateLegacySale(ctx context.Context, id string) (*domain.MigrationResult, error) {
	result := &domain.MigrationResult{LegacyID: id, SaleID: id}
	actor := e.actor(ctx)
	now := e.now()

	err := e.run(ctx, "migrate", id, func(ctx context.Context, u *unit) (Step, error) {
		var record *domain.LegacySaleRecord
		err := e.step(ctx, func(ctx context.Context) error {
			var err error
			record, err = u.repo.GetLegacySale(ctx, id)
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			return StepValidating, ErrNotFound
		}
		if err != nil {
			return StepValidating, err
		}
		// an existing header must survive; undoing the insert would delete it
		err = e.step(ctx, func(ctx context.Context) error {
			_, err := u.repo.GetSaleHeader(ctx, id)
			return err
		})
		switch {
		case err == nil:
			return StepValidating, &ValidationError{Field: "id", Message: "a sale with this id already exists"}
		case !errors.Is(err, store.ErrNotFound):
			return StepValidating, err
		}

		names, err := e.itemNames(ctx, u.repo, []string{record.ItemID})
		if err != nil {
			return StepValidating, err
		}
		var entries []domain.LedgerEntry
		if err := e.step(ctx, func(ctx context.Context) error {
			var err error
			entries, err = u.ledger.FindLedgerEntries(ctx, record.ID, record.LedgerReference)
			return err
		}); err != nil {
			return StepValidating, err
		}

		sale := Normalize(LegacySource{Record: *record, ItemName: names[record.ItemID]})
		line := sale.Lines[0]
		buyer := strings.TrimSpace(record.Buyer)
		if buyer == "" {
			buyer = legacyBuyerFallback
		}
		header := domain.SaleHeader{
			ID:                 id,
			Buyer:              buyer,
			Date:               record.Date,
			TotalBaseCents:     sale.Totals.BaseCents,
			TotalDonationCents: sale.Totals.DonationCents,
			GrandTotalCents:    sale.Totals.GrandCents,
			Note:               record.Note,
			UpdatedBy:          actor,
			CreatedAt:          record.CreatedAt,
			UpdatedAt:          now,
		}
		var ledgerRef *string
		if len(entries) > 0 {
			ref := entries[0].ID
			ledgerRef = &ref
			header.LedgerRef = ledgerRef
		}
		lineID := e.newID("line")

		u.push("delete sale header "+id, func(ctx context.Context) error {
			return u.repo.DeleteSaleHeader(ctx, id)
		})
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.InsertSaleHeader(ctx, header)
		}); err != nil {
			return StepHeaderWritten, err
		}

		u.push("delete sale lines "+id, func(ctx context.Context) error {
			return u.repo.DeleteSaleLines(ctx, id)
		})
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.InsertSaleLines(ctx, []domain.SaleLineItem{{
				ID:             lineID,
				SaleID:         id,
				ItemID:         line.ItemID,
				ItemName:       line.ItemName,
				Quantity:       line.Quantity,
				BasePriceCents: line.BasePriceCents,
				DonationCents:  line.DonationCents,
				SubtotalCents:  line.SubtotalCents,
			}})
		}); err != nil {
			return StepLinesWritten, err
		}

		u.push("delete stock movements "+id, func(ctx context.Context) error {
			return u.repo.DeleteStockMovements(ctx, id)
		})
		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.InsertStockMovements(ctx, []domain.StockMovement{{
				ID:         e.newID("mv"),
				SaleID:     id,
				SaleLineID: lineID,
				ItemID:     line.ItemID,
				Direction:  domain.MovementOut,
				Quantity:   line.Quantity,
				LedgerRef:  ledgerRef,
				CreatedAt:  record.CreatedAt,
			}})
		}); err != nil {
			return StepMovementsWritten, err
		}

		saleRef := id
		for _, entry := range entries {
			entryID, previous := entry.ID, entry.SaleRef
			if err := e.step(ctx, func(ctx context.Context) error {
				return u.ledger.SetLedgerSaleRef(ctx, entryID, &saleRef)
			}); err != nil {
				return StepLinked, err
			}
			u.pushLedger("unlink ledger entry "+entryID, func(ctx context.Context) error {
				return u.ledger.SetLedgerSaleRef(ctx, entryID, previous)
			})
		}

		if err := e.step(ctx, func(ctx context.Context) error {
			return u.repo.DeleteLegacySale(ctx, id)
		}); err != nil {
			return StepLegacyRemoved, err
		}
		u.push("reinsert legacy sale "+id, func(ctx context.Context) error {
			return u.repo.InsertLegacySale(ctx, *record)
		})

		result.Relinked = len(entries)
		return StepLegacyRemoved, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
