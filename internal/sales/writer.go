package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

// Draft is the caller's description of a sale to create or of the new
// content of an edited sale.
type Draft struct {
	Buyer string
	Date  time.Time
	Note  string
	Lines []domain.SaleLineInput
}

func validateDraft(d Draft) error {
	if strings.TrimSpace(d.Buyer) == "" {
		return &ValidationError{Field: "buyer", Message: "buyer is required"}
	}
	if d.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	if len(d.Lines) == 0 {
		return &ValidationError{Field: "lines", Message: "sale must contain at least one line"}
	}
	for i, line := range d.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		switch {
		case strings.TrimSpace(line.ItemID) == "":
			return &ValidationError{Field: field + ".item_id", Message: "item is required"}
		case line.Quantity <= 0:
			return &ValidationError{Field: field + ".quantity", Message: "quantity must exceed zero"}
		case line.BasePriceCents < 0:
			return &ValidationError{Field: field + ".base_price_cents", Message: "base price must not be negative"}
		case line.DonationCents < 0:
			return &ValidationError{Field: field + ".donation_cents", Message: "donation must not be negative"}
		}
	}
	if i := checkTotals(d.Lines); i >= 0 {
		return &ValidationError{Field: fmt.Sprintf("lines[%d]", i), Message: "amount exceeds the largest supported total"}
	}
	return nil
}

// plan is every row one sale write will produce.
type plan struct {
	header    domain.SaleHeader
	lines     []domain.SaleLineItem
	movements []domain.StockMovement
	entry     domain.LedgerEntry
}

func (e *Engine) newPlan(saleID string, d Draft, items map[string]domain.InventoryItem, actor string, now time.Time) plan {
	totals := Aggregate(d.Lines)
	date := d.Date.UTC()
	p := plan{
		header: domain.SaleHeader{
			ID:                 saleID,
			Buyer:              strings.TrimSpace(d.Buyer),
			Date:               date,
			TotalBaseCents:     totals.BaseCents,
			TotalDonationCents: totals.DonationCents,
			GrandTotalCents:    totals.GrandCents,
			Note:               strings.TrimSpace(d.Note),
			CreatedBy:          actor,
			UpdatedBy:          actor,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		lines:     make([]domain.SaleLineItem, 0, len(d.Lines)),
		movements: make([]domain.StockMovement, 0, len(d.Lines)),
	}

	names := make([]string, 0, len(d.Lines))
	for _, in := range d.Lines {
		name := items[in.ItemID].Name
		if name == "" {
			name = in.ItemID
		}
		line := domain.SaleLineItem{
			ID:             e.newID("line"),
			SaleID:         saleID,
			ItemID:         in.ItemID,
			ItemName:       name,
			Quantity:       in.Quantity,
			BasePriceCents: in.BasePriceCents,
			DonationCents:  in.DonationCents,
			SubtotalCents:  Subtotal(in.Quantity, in.BasePriceCents, in.DonationCents),
		}
		p.lines = append(p.lines, line)
		p.movements = append(p.movements, domain.StockMovement{
			ID:         e.newID("mv"),
			SaleID:     saleID,
			SaleLineID: line.ID,
			ItemID:     in.ItemID,
			Direction:  domain.MovementOut,
			Quantity:   in.Quantity,
			CreatedAt:  now,
		})
		names = append(names, fmt.Sprintf("%s x%d", name, in.Quantity))
	}

	saleRef := saleID
	p.entry = domain.LedgerEntry{
		ID:          e.newID("led"),
		Category:    domain.LedgerCategorySaleIncome,
		AmountCents: totals.GrandCents,
		Date:        date,
		Description: fmt.Sprintf("Sale to %s: %s", p.header.Buyer, strings.Join(names, ", ")),
		SaleRef:     &saleRef,
		CreatedBy:   actor,
		CreatedAt:   now,
	}
	return p
}

// CreateSale validates the draft and stock, then writes header, lines,
// movements, stock decrement, ledger entry and back-link in that order.
func (e *Engine) CreateSale(ctx context.Context, d Draft) (*domain.Sale, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	items, lineErrs, err := e.checkStock(ctx, stockLines(d.Lines), nil)
	if err != nil {
		return nil, &LedgerError{Step: StepValidating, Err: err}
	}
	if len(lineErrs) > 0 {
		return nil, &StockError{Lines: lineErrs}
	}

	p := e.newPlan(e.newID("sale"), d, items, e.actor(ctx), e.now())
	err = e.run(ctx, "create", p.header.ID, func(ctx context.Context, u *unit) (Step, error) {
		return e.writeSale(ctx, u, &p)
	})
	if err != nil {
		return nil, err
	}

	sale := Normalize(ModernSource{Header: p.header, Lines: p.lines})
	return &sale, nil
}

// writeSale performs the write steps of p through u. Deletes are idempotent,
// so each delete undo is registered before its insert; an insert that lands
// but times out is still removed.
func (e *Engine) writeSale(ctx context.Context, u *unit, p *plan) (Step, error) {
	saleID := p.header.ID

	u.push("delete sale header "+saleID, func(ctx context.Context) error {
		return u.repo.DeleteSaleHeader(ctx, saleID)
	})
	if err := e.step(ctx, func(ctx context.Context) error {
		return u.repo.InsertSaleHeader(ctx, p.header)
	}); err != nil {
		return StepHeaderWritten, err
	}

	u.push("delete sale lines "+saleID, func(ctx context.Context) error {
		return u.repo.DeleteSaleLines(ctx, saleID)
	})
	if err := e.step(ctx, func(ctx context.Context) error {
		return u.repo.InsertSaleLines(ctx, p.lines)
	}); err != nil {
		return StepLinesWritten, err
	}

	u.push("delete stock movements "+saleID, func(ctx context.Context) error {
		return u.repo.DeleteStockMovements(ctx, saleID)
	})
	if err := e.step(ctx, func(ctx context.Context) error {
		return u.repo.InsertStockMovements(ctx, p.movements)
	}); err != nil {
		return StepMovementsWritten, err
	}

	for i, line := range p.lines {
		if err := e.decrement(ctx, u, i, line); err != nil {
			return StepStockDecremented, err
		}
	}

	entryID := p.entry.ID
	u.pushLedger("delete ledger entry "+entryID, func(ctx context.Context) error {
		return u.ledger.DeleteLedgerEntry(ctx, entryID)
	})
	if err := e.step(ctx, func(ctx context.Context) error {
		return u.ledger.PostLedgerEntry(ctx, p.entry)
	}); err != nil {
		return StepLedgerPosted, err
	}

	if err := e.step(ctx, func(ctx context.Context) error {
		if err := u.repo.SetSaleLedgerRef(ctx, saleID, &entryID); err != nil {
			return err
		}
		return u.repo.SetMovementLedgerRef(ctx, saleID, &entryID)
	}); err != nil {
		return StepLinked, err
	}

	p.header.LedgerRef = &entryID
	for i := range p.movements {
		p.movements[i].LedgerRef = &entryID
	}
	return StepLinked, nil
}

// decrement takes one line's quantity out of stock with the store's
// conditional adjustment. A refusal becomes a StockError for that line.
func (e *Engine) decrement(ctx context.Context, u *unit, index int, line domain.SaleLineItem) error {
	var available int
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		available, err = u.repo.AdjustQuantity(ctx, line.ItemID, -line.Quantity)
		return err
	})
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return &StockError{Lines: []domain.LineError{{
			Index:     index,
			ItemID:    line.ItemID,
			ItemName:  line.ItemName,
			Code:      CodeInsufficientStock,
			Message:   "insufficient stock",
			Requested: line.Quantity,
			Available: available,
		}}}
	case errors.Is(err, store.ErrNotFound):
		return &StockError{Lines: []domain.LineError{{
			Index:     index,
			ItemID:    line.ItemID,
			Code:      CodeItemNotFound,
			Message:   "item not found",
			Requested: line.Quantity,
		}}}
	case err != nil:
		return err
	}

	itemID, qty := line.ItemID, line.Quantity
	u.push(fmt.Sprintf("restore %d of %s", qty, itemID), func(ctx context.Context) error {
		_, err := u.repo.AdjustQuantity(ctx, itemID, qty)
		return err
	})
	return nil
}
