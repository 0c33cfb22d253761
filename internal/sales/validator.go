package sales

import (
	"context"
	"slices"

	"koperasi/backend/internal/domain"
)

// ValidateStock checks every line against one batched read of current stock.
// Lines naming the same item are each compared with the same snapshot; the
// conditional decrement catches a combined overdraw at write time.
func (e *Engine) ValidateStock(ctx context.Context, lines []domain.StockLine) (domain.StockValidation, error) {
	_, lineErrs, err := e.checkStock(ctx, lines, nil)
	if err != nil {
		return domain.StockValidation{}, &LedgerError{Step: StepValidating, Err: err}
	}
	return domain.StockValidation{Valid: len(lineErrs) == 0, Errors: lineErrs}, nil
}

// checkStock returns the item snapshot and per-line errors. credit adds
// quantity the caller is about to release, such as the allocation of a sale
// being edited.
func (e *Engine) checkStock(ctx context.Context, lines []domain.StockLine, credit map[string]int) (map[string]domain.InventoryItem, []domain.LineError, error) {
	var items map[string]domain.InventoryItem
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		items, err = e.repo.GetItemsByIDs(ctx, distinctItemIDs(lines))
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	lineErrs := make([]domain.LineError, 0)
	for i, line := range lines {
		if line.Quantity <= 0 {
			lineErrs = append(lineErrs, domain.LineError{
				Index:     i,
				ItemID:    line.ItemID,
				Code:      CodeInvalidQuantity,
				Message:   "quantity must exceed zero",
				Requested: line.Quantity,
			})
			continue
		}
		item, ok := items[line.ItemID]
		if !ok {
			lineErrs = append(lineErrs, domain.LineError{
				Index:     i,
				ItemID:    line.ItemID,
				Code:      CodeItemNotFound,
				Message:   "item not found",
				Requested: line.Quantity,
				Available: 0,
			})
			continue
		}
		available := item.Quantity + credit[line.ItemID]
		if line.Quantity > available {
			lineErrs = append(lineErrs, domain.LineError{
				Index:     i,
				ItemID:    line.ItemID,
				ItemName:  item.Name,
				Code:      CodeInsufficientStock,
				Message:   "insufficient stock",
				Requested: line.Quantity,
				Available: available,
			})
		}
	}
	return items, lineErrs, nil
}

func distinctItemIDs(lines []domain.StockLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		id := line.ItemID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func stockLines(lines []domain.SaleLineInput) []domain.StockLine {
	result := make([]domain.StockLine, 0, len(lines))
	for _, line := range lines {
		result = append(result, domain.StockLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return result
}
