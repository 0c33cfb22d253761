package sales

import (
	"context"
	"errors"
	"slices"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

// Source is one stored shape of a sale: ModernSource or LegacySource.
type Source interface {
	source()
}

// ModernSource is a sale header with its line items.
type ModernSource struct {
	Header domain.SaleHeader
	Lines  []domain.SaleLineItem
}

// LegacySource is a single-item sale record written before headers existed.
// ItemName is resolved from the catalog when the record is loaded.
type LegacySource struct {
	Record   domain.LegacySaleRecord
	ItemName string
}

func (ModernSource) source() {}
func (LegacySource) source() {}

var hundred = decimal.NewFromInt(100)

// Cents converts a major-unit decimal price to minor units, rounding half
// away from zero.
func Cents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// Normalize turns either stored shape into the shared read model.
func Normalize(src Source) domain.Sale {
	switch s := src.(type) {
	case ModernSource:
		return normalizeModern(s)
	case LegacySource:
		return normalizeLegacy(s)
	default:
		return domain.Sale{}
	}
}

func normalizeModern(s ModernSource) domain.Sale {
	h := s.Header
	sale := domain.Sale{
		ID:     h.ID,
		Source: domain.SourceModern,
		Buyer:  h.Buyer,
		Date:   h.Date,
		Note:   h.Note,
		Totals: domain.Totals{
			BaseCents:     h.TotalBaseCents,
			DonationCents: h.TotalDonationCents,
			GrandCents:    h.GrandTotalCents,
		},
		Lines:     make([]domain.SaleLine, 0, len(s.Lines)),
		CreatedBy: h.CreatedBy,
		UpdatedBy: h.UpdatedBy,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
	if h.LedgerRef != nil {
		ref := *h.LedgerRef
		sale.LedgerRef = &ref
	}
	for _, line := range s.Lines {
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ID:             line.ID,
			ItemID:         line.ItemID,
			ItemName:       line.ItemName,
			Quantity:       line.Quantity,
			BasePriceCents: line.BasePriceCents,
			DonationCents:  line.DonationCents,
			SubtotalCents:  line.SubtotalCents,
		})
	}
	return sale
}

// normalizeLegacy synthesizes a one-line sale. With a price breakdown the
// total is base*quantity + donation, otherwise unit price*quantity.
func normalizeLegacy(s LegacySource) domain.Sale {
	r := s.Record
	unit := r.UnitPrice
	var donation int64
	if r.BasePrice != nil {
		unit = *r.BasePrice
		if r.Donation != nil {
			donation = Cents(*r.Donation)
		}
	}
	// the extension is rounded once, so unit prices with more than two
	// decimals still total to unit*quantity
	base := Cents(unit.Mul(decimal.NewFromInt(int64(r.Quantity))))

	line := domain.SaleLine{
		ID:             r.ID,
		ItemID:         r.ItemID,
		ItemName:       s.ItemName,
		Quantity:       r.Quantity,
		BasePriceCents: Cents(unit),
		DonationCents:  donation,
		SubtotalCents:  base + donation,
	}
	if line.ItemName == "" {
		line.ItemName = r.ItemID
	}

	return domain.Sale{
		ID:     r.ID,
		Source: domain.SourceLegacy,
		Buyer:  r.Buyer,
		Date:   r.Date,
		Note:   r.Note,
		Totals: domain.Totals{
			BaseCents:     base,
			DonationCents: line.DonationCents,
			GrandCents:    base + line.DonationCents,
		},
		Lines:     []domain.SaleLine{line},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.CreatedAt,
	}
}

// ReadSale looks for a sale header first and falls back to a legacy record.
// Reading never changes either shape.
func (e *Engine) ReadSale(ctx context.Context, id string) (*domain.Sale, error) {
	src, err := e.loadSource(ctx, e.repo, id)
	if err != nil {
		return nil, &LedgerError{Step: StepValidating, Err: err}
	}
	if src == nil {
		return nil, ErrNotFound
	}
	sale := Normalize(src)
	return &sale, nil
}

// loadSource returns nil without error when neither shape exists.
func (e *Engine) loadSource(ctx context.Context, repo store.SalesRepository, id string) (Source, error) {
	var header *domain.SaleHeader
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		header, err = repo.GetSaleHeader(ctx, id)
		return err
	})
	switch {
	case err == nil:
		var lines []domain.SaleLineItem
		if err := e.step(ctx, func(ctx context.Context) error {
			var err error
			lines, err = repo.ListSaleLines(ctx, id)
			return err
		}); err != nil {
			return nil, err
		}
		return ModernSource{Header: *header, Lines: lines}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	var record *domain.LegacySaleRecord
	err = e.step(ctx, func(ctx context.Context) error {
		var err error
		record, err = repo.GetLegacySale(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names, err := e.itemNames(ctx, repo, []string{record.ItemID})
	if err != nil {
		return nil, err
	}
	return LegacySource{Record: *record, ItemName: names[record.ItemID]}, nil
}

func (e *Engine) itemNames(ctx context.Context, repo store.InventoryStore, ids []string) (map[string]string, error) {
	var items map[string]domain.InventoryItem
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		items, err = repo.GetItemsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(items))
	for id, item := range items {
		names[id] = item.Name
	}
	return names, nil
}

// ListSales returns modern and legacy sales in the date window, newest first.
func (e *Engine) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	sales, err := e.listSales(ctx, filter)
	if err != nil {
		return nil, &LedgerError{Step: StepValidating, Err: err}
	}
	return sales, nil
}

func (e *Engine) listSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var (
		headers []domain.SaleHeader
		records []domain.LegacySaleRecord
	)
	if err := e.step(ctx, func(ctx context.Context) error {
		var err error
		headers, err = e.repo.ListSaleHeaders(ctx, filter)
		return err
	}); err != nil {
		return nil, err
	}
	if err := e.step(ctx, func(ctx context.Context) error {
		var err error
		records, err = e.repo.ListLegacySales(ctx, filter)
		return err
	}); err != nil {
		return nil, err
	}

	result := make([]domain.Sale, 0, len(headers)+len(records))
	for _, header := range headers {
		var lines []domain.SaleLineItem
		if err := e.step(ctx, func(ctx context.Context) error {
			var err error
			lines, err = e.repo.ListSaleLines(ctx, header.ID)
			return err
		}); err != nil {
			return nil, err
		}
		result = append(result, Normalize(ModernSource{Header: header, Lines: lines}))
	}

	if len(records) > 0 {
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ItemID)
		}
		names, err := e.itemNames(ctx, e.repo, ids)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			result = append(result, Normalize(LegacySource{Record: record, ItemName: names[record.ItemID]}))
		}
	}

	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
