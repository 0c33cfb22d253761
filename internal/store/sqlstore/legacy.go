package sqlstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type legacyRow struct {
	ID              string              `db:"id"`
	ItemID          string              `db:"item_id"`
	Quantity        int                 `db:"quantity"`
	UnitPrice       decimal.Decimal     `db:"unit_price"`
	BasePrice       decimal.NullDecimal `db:"base_price"`
	Donation        decimal.NullDecimal `db:"donation"`
	Buyer           string              `db:"buyer"`
	SaleDate        string              `db:"sale_date"`
	Note            string              `db:"note"`
	LedgerReference string              `db:"ledger_reference"`
	CreatedAt       time.Time           `db:"created_at"`
}

func (row legacyRow) toDomain() (domain.LegacySaleRecord, error) {
	date, err := parseDate(row.SaleDate)
	if err != nil {
		return domain.LegacySaleRecord{}, err
	}
	record := domain.LegacySaleRecord{
		ID:              row.ID,
		ItemID:          row.ItemID,
		Quantity:        row.Quantity,
		UnitPrice:       row.UnitPrice,
		Buyer:           row.Buyer,
		Date:            date,
		Note:            row.Note,
		LedgerReference: row.LedgerReference,
		CreatedAt:       row.CreatedAt.UTC(),
	}
	if row.BasePrice.Valid {
		base := row.BasePrice.Decimal
		record.BasePrice = &base
	}
	if row.Donation.Valid {
		donation := row.Donation.Decimal
		record.Donation = &donation
	}
	return record, nil
}

func nullDecimal(val *decimal.Decimal) decimal.NullDecimal {
	if val == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *val, Valid: true}
}

const legacyColumns = `id, item_id, quantity, unit_price, base_price, donation, buyer, sale_date, note, ledger_reference, created_at`

func (r *repo) InsertLegacySale(ctx context.Context, record domain.LegacySaleRecord) error {
	if record.ID == "" || record.ItemID == "" || record.Quantity < 1 {
		return store.ErrInvalidRecord
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := r.exec(ctx, `
		INSERT INTO legacy_sales (`+legacyColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, record.ID, record.ItemID, record.Quantity, record.UnitPrice.StringFixed(2),
		nullDecimal(record.BasePrice), nullDecimal(record.Donation), record.Buyer,
		formatDate(record.Date), record.Note, record.LedgerReference, record.CreatedAt)
	return translate(err)
}

func (r *repo) GetLegacySale(ctx context.Context, id string) (*domain.LegacySaleRecord, error) {
	var row legacyRow
	if err := r.get(ctx, &row, `SELECT `+legacyColumns+` FROM legacy_sales WHERE id = ?`, id); err != nil {
		return nil, translate(err)
	}
	record, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) ListLegacySales(ctx context.Context, filter domain.SaleFilter) ([]domain.LegacySaleRecord, error) {
	where, args := rangeClause("sale_date", filter)
	var rows []legacyRow
	err := r.selectAll(ctx, &rows, `SELECT `+legacyColumns+` FROM legacy_sales`+where+
		` ORDER BY sale_date DESC, id ASC`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}

	records := make([]domain.LegacySaleRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *repo) DeleteLegacySale(ctx context.Context, id string) error {
	_, err := r.exec(ctx, `DELETE FROM legacy_sales WHERE id = ?`, id)
	return translate(err)
}
