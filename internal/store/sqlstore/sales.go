package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type headerRow struct {
	ID                 string    `db:"id"`
	Buyer              string    `db:"buyer"`
	SaleDate           string    `db:"sale_date"`
	TotalBaseCents     int64     `db:"total_base_cents"`
	TotalDonationCents int64     `db:"total_donation_cents"`
	GrandTotalCents    int64     `db:"grand_total_cents"`
	Note               string    `db:"note"`
	LedgerRef          *string   `db:"ledger_ref"`
	CreatedBy          string    `db:"created_by"`
	UpdatedBy          string    `db:"updated_by"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (row headerRow) toDomain() (domain.SaleHeader, error) {
	date, err := parseDate(row.SaleDate)
	if err != nil {
		return domain.SaleHeader{}, err
	}
	return domain.SaleHeader{
		ID:                 row.ID,
		Buyer:              row.Buyer,
		Date:               date,
		TotalBaseCents:     row.TotalBaseCents,
		TotalDonationCents: row.TotalDonationCents,
		GrandTotalCents:    row.GrandTotalCents,
		Note:               row.Note,
		LedgerRef:          row.LedgerRef,
		CreatedBy:          row.CreatedBy,
		UpdatedBy:          row.UpdatedBy,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}, nil
}

const headerColumns = `id, buyer, sale_date, total_base_cents, total_donation_cents, grand_total_cents,
	note, ledger_ref, created_by, updated_by, created_at, updated_at`

func (r *repo) InsertSaleHeader(ctx context.Context, header domain.SaleHeader) error {
	if header.ID == "" || strings.TrimSpace(header.Buyer) == "" {
		return store.ErrInvalidRecord
	}
	now := time.Now().UTC()
	if header.CreatedAt.IsZero() {
		header.CreatedAt = now
	}
	if header.UpdatedAt.IsZero() {
		header.UpdatedAt = header.CreatedAt
	}

	_, err := r.exec(ctx, `
		INSERT INTO sale_headers (`+headerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, header.ID, header.Buyer, formatDate(header.Date), header.TotalBaseCents, header.TotalDonationCents,
		header.GrandTotalCents, header.Note, header.LedgerRef, header.CreatedBy, header.UpdatedBy,
		header.CreatedAt, header.UpdatedAt)
	return translate(err)
}

func (r *repo) GetSaleHeader(ctx context.Context, id string) (*domain.SaleHeader, error) {
	var row headerRow
	if err := r.get(ctx, &row, `SELECT `+headerColumns+` FROM sale_headers WHERE id = ?`, id); err != nil {
		return nil, translate(err)
	}
	header, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &header, nil
}

func (r *repo) ListSaleHeaders(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleHeader, error) {
	where, args := rangeClause("sale_date", filter)
	var rows []headerRow
	err := r.selectAll(ctx, &rows, `SELECT `+headerColumns+` FROM sale_headers`+where+
		` ORDER BY sale_date DESC, created_at DESC`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}

	headers := make([]domain.SaleHeader, 0, len(rows))
	for _, row := range rows {
		header, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}
	return headers, nil
}

func (r *repo) SetSaleLedgerRef(ctx context.Context, saleID string, ledgerRef *string) error {
	res, err := r.exec(ctx, `
		UPDATE sale_headers SET ledger_ref = ? WHERE id = ?
	`, ledgerRef, saleID)
	if err != nil {
		return translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repo) DeleteSaleHeader(ctx context.Context, id string) error {
	_, err := r.exec(ctx, `DELETE FROM sale_headers WHERE id = ?`, id)
	return translate(err)
}

type lineRow struct {
	ID             string `db:"id"`
	SaleID         string `db:"sale_id"`
	ItemID         string `db:"item_id"`
	ItemName       string `db:"item_name"`
	Quantity       int    `db:"quantity"`
	BasePriceCents int64  `db:"base_price_cents"`
	DonationCents  int64  `db:"donation_cents"`
	SubtotalCents  int64  `db:"subtotal_cents"`
}

func (r *repo) InsertSaleLines(ctx context.Context, lines []domain.SaleLineItem) error {
	if len(lines) == 0 {
		return nil
	}
	return r.atomically(ctx, func(q sqlx.ExtContext) error {
		for i, line := range lines {
			_, err := execOn(ctx, q, `
				INSERT INTO sale_line_items (
					id, sale_id, item_id, item_name, quantity, base_price_cents, donation_cents, subtotal_cents, position
				)
				VALUES (?,?,?,?,?,?,?,?,?)
			`, line.ID, line.SaleID, line.ItemID, line.ItemName, line.Quantity, line.BasePriceCents,
				line.DonationCents, line.SubtotalCents, i)
			if err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

func (r *repo) ListSaleLines(ctx context.Context, saleID string) ([]domain.SaleLineItem, error) {
	var rows []lineRow
	err := r.selectAll(ctx, &rows, `
		SELECT id, sale_id, item_id, item_name, quantity, base_price_cents, donation_cents, subtotal_cents
		FROM sale_line_items
		WHERE sale_id = ?
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.SaleLineItem, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, domain.SaleLineItem(row))
	}
	return lines, nil
}

func (r *repo) DeleteSaleLines(ctx context.Context, saleID string) error {
	_, err := r.exec(ctx, `DELETE FROM sale_line_items WHERE sale_id = ?`, saleID)
	return translate(err)
}

type movementRow struct {
	ID         string    `db:"id"`
	SaleID     string    `db:"sale_id"`
	SaleLineID string    `db:"sale_line_id"`
	ItemID     string    `db:"item_id"`
	Direction  string    `db:"direction"`
	Quantity   int       `db:"quantity"`
	LedgerRef  *string   `db:"ledger_ref"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *repo) InsertStockMovements(ctx context.Context, movements []domain.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.atomically(ctx, func(q sqlx.ExtContext) error {
		for _, mv := range movements {
			if mv.CreatedAt.IsZero() {
				mv.CreatedAt = now
			}
			_, err := execOn(ctx, q, `
				INSERT INTO stock_movements (id, sale_id, sale_line_id, item_id, direction, quantity, ledger_ref, created_at)
				VALUES (?,?,?,?,?,?,?,?)
			`, mv.ID, mv.SaleID, mv.SaleLineID, mv.ItemID, mv.Direction, mv.Quantity, mv.LedgerRef, mv.CreatedAt)
			if err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

func (r *repo) ListStockMovements(ctx context.Context, saleID string) ([]domain.StockMovement, error) {
	var rows []movementRow
	err := r.selectAll(ctx, &rows, `
		SELECT id, sale_id, sale_line_id, item_id, direction, quantity, ledger_ref, created_at
		FROM stock_movements
		WHERE sale_id = ?
		ORDER BY created_at ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(rows))
	for _, row := range rows {
		mv := domain.StockMovement(row)
		mv.CreatedAt = mv.CreatedAt.UTC()
		movements = append(movements, mv)
	}
	return movements, nil
}

func (r *repo) SetMovementLedgerRef(ctx context.Context, saleID string, ledgerRef *string) error {
	_, err := r.exec(ctx, `UPDATE stock_movements SET ledger_ref = ? WHERE sale_id = ?`, ledgerRef, saleID)
	return translate(err)
}

func (r *repo) DeleteStockMovements(ctx context.Context, saleID string) error {
	_, err := r.exec(ctx, `DELETE FROM stock_movements WHERE sale_id = ?`, saleID)
	return translate(err)
}
