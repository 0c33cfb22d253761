package sqlstore

import (
	"context"
	"strings"
	"time"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type ledgerRow struct {
	ID          string    `db:"id"`
	Category    string    `db:"category"`
	AmountCents int64     `db:"amount_cents"`
	EntryDate   string    `db:"entry_date"`
	Description string    `db:"description"`
	SaleRef     *string   `db:"sale_ref"`
	Reference   string    `db:"reference"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row ledgerRow) toDomain() (domain.LedgerEntry, error) {
	date, err := parseDate(row.EntryDate)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return domain.LedgerEntry{
		ID:          row.ID,
		Category:    row.Category,
		AmountCents: row.AmountCents,
		Date:        date,
		Description: row.Description,
		SaleRef:     row.SaleRef,
		Reference:   row.Reference,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

const ledgerColumns = `id, category, amount_cents, entry_date, description, sale_ref, reference, created_by, created_at`

func (r *repo) PostLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" || entry.AmountCents < 0 {
		return store.ErrInvalidRecord
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.exec(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, entry.ID, entry.Category, entry.AmountCents, formatDate(entry.Date), entry.Description,
		entry.SaleRef, entry.Reference, entry.CreatedBy, entry.CreatedAt)
	return translate(err)
}

func (r *repo) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var row ledgerRow
	if err := r.get(ctx, &row, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id); err != nil {
		return nil, translate(err)
	}
	entry, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindLedgerEntries(ctx context.Context, saleRef string, reference string) ([]domain.LedgerEntry, error) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if saleRef != "" {
		conds = append(conds, "sale_ref = ?")
		args = append(args, saleRef)
	}
	if reference != "" {
		conds = append(conds, "reference = ?")
		args = append(args, reference)
	}
	if len(conds) == 0 {
		return []domain.LedgerEntry{}, nil
	}

	var rows []ledgerRow
	err := r.selectAll(ctx, &rows, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE `+
		strings.Join(conds, " OR ")+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *repo) SetLedgerSaleRef(ctx context.Context, id string, saleRef *string) error {
	res, err := r.exec(ctx, `UPDATE ledger_entries SET sale_ref = ? WHERE id = ?`, saleRef, id)
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

func (r *repo) DeleteLedgerEntry(ctx context.Context, id string) error {
	_, err := r.exec(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	return translate(err)
}
