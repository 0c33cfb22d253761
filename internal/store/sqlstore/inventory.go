package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type itemRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Quantity int    `db:"quantity"`
	Unit     string `db:"unit"`
}

func (r *repo) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	result := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT id, name, quantity, unit FROM inventory_items WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []itemRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = domain.InventoryItem(row)
	}
	return result, nil
}

// AdjustQuantity is a single conditional UPDATE so concurrent sales can never
// push stock below zero.
func (r *repo) AdjustQuantity(ctx context.Context, itemID string, delta int) (int, error) {
	var qty int
	err := r.get(ctx, &qty, `
		UPDATE inventory_items
		SET quantity = quantity + ?
		WHERE id = ? AND quantity + ? >= 0
		RETURNING quantity
	`, delta, itemID, delta)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, translate(err)
	}

	var current int
	if err := r.get(ctx, &current, `SELECT quantity FROM inventory_items WHERE id = ?`, itemID); err != nil {
		return 0, translate(err)
	}
	return current, store.ErrInsufficientStock
}

func (r *repo) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if strings.TrimSpace(item.ID) == "" || item.Quantity < 0 {
		return store.ErrInvalidRecord
	}

	return r.atomically(ctx, func(q sqlx.ExtContext) error {
		res, err := execOn(ctx, q, `
			UPDATE inventory_items SET name = ?, quantity = ?, unit = ? WHERE id = ?
		`, item.Name, item.Quantity, item.Unit, item.ID)
		if err != nil {
			return translate(err)
		}
		if affected, err := res.RowsAffected(); err != nil || affected > 0 {
			return err
		}
		_, err = execOn(ctx, q, `
			INSERT INTO inventory_items (id, name, quantity, unit) VALUES (?, ?, ?, ?)
		`, item.ID, item.Name, item.Quantity, item.Unit)
		return translate(err)
	})
}
