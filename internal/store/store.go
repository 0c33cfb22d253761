package store

import (
	"context"
	"errors"
	"time"

	"koperasi/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
)

// InventoryStore is the authoritative on-hand quantity per item.
type InventoryStore interface {
	// GetItemsByIDs reads every requested item in one round trip. Unknown ids
	// are absent from the result.
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)
	// AdjustQuantity applies delta relative to the stored value and returns the
	// new quantity. It fails with ErrInsufficientStock instead of going below
	// zero and with ErrNotFound for unknown items.
	AdjustQuantity(ctx context.Context, itemID string, delta int) (int, error)
	UpsertItem(ctx context.Context, item domain.InventoryItem) error
}

// SaleStore holds sale headers, their line items and the stock movements
// they caused. Delete methods succeed when nothing matches.
type SaleStore interface {
	InsertSaleHeader(ctx context.Context, header domain.SaleHeader) error
	GetSaleHeader(ctx context.Context, id string) (*domain.SaleHeader, error)
	ListSaleHeaders(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleHeader, error)
	SetSaleLedgerRef(ctx context.Context, saleID string, ledgerRef *string) error
	DeleteSaleHeader(ctx context.Context, id string) error
	InsertSaleLines(ctx context.Context, lines []domain.SaleLineItem) error
	ListSaleLines(ctx context.Context, saleID string) ([]domain.SaleLineItem, error)
	DeleteSaleLines(ctx context.Context, saleID string) error
	InsertStockMovements(ctx context.Context, movements []domain.StockMovement) error
	ListStockMovements(ctx context.Context, saleID string) ([]domain.StockMovement, error)
	SetMovementLedgerRef(ctx context.Context, saleID string, ledgerRef *string) error
	DeleteStockMovements(ctx context.Context, saleID string) error
}

// LegacySaleStore reads and removes single-item sale records written before
// sale headers existed.
type LegacySaleStore interface {
	InsertLegacySale(ctx context.Context, record domain.LegacySaleRecord) error
	GetLegacySale(ctx context.Context, id string) (*domain.LegacySaleRecord, error)
	ListLegacySales(ctx context.Context, filter domain.SaleFilter) ([]domain.LegacySaleRecord, error)
	DeleteLegacySale(ctx context.Context, id string) error
}

type LedgerStore interface {
	PostLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	// FindLedgerEntries matches entries whose SaleRef equals saleRef, or whose
	// free-text Reference equals reference when reference is not empty.
	FindLedgerEntries(ctx context.Context, saleRef string, reference string) ([]domain.LedgerEntry, error)
	SetLedgerSaleRef(ctx context.Context, id string, saleRef *string) error
	DeleteLedgerEntry(ctx context.Context, id string) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// SalesRepository is everything the sales engine writes through.
type SalesRepository interface {
	InventoryStore
	SaleStore
	LegacySaleStore
	LedgerStore
}

type Repository interface {
	SalesRepository
	AuditStore
	UserStore
}

// Transactor is implemented by stores that can run a group of writes as one
// atomic unit. fn's writes are committed only when it returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx SalesRepository) error) error
}
