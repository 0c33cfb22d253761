package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

type SaleHeader struct {
	ID                 string    `json:"id"`
	Buyer              string    `json:"buyer"`
	Date               time.Time `json:"date"`
	TotalBaseCents     int64     `json:"total_base_cents"`
	TotalDonationCents int64     `json:"total_donation_cents"`
	GrandTotalCents    int64     `json:"grand_total_cents"`
	Note               string    `json:"note"`
	LedgerRef          *string   `json:"ledger_ref,omitempty"`
	CreatedBy          string    `json:"created_by"`
	UpdatedBy          string    `json:"updated_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type SaleLineItem struct {
	ID             string `json:"id"`
	SaleID         string `json:"sale_id"`
	ItemID         string `json:"item_id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	BasePriceCents int64  `json:"base_price_cents"`
	DonationCents  int64  `json:"donation_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type StockMovement struct {
	ID         string    `json:"id"`
	SaleID     string    `json:"sale_id"`
	SaleLineID string    `json:"sale_line_id"`
	ItemID     string    `json:"item_id"`
	Direction  string    `json:"direction"`
	Quantity   int       `json:"quantity"`
	LedgerRef  *string   `json:"ledger_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type LedgerEntry struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	SaleRef     *string   `json:"sale_ref,omitempty"`
	// Reference is the free-text link written by the single-item sale screens
	// before sale headers existed.
	Reference string    `json:"reference,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// LegacySaleRecord is a single-item sale stored as one movement row, with
// prices in major currency units.
type LegacySaleRecord struct {
	ID              string           `json:"id"`
	ItemID          string           `json:"item_id"`
	Quantity        int              `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	BasePrice       *decimal.Decimal `json:"base_price,omitempty"`
	Donation        *decimal.Decimal `json:"donation,omitempty"`
	Buyer           string           `json:"buyer"`
	Date            time.Time        `json:"date"`
	Note            string           `json:"note"`
	LedgerReference string           `json:"ledger_reference,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

type StockLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type StockValidationRequest struct {
	Lines []StockLine `json:"lines"`
}

type LineError struct {
	Index     int    `json:"index"`
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type StockValidation struct {
	Valid  bool        `json:"valid"`
	Errors []LineError `json:"errors"`
}

type SaleLineInput struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	BasePriceCents int64  `json:"base_price_cents"`
	DonationCents  int64  `json:"donation_cents"`
}

type SaleRequest struct {
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Buyer          string          `json:"buyer"`
	Date           string          `json:"date"`
	Note           string          `json:"note"`
	Lines          []SaleLineInput `json:"lines"`
}

type Totals struct {
	BaseCents     int64 `json:"base_cents"`
	DonationCents int64 `json:"donation_cents"`
	GrandCents    int64 `json:"grand_cents"`
}

// Sale is the read model shared by modern and legacy storage shapes.
type Sale struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Buyer     string     `json:"buyer"`
	Date      time.Time  `json:"date"`
	Note      string     `json:"note"`
	Totals    Totals     `json:"totals"`
	LedgerRef *string    `json:"ledger_ref,omitempty"`
	Lines     []SaleLine `json:"lines"`
	CreatedBy string     `json:"created_by,omitempty"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type SaleLine struct {
	ID             string `json:"id"`
	ItemID         string `json:"item_id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	BasePriceCents int64  `json:"base_price_cents"`
	DonationCents  int64  `json:"donation_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

type MigrationResult struct {
	LegacyID string `json:"legacy_id"`
	SaleID   string `json:"sale_id"`
	Relinked int    `json:"relinked_ledger_entries"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SourceModern = "modern"
	SourceLegacy = "legacy"
)

const (
	MovementOut = "out"
	MovementIn  = "in"
)

const LedgerCategorySaleIncome = "sale income"

const DateLayout = "2006-01-02"
