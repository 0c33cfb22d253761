package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.InventoryItem
	headers         map[string]domain.SaleHeader
	linesBySale     map[string][]domain.SaleLineItem
	movementsBySale map[string][]domain.StockMovement
	legacyByID      map[string]domain.LegacySaleRecord
	ledgerByID      map[string]domain.LedgerEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items:           make(map[string]domain.InventoryItem),
		headers:         make(map[string]domain.SaleHeader),
		linesBySale:     make(map[string][]domain.SaleLineItem),
		movementsBySale: make(map[string][]domain.StockMovement),
		legacyByID:      make(map[string]domain.LegacySaleRecord),
		ledgerByID:      make(map[string]domain.LedgerEntry),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD; when
// unset, dev defaults are used and a warning is logged.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	clerkPwd := envOr("SEED_CLERK_PASSWORD", "clerk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"clerk", clerkPwd, "clerk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding the cooperative's demo catalog, dev users
// and one single-item sale in the legacy shape.
func NewSeeded() *Store {
	s := New()
	for _, item := range []domain.InventoryItem{
		{ID: "ITM-BUKU-38", Name: "Buku Tulis 38 Lembar", Quantity: 240, Unit: "pcs"},
		{ID: "ITM-PENSIL-2B", Name: "Pensil 2B", Quantity: 300, Unit: "pcs"},
		{ID: "ITM-SERAGAM-BTK", Name: "Seragam Batik", Quantity: 60, Unit: "set"},
		{ID: "ITM-DASI-SD", Name: "Dasi SD", Quantity: 80, Unit: "pcs"},
		{ID: "ITM-TOPI-SD", Name: "Topi SD", Quantity: 80, Unit: "pcs"},
		{ID: "ITM-SAMPUL-CKL", Name: "Sampul Coklat", Quantity: 500, Unit: "lembar"},
		{ID: "ITM-ATLAS-IND", Name: "Atlas Indonesia", Quantity: 25, Unit: "pcs"},
		{ID: "ITM-KAOS-OR", Name: "Kaos Olahraga", Quantity: 45, Unit: "pcs"},
	} {
		s.items[item.ID] = item
	}

	saleDate := time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)
	legacy := domain.LegacySaleRecord{
		ID:              "mov-legacy-0001",
		ItemID:          "ITM-SERAGAM-BTK",
		Quantity:        2,
		UnitPrice:       decimal.RequireFromString("85000.00"),
		Buyer:           "Wali Murid Kelas 3A",
		Date:            saleDate,
		Note:            "penjualan lama",
		LedgerReference: "PENJUALAN#mov-legacy-0001",
		CreatedAt:       saleDate,
	}
	s.legacyByID[legacy.ID] = legacy
	s.ledgerByID["led-legacy-0001"] = domain.LedgerEntry{
		ID:          "led-legacy-0001",
		Category:    domain.LedgerCategorySaleIncome,
		AmountCents: 17000000,
		Date:        saleDate,
		Description: "Penjualan Seragam Batik x2",
		Reference:   legacy.LedgerReference,
		CreatedBy:   "system",
		CreatedAt:   saleDate,
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) AdjustQuantity(_ context.Context, itemID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := item.Quantity + delta
	if next < 0 {
		return item.Quantity, store.ErrInsufficientStock
	}
	item.Quantity = next
	s.items[itemID] = item
	return next, nil
}

func (s *Store) UpsertItem(_ context.Context, item domain.InventoryItem) error {
	if strings.TrimSpace(item.ID) == "" || item.Quantity < 0 {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *Store) InsertSaleHeader(_ context.Context, header domain.SaleHeader) error {
	if header.ID == "" || strings.TrimSpace(header.Buyer) == "" {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.headers[header.ID]; exists {
		return fmt.Errorf("%w: sale %s already exists", store.ErrInvalidRecord, header.ID)
	}
	s.headers[header.ID] = cloneHeader(header)
	return nil
}

func (s *Store) GetSaleHeader(_ context.Context, id string) (*domain.SaleHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	header, ok := s.headers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneHeader(header)
	return &dup, nil
}

func (s *Store) ListSaleHeaders(_ context.Context, filter domain.SaleFilter) ([]domain.SaleHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleHeader, 0, len(s.headers))
	for _, header := range s.headers {
		if !inRange(header.Date, filter) {
			continue
		}
		result = append(result, cloneHeader(header))
	}
	slices.SortFunc(result, func(a, b domain.SaleHeader) int {
		if !a.Date.Equal(b.Date) {
			return b.Date.Compare(a.Date)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) SetSaleLedgerRef(_ context.Context, saleID string, ledgerRef *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header, ok := s.headers[saleID]
	if !ok {
		return store.ErrNotFound
	}
	header.LedgerRef = cloneRef(ledgerRef)
	s.headers[saleID] = header
	return nil
}

func (s *Store) DeleteSaleHeader(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.linesBySale[id]) > 0 || len(s.movementsBySale[id]) > 0 {
		return fmt.Errorf("%w: sale %s still has lines or movements", store.ErrInvalidRecord, id)
	}
	delete(s.headers, id)
	return nil
}

func (s *Store) InsertSaleLines(_ context.Context, lines []domain.SaleLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		if _, ok := s.headers[line.SaleID]; !ok {
			return fmt.Errorf("%w: sale %s missing for line %s", store.ErrInvalidRecord, line.SaleID, line.ID)
		}
		if line.Quantity < 1 || line.BasePriceCents < 0 || line.DonationCents < 0 {
			return store.ErrInvalidRecord
		}
	}
	for _, line := range lines {
		s.linesBySale[line.SaleID] = append(s.linesBySale[line.SaleID], line)
	}
	return nil
}

func (s *Store) ListSaleLines(_ context.Context, saleID string) ([]domain.SaleLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.linesBySale[saleID]), nil
}

func (s *Store) DeleteSaleLines(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.linesBySale, saleID)
	return nil
}

func (s *Store) InsertStockMovements(_ context.Context, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mv := range movements {
		if _, ok := s.headers[mv.SaleID]; !ok {
			return fmt.Errorf("%w: sale %s missing for movement %s", store.ErrInvalidRecord, mv.SaleID, mv.ID)
		}
		if mv.Quantity < 1 || (mv.Direction != domain.MovementOut && mv.Direction != domain.MovementIn) {
			return store.ErrInvalidRecord
		}
	}
	for _, mv := range movements {
		s.movementsBySale[mv.SaleID] = append(s.movementsBySale[mv.SaleID], cloneMovement(mv))
	}
	return nil
}

func (s *Store) ListStockMovements(_ context.Context, saleID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.movementsBySale[saleID]
	result := make([]domain.StockMovement, 0, len(src))
	for _, mv := range src {
		result = append(result, cloneMovement(mv))
	}
	return result, nil
}

func (s *Store) SetMovementLedgerRef(_ context.Context, saleID string, ledgerRef *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	movements := s.movementsBySale[saleID]
	for i := range movements {
		movements[i].LedgerRef = cloneRef(ledgerRef)
	}
	return nil
}

func (s *Store) DeleteStockMovements(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.movementsBySale, saleID)
	return nil
}

func (s *Store) InsertLegacySale(_ context.Context, record domain.LegacySaleRecord) error {
	if record.ID == "" || record.ItemID == "" || record.Quantity < 1 {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.legacyByID[record.ID]; exists {
		return fmt.Errorf("%w: legacy sale %s already exists", store.ErrInvalidRecord, record.ID)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.legacyByID[record.ID] = cloneLegacy(record)
	return nil
}

func (s *Store) GetLegacySale(_ context.Context, id string) (*domain.LegacySaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.legacyByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneLegacy(record)
	return &dup, nil
}

func (s *Store) ListLegacySales(_ context.Context, filter domain.SaleFilter) ([]domain.LegacySaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LegacySaleRecord, 0, len(s.legacyByID))
	for _, record := range s.legacyByID {
		if !inRange(record.Date, filter) {
			continue
		}
		result = append(result, cloneLegacy(record))
	}
	slices.SortFunc(result, func(a, b domain.LegacySaleRecord) int {
		if !a.Date.Equal(b.Date) {
			return b.Date.Compare(a.Date)
		}
		return cmpString(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DeleteLegacySale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.legacyByID, id)
	return nil
}

func (s *Store) PostLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" || entry.AmountCents < 0 {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledgerByID[entry.ID]; exists {
		return fmt.Errorf("%w: ledger entry %s already exists", store.ErrInvalidRecord, entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.ledgerByID[entry.ID] = cloneLedger(entry)
	return nil
}

func (s *Store) GetLedgerEntry(_ context.Context, id string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.ledgerByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneLedger(entry)
	return &dup, nil
}

func (s *Store) FindLedgerEntries(_ context.Context, saleRef string, reference string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, 2)
	for _, entry := range s.ledgerByID {
		bySale := saleRef != "" && entry.SaleRef != nil && *entry.SaleRef == saleRef
		byReference := reference != "" && entry.Reference == reference
		if bySale || byReference {
			result = append(result, cloneLedger(entry))
		}
	}
	slices.SortFunc(result, func(a, b domain.LedgerEntry) int {
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) SetLedgerSaleRef(_ context.Context, id string, saleRef *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledgerByID[id]
	if !ok {
		return store.ErrNotFound
	}
	entry.SaleRef = cloneRef(saleRef)
	s.ledgerByID[id] = entry
	return nil
}

func (s *Store) DeleteLedgerEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ledgerByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func inRange(date time.Time, filter domain.SaleFilter) bool {
	if !filter.From.IsZero() && date.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !date.Before(filter.To) {
		return false
	}
	return true
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneRef(src *string) *string {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}

func cloneHeader(src domain.SaleHeader) domain.SaleHeader {
	dup := src
	dup.LedgerRef = cloneRef(src.LedgerRef)
	return dup
}

func cloneMovement(src domain.StockMovement) domain.StockMovement {
	dup := src
	dup.LedgerRef = cloneRef(src.LedgerRef)
	return dup
}

func cloneLedger(src domain.LedgerEntry) domain.LedgerEntry {
	dup := src
	dup.SaleRef = cloneRef(src.SaleRef)
	return dup
}

func cloneLegacy(src domain.LegacySaleRecord) domain.LegacySaleRecord {
	dup := src
	if src.BasePrice != nil {
		base := *src.BasePrice
		dup.BasePrice = &base
	}
	if src.Donation != nil {
		donation := *src.Donation
		dup.Donation = &donation
	}
	return dup
}

var _ store.Repository = (*Store)(nil)
