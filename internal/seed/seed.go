// Package seed loads a YAML catalog of inventory items, user accounts and
// pre-header legacy sales into a repository.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/sales"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

type Catalog struct {
	Items       []Item       `yaml:"items"`
	Users       []User       `yaml:"users"`
	LegacySales []LegacySale `yaml:"legacy_sales"`
}

type Item struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Quantity int    `yaml:"quantity"`
	Unit     string `yaml:"unit"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Inactive bool   `yaml:"inactive"`
}

// LegacySale prices are major currency units written as strings, e.g. "85000.00".
type LegacySale struct {
	ID              string `yaml:"id"`
	ItemID          string `yaml:"item_id"`
	Quantity        int    `yaml:"quantity"`
	UnitPrice       string `yaml:"unit_price"`
	BasePrice       string `yaml:"base_price"`
	Donation        string `yaml:"donation"`
	Buyer           string `yaml:"buyer"`
	Date            string `yaml:"date"`
	Note            string `yaml:"note"`
	LedgerReference string `yaml:"ledger_reference"`
}

type Summary struct {
	Items       int
	Users       int
	LegacySales int
	LedgerPosts int
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed catalog: %w", err)
	}
	return &c, nil
}

// Apply inserts items, users and legacy sales that do not exist yet. Items
// already in the repository keep their current stock, so re-seeding after
// sales does not reset inventory. A legacy sale already migrated to a sale
// header is not inserted again. Running it twice leaves the repository
// unchanged. A legacy sale with a ledger reference gets a matching sale
// income entry unless one is already posted under that reference.
func (c *Catalog) Apply(ctx context.Context, repo store.Repository) (Summary, error) {
	var sum Summary

	if len(c.Items) > 0 {
		ids := make([]string, 0, len(c.Items))
		for _, item := range c.Items {
			ids = append(ids, strings.TrimSpace(item.ID))
		}
		existing, err := repo.GetItemsByIDs(ctx, ids)
		if err != nil {
			return sum, fmt.Errorf("lookup items: %w", err)
		}
		for i, item := range c.Items {
			if _, ok := existing[ids[i]]; ok {
				continue
			}
			if err := repo.UpsertItem(ctx, domain.InventoryItem{
				ID:       ids[i],
				Name:     item.Name,
				Quantity: item.Quantity,
				Unit:     item.Unit,
			}); err != nil {
				return sum, fmt.Errorf("seed item %q: %w", item.ID, err)
			}
			existing[ids[i]] = domain.InventoryItem{ID: ids[i]}
			sum.Items++
		}
	}

	if len(c.Users) > 0 {
		existing, err := repo.ListUsers(ctx)
		if err != nil {
			return sum, fmt.Errorf("list users: %w", err)
		}
		known := make(map[string]bool, len(existing))
		for _, u := range existing {
			known[u.Username] = true
		}
		for _, u := range c.Users {
			username := strings.ToLower(strings.TrimSpace(u.Username))
			if known[username] {
				continue
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return sum, fmt.Errorf("hash password for %s: %w", username, err)
			}
			role := u.Role
			if role == "" {
				role = "clerk"
			}
			if err := repo.CreateUser(ctx, domain.UserAccount{
				Username:  username,
				Password:  string(hash),
				Role:      role,
				Active:    !u.Inactive,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return sum, fmt.Errorf("seed user %s: %w", username, err)
			}
			known[username] = true
			sum.Users++
		}
	}

	for _, ls := range c.LegacySales {
		record, err := ls.record()
		if err != nil {
			return sum, err
		}
		if _, err := repo.GetLegacySale(ctx, record.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return sum, fmt.Errorf("lookup legacy sale %s: %w", record.ID, err)
		}
		if _, err := repo.GetSaleHeader(ctx, record.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return sum, fmt.Errorf("lookup sale %s: %w", record.ID, err)
		}
		if err := repo.InsertLegacySale(ctx, record); err != nil {
			return sum, fmt.Errorf("seed legacy sale %s: %w", record.ID, err)
		}
		sum.LegacySales++

		posted, err := postLegacyIncome(ctx, repo, record)
		if err != nil {
			return sum, err
		}
		if posted {
			sum.LedgerPosts++
		}
	}

	return sum, nil
}

func postLegacyIncome(ctx context.Context, repo store.Repository, record domain.LegacySaleRecord) (bool, error) {
	if record.LedgerReference == "" {
		return false, nil
	}
	found, err := repo.FindLedgerEntries(ctx, "", record.LedgerReference)
	if err != nil {
		return false, fmt.Errorf("find ledger entries for %s: %w", record.ID, err)
	}
	if len(found) > 0 {
		return false, nil
	}

	sale := sales.Normalize(sales.LegacySource{Record: record})
	buyer := strings.TrimSpace(sale.Buyer)
	if buyer == "" {
		buyer = "unknown buyer"
	}
	if err := repo.PostLedgerEntry(ctx, domain.LedgerEntry{
		ID:          xid.New("led"),
		Category:    domain.LedgerCategorySaleIncome,
		AmountCents: sale.Totals.GrandCents,
		Date:        record.Date,
		Description: fmt.Sprintf("Sale to %s: %s x%d", buyer, record.ItemID, record.Quantity),
		Reference:   record.LedgerReference,
		CreatedBy:   "seed",
		CreatedAt:   record.CreatedAt,
	}); err != nil {
		return false, fmt.Errorf("post ledger entry for %s: %w", record.ID, err)
	}
	return true, nil
}

func (ls LegacySale) record() (domain.LegacySaleRecord, error) {
	id := strings.TrimSpace(ls.ID)
	if id == "" {
		return domain.LegacySaleRecord{}, errors.New("legacy sale without id")
	}

	date, err := time.Parse(domain.DateLayout, ls.Date)
	if err != nil {
		return domain.LegacySaleRecord{}, fmt.Errorf("legacy sale %s: date must be YYYY-MM-DD", id)
	}
	unit, err := decimal.NewFromString(ls.UnitPrice)
	if err != nil {
		return domain.LegacySaleRecord{}, fmt.Errorf("legacy sale %s: unit_price: %w", id, err)
	}
	base, err := optionalDecimal(ls.BasePrice)
	if err != nil {
		return domain.LegacySaleRecord{}, fmt.Errorf("legacy sale %s: base_price: %w", id, err)
	}
	donation, err := optionalDecimal(ls.Donation)
	if err != nil {
		return domain.LegacySaleRecord{}, fmt.Errorf("legacy sale %s: donation: %w", id, err)
	}

	return domain.LegacySaleRecord{
		ID:              id,
		ItemID:          strings.TrimSpace(ls.ItemID),
		Quantity:        ls.Quantity,
		UnitPrice:       unit,
		BasePrice:       base,
		Donation:        donation,
		Buyer:           ls.Buyer,
		Date:            date,
		Note:            ls.Note,
		LedgerReference: ls.LedgerReference,
		CreatedAt:       date,
	}, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &d, nil
}
