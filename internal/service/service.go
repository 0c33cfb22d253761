package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/sales"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const DefaultIdempotencyTTL = 10 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ActorName is the username stamped on created_by/updated_by.
func ActorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "system"
	}
	return actor.Username
}

type Service struct {
	repo           store.Repository
	engine         *sales.Engine
	submissions    cache.SubmissionCache
	idempotencyTTL time.Duration
}

func New(repo store.Repository, engine *sales.Engine, submissions cache.SubmissionCache, idempotencyTTL time.Duration) *Service {
	if submissions == nil {
		submissions = cache.NoopSubmissionCache{}
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = DefaultIdempotencyTTL
	}

	return &Service{
		repo:           repo,
		engine:         engine,
		submissions:    submissions,
		idempotencyTTL: idempotencyTTL,
	}
}

func (s *Service) ValidateStock(ctx context.Context, req domain.StockValidationRequest) (domain.StockValidation, error) {
	if len(req.Lines) == 0 {
		return domain.StockValidation{}, &sales.ValidationError{Field: "lines", Message: "at least one line is required"}
	}
	return s.engine.ValidateStock(ctx, req.Lines)
}

// CreateSale writes a new sale. A request carrying an idempotency key that
// already produced a sale returns that sale with Duplicate set; a key whose
// first submission is still running is rejected.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	draft, err := toDraft(req)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		reserved, err := s.submissions.Reserve(ctx, key, s.idempotencyTTL)
		if err != nil {
			return domain.SaleResponse{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !reserved {
			return s.replay(ctx, key)
		}
	}

	sale, err := s.engine.CreateSale(ctx, draft)
	if err != nil {
		if key != "" {
			if releaseErr := s.submissions.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
				log.Printf("[service] WARN: failed to release idempotency key %s: %v", key, releaseErr)
			}
		}
		return domain.SaleResponse{}, err
	}

	if key != "" {
		if err := s.submissions.Complete(context.WithoutCancel(ctx), key, sale.ID, s.idempotencyTTL); err != nil {
			log.Printf("[service] WARN: failed to complete idempotency key %s for sale %s: %v", key, sale.ID, err)
		}
	}
	s.logAudit(ctx, "sale.create", sale.ID, saleDetail(sale))
	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) replay(ctx context.Context, key string) (domain.SaleResponse, error) {
	sub, found, err := s.submissions.Get(ctx, key)
	if err != nil {
		return domain.SaleResponse{}, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !found || sub.State != cache.StateDone || sub.SaleID == "" {
		return domain.SaleResponse{}, sales.ErrDuplicateSubmission
	}

	sale, err := s.engine.ReadSale(ctx, sub.SaleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale, Duplicate: true}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.engine.ReadSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from string, to string, limit int) ([]domain.Sale, error) {
	filter := domain.SaleFilter{Limit: limit}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	var err error
	if filter.From, err = parseOptionalDate("from", from); err != nil {
		return nil, err
	}
	if filter.To, err = parseOptionalDate("to", to); err != nil {
		return nil, err
	}
	if !filter.To.IsZero() {
		// to is inclusive for callers
		filter.To = filter.To.Add(24 * time.Hour)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, &sales.ValidationError{Field: "from", Message: "from must not be after to"}
	}
	return s.engine.ListSales(ctx, filter)
}

func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleRequest) (domain.Sale, error) {
	draft, err := toDraft(req)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.engine.UpdateSale(ctx, strings.TrimSpace(id), draft)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, "sale.update", sale.ID, saleDetail(sale))
	return *sale, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &sales.ValidationError{Field: "id", Message: "sale id is required"}
	}
	if err := s.engine.DeleteSale(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "sale.delete", id, "")
	return nil
}

func (s *Service) MigrateLegacySale(ctx context.Context, id string) (domain.MigrationResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.MigrationResult{}, err
	}

	result, err := s.engine.MigrateLegacySale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MigrationResult{}, err
	}
	s.logAudit(ctx, "sale.migrate", result.SaleID, fmt.Sprintf("relinked=%d", result.Relinked))
	return *result, nil
}

// MigrateAllLegacySales converts every legacy record it finds. It keeps going
// past failures and returns them joined.
func (s *Service) MigrateAllLegacySales(ctx context.Context) ([]domain.MigrationResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	all, err := s.engine.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		return nil, err
	}

	results := make([]domain.MigrationResult, 0)
	var errs []error
	for _, sale := range all {
		if sale.Source != domain.SourceLegacy {
			continue
		}
		result, err := s.MigrateLegacySale(ctx, sale.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("migrate %s: %w", sale.ID, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now.Add(time.Second)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(date))
		if err != nil {
			return nil, &sales.ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
		}
		from, to = parsed.UTC(), parsed.UTC().Add(24*time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    "sale",
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=sale/%s: %v", action, entityID, err)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func toDraft(req domain.SaleRequest) (sales.Draft, error) {
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(req.Date))
		if err != nil {
			return sales.Draft{}, &sales.ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
		}
		date = parsed
	}

	lines := make([]domain.SaleLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		line.ItemID = strings.TrimSpace(line.ItemID)
		lines = append(lines, line)
	}
	return sales.Draft{
		Buyer: req.Buyer,
		Date:  date,
		Note:  req.Note,
		Lines: lines,
	}, nil
}

func parseOptionalDate(field string, val string) (time.Time, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(domain.DateLayout, val)
	if err != nil {
		return time.Time{}, &sales.ValidationError{Field: field, Message: "date must be YYYY-MM-DD"}
	}
	return parsed, nil
}

func saleDetail(sale *domain.Sale) string {
	return fmt.Sprintf("lines=%d grand_total_cents=%d", len(sale.Lines), sale.Totals.GrandCents)
}
