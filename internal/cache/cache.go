package cache

import (
	"context"
	"time"
)

const (
	StatePending = "pending"
	StateDone    = "done"
)

// Submission is what an idempotency key resolves to. SaleID is empty until
// the submission completes.
type Submission struct {
	State  string `json:"state"`
	SaleID string `json:"sale_id,omitempty"`
}

// SubmissionCache remembers caller-supplied idempotency keys for a short
// window so a retried or double-clicked submission does not create a second
// sale.
type SubmissionCache interface {
	Get(ctx context.Context, key string) (*Submission, bool, error)
	// Reserve claims key as pending. It reports false when the key is already
	// held by another submission.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, saleID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// NoopSubmissionCache accepts every submission and remembers none.
type NoopSubmissionCache struct{}

func (NoopSubmissionCache) Get(_ context.Context, _ string) (*Submission, bool, error) {
	return nil, false, nil
}

func (NoopSubmissionCache) Reserve(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopSubmissionCache) Complete(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopSubmissionCache) Release(_ context.Context, _ string) error {
	return nil
}
