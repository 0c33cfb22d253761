// Package sales creates, reads, edits and deletes multi-item sales while
// keeping stock, sale records and the ledger consistent.
//
// Stores that implement store.Transactor run every in-store write of one
// operation inside a single transaction. Otherwise each write is an
// independent call and the engine keeps a journal of undo actions that it
// unwinds, newest first, when a later step fails. Undo actions for a ledger
// outside the transaction are unwound in both modes.
package sales

import (
	"context"
	"errors"
	"log"
	"time"

	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

const DefaultStepTimeout = 5 * time.Second

// Step names a point in a sale write. Errors report the step whose write
// failed.
type Step int

const (
	StepValidating Step = iota
	StepHeaderWritten
	StepLinesWritten
	StepMovementsWritten
	StepStockDecremented
	StepLedgerPosted
	StepLinked
	StepReversed
	StepLegacyRemoved
	StepCommitted
)

func (s Step) String() string {
	switch s {
	case StepValidating:
		return "validating"
	case StepHeaderWritten:
		return "header written"
	case StepLinesWritten:
		return "lines written"
	case StepMovementsWritten:
		return "movements written"
	case StepStockDecremented:
		return "stock decremented"
	case StepLedgerPosted:
		return "ledger posted"
	case StepLinked:
		return "linked"
	case StepReversed:
		return "previous sale reversed"
	case StepLegacyRemoved:
		return "legacy record removed"
	case StepCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// ActorFunc reports who is performing the current call.
type ActorFunc func(ctx context.Context) string

type Engine struct {
	repo        store.SalesRepository
	ledger      store.LedgerStore
	external    bool
	tx          store.Transactor
	stepTimeout time.Duration
	actor       ActorFunc
	now         func() time.Time
	newID       func(prefix string) string
}

type Option func(*Engine)

// WithStepTimeout bounds every individual store call.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithExternalLedger posts ledger entries to l instead of the sales
// repository. Those writes are never covered by a store transaction.
func WithExternalLedger(l store.LedgerStore) Option {
	return func(e *Engine) {
		if l != nil {
			e.ledger = l
			e.external = true
		}
	}
}

// WithoutTransactions forces journal compensation even when the repository
// supports transactions.
func WithoutTransactions() Option {
	return func(e *Engine) {
		e.tx = nil
	}
}

func WithActor(fn ActorFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.actor = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(repo store.SalesRepository, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		ledger:      repo,
		stepTimeout: DefaultStepTimeout,
		actor:       func(context.Context) string { return "" },
		now:         func() time.Time { return time.Now().UTC() },
		newID:       xid.New,
	}
	if tx, ok := repo.(store.Transactor); ok {
		e.tx = tx
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transactional reports whether in-store writes run inside one transaction.
func (e *Engine) Transactional() bool {
	return e.tx != nil
}

// step runs one store call under the step timeout. A timeout is a failure of
// that step.
func (e *Engine) step(ctx context.Context, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}

type undoAction struct {
	name     string
	external bool
	run      func(ctx context.Context) error
}

// unit is the set of collaborators one operation writes through, plus the
// undo actions registered so far.
type unit struct {
	repo     store.SalesRepository
	ledger   store.LedgerStore
	external bool
	undo     []undoAction
}

func (u *unit) push(name string, run func(ctx context.Context) error) {
	u.undo = append(u.undo, undoAction{name: name, run: run})
}

func (u *unit) pushLedger(name string, run func(ctx context.Context) error) {
	u.undo = append(u.undo, undoAction{name: name, external: u.external, run: run})
}

// unwind runs undo actions newest first and keeps going past failures so
// every failed action is reported. In-store actions are skipped after a
// transaction rollback has already discarded their writes.
func (e *Engine) unwind(ctx context.Context, u *unit, rolledBack bool) []UndoFailure {
	ctx = context.WithoutCancel(ctx)
	var failures []UndoFailure
	for i := len(u.undo) - 1; i >= 0; i-- {
		action := u.undo[i]
		if rolledBack && !action.external {
			continue
		}
		if err := e.step(ctx, action.run); err != nil {
			failures = append(failures, UndoFailure{Action: action.name, Err: err})
		}
	}
	return failures
}

type operation func(ctx context.Context, u *unit) (Step, error)

// run executes op to success or to a compensated failure. The caller's
// cancellation is detached; step timeouts bound the work instead.
func (e *Engine) run(ctx context.Context, name string, saleID string, op operation) error {
	ctx = context.WithoutCancel(ctx)

	var (
		u          *unit
		step       Step
		err        error
		rolledBack bool
	)
	if e.tx != nil {
		var opErr error
		err = e.tx.WithinTx(ctx, func(tx store.SalesRepository) error {
			u = e.newUnit(tx)
			step, opErr = op(ctx, u)
			return opErr
		})
		if err != nil && opErr == nil {
			step = StepCommitted
		}
		rolledBack = true
	} else {
		u = e.newUnit(e.repo)
		step, err = op(ctx, u)
	}
	if err == nil {
		return nil
	}

	var failures []UndoFailure
	if u != nil {
		failures = e.unwind(ctx, u, rolledBack)
	}
	if len(failures) > 0 {
		perr := &PartialRollbackError{SaleID: saleID, Op: name, Step: step, Cause: err, Failures: failures}
		log.Printf("[sales] ALERT: %v", perr)
		return perr
	}

	var (
		stockErr      *StockError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &stockErr):
		return stockErr
	case errors.As(err, &validationErr):
		return validationErr
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	}
	log.Printf("[sales] WARN: %s sale %s failed at %s, changes reverted: %v", name, saleID, step, err)
	return &LedgerError{Step: step, Err: err}
}

func (e *Engine) newUnit(repo store.SalesRepository) *unit {
	ledger := store.LedgerStore(repo)
	if e.external {
		ledger = e.ledger
	}
	return &unit{repo: repo, ledger: ledger, external: e.external}
}
