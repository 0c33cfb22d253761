package sales

import (
	"errors"
	"fmt"
	"strings"

	"koperasi/backend/internal/domain"
)

var (
	ErrValidation          = errors.New("invalid sale")
	ErrStock               = errors.New("insufficient stock")
	ErrLedger              = errors.New("sale could not be completed, no changes were made")
	ErrPartialRollback     = errors.New("partial rollback")
	ErrNotFound            = errors.New("sale not found")
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// Line error codes reported by the stock validator.
const (
	CodeInvalidQuantity   = "invalid_quantity"
	CodeItemNotFound      = "item_not_found"
	CodeInsufficientStock = "insufficient_stock"
)

// ValidationError is malformed input. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StockError carries every failing line so callers can show all of them at
// once.
type StockError struct {
	Lines []domain.LineError
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("line %d (%s): %s", line.Index+1, line.ItemID, line.Message))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *StockError) Unwrap() error {
	return ErrStock
}

// LedgerError reports a write failure after validation that was fully
// compensated.
type LedgerError struct {
	Step Step
	Err  error
}

func (e *LedgerError) Error() string {
	return ErrLedger.Error()
}

// Unwrap hides the store error. Err is kept for logging only.
func (e *LedgerError) Unwrap() error {
	return ErrLedger
}

// UndoFailure is one compensation action that did not complete.
type UndoFailure struct {
	Action string
	Err    error
}

// PartialRollbackError means compensation stopped partway and the stored
// state needs manual repair.
type PartialRollbackError struct {
	SaleID   string
	Op       string
	Step     Step
	Cause    error
	Failures []UndoFailure
}

func (e *PartialRollbackError) Error() string {
	actions := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		actions = append(actions, fmt.Sprintf("%s: %v", f.Action, f.Err))
	}
	return fmt.Sprintf("partial rollback of %s sale %s after %s failed (%v): %s",
		e.Op, e.SaleID, e.Step, e.Cause, strings.Join(actions, "; "))
}

func (e *PartialRollbackError) Unwrap() error {
	return ErrPartialRollback
}
