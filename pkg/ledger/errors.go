package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/amortization"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
)

// InvalidTermsError is returned when loan terms fail validation, either by the
// calculator or by the fund's lending policy.
type InvalidTermsError = amortization.InvalidTermsError

var (
	ErrDuplicateUsername = errors.New("username already taken")
	ErrMemberInactive    = errors.New("member is not active")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidRole       = errors.New("unknown role")
	ErrBadCredentials    = errors.New("invalid username or password")
)

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// LoanStateError reports an operation attempted on a loan outside its required state.
type LoanStateError struct {
	LoanID uuid.UUID
	Status models.LoanStatus
	Op     string
}

func (e *LoanStateError) Error() string {
	return fmt.Sprintf("cannot %s loan %s: status is %s", e.Op, e.LoanID, e.Status)
}

// InstallmentStateError reports a payment against an installment that is already settled.
type InstallmentStateError struct {
	InstallmentID uuid.UUID
	Status        models.InstallmentStatus
}

func (e *InstallmentStateError) Error() string {
	return fmt.Sprintf("cannot record payment for installment %s: status is %s", e.InstallmentID, e.Status)
}

// ContributionStateError reports a review of a contribution that is no longer pending.
type ContributionStateError struct {
	ContributionID uuid.UUID
	Status         models.ContributionStatus
	Op             string
}

func (e *ContributionStateError) Error() string {
	return fmt.Sprintf("cannot %s contribution %s: status is %s", e.Op, e.ContributionID, e.Status)
}

// ReconcileConflictError reports an edited row that does not belong to the stated parent.
type ReconcileConflictError struct {
	Parent   string
	ParentID uuid.UUID
	RowID    uuid.UUID
	Reason   string
}

func (e *ReconcileConflictError) Error() string {
	return fmt.Sprintf("reconcile %s %s: row %s %s", e.Parent, e.ParentID, e.RowID, e.Reason)
}

// notFound converts store.ErrNotFound into a NotFoundError and wraps anything else.
func notFound(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id.String()}
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}
