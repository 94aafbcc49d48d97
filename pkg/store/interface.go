package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
)

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStateConflict is returned when a guarded transition finds the row in another state.
	ErrStateConflict = errors.New("record is not in the expected state")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// Storage defines the interface for database operations related to members,
// loans, installments and contributions.
//
// Methods that change state under a precondition (ActivateLoan, RejectLoan,
// PayInstallment, SetContributionStatus) check and transition in one statement
// so concurrent callers cannot both succeed.
type Storage interface {
	CreateMember(member *models.Member) error
	GetMember(id uuid.UUID) (*models.Member, error)
	GetMemberByUsername(username string) (*models.Member, error)
	UpdateMember(member *models.Member) error
	GetAllMembers() ([]*models.Member, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)
	GetLoansForMember(memberID uuid.UUID) ([]*models.Loan, error)
	DeleteLoan(id uuid.UUID) error
	// ActivateLoan moves a pending loan to active and inserts its installments atomically.
	ActivateLoan(loan *models.Loan, installments []*models.Installment) error
	RejectLoan(id uuid.UUID) error

	GetInstallment(id uuid.UUID) (*models.Installment, error)
	GetInstallmentsForLoan(loanID uuid.UUID) ([]*models.Installment, error)
	// PayInstallment marks an unpaid installment paid and closes the loan when
	// nothing else is owed. It reports whether the loan was closed.
	PayInstallment(id uuid.UUID, paidAt time.Time) (bool, error)

	CreateContribution(contribution *models.Contribution) error
	GetContribution(id uuid.UUID) (*models.Contribution, error)
	GetContributionsForMember(memberID uuid.UUID) ([]*models.Contribution, error)
	GetContributionsByStatus(status models.ContributionStatus) ([]*models.Contribution, error)
	SetContributionStatus(id uuid.UUID, status models.ContributionStatus, confirmedAt time.Time) error

	// Apply* write a precomputed reconcile plan for one parent in a single transaction.
	ApplyInstallmentEdits(loanID uuid.UUID, updates []*models.Installment, deletes []uuid.UUID) error
	ApplyLoanEdits(memberID uuid.UUID, updates []*models.Loan, deletes []uuid.UUID) error
	ApplyContributionEdits(memberID uuid.UUID, updates []*models.Contribution, deletes []uuid.UUID) error

	Close() error
}
