package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Member struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"` // Set by an administrator after registration
	CreatedAt    time.Time `json:"created_at"`
}

type LoanStatus string

const (
	LoanStatusPending  LoanStatus = "pending"
	LoanStatusActive   LoanStatus = "active"
	LoanStatusPaid     LoanStatus = "paid"
	LoanStatusRejected LoanStatus = "rejected"
	LoanStatusOverdue  LoanStatus = "overdue"
)

// Open reports whether the loan still carries outstanding installments.
func (s LoanStatus) Open() bool {
	return s == LoanStatusActive || s == LoanStatusOverdue
}

type Loan struct {
	ID               uuid.UUID       `json:"id"`
	MemberID         uuid.UUID       `json:"member_id"`
	Principal        decimal.Decimal `json:"principal"`
	MonthlyRate      decimal.Decimal `json:"monthly_rate"` // e.g. 0.05 for 5% per month
	InstallmentCount int             `json:"installment_count"`
	Status           LoanStatus      `json:"status"`
	RequestedAt      time.Time       `json:"requested_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
}

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

type Installment struct {
	ID       uuid.UUID         `json:"id"`
	LoanID   uuid.UUID         `json:"loan_id"`
	Sequence int               `json:"sequence"`
	DueDate  time.Time         `json:"due_date"`
	Capital  decimal.Decimal   `json:"capital"`
	Interest decimal.Decimal   `json:"interest"`
	Total    decimal.Decimal   `json:"total"`
	Status   InstallmentStatus `json:"status"`
	PaidAt   *time.Time        `json:"paid_at,omitempty"`
}

// Unpaid reports whether the installment is still owed.
func (i *Installment) Unpaid() bool {
	return i.Status == InstallmentStatusPending || i.Status == InstallmentStatusOverdue
}

// EffectiveStatus derives overdue on read: a pending installment whose due date
// is before today counts as overdue. The stored status is left untouched.
func (i *Installment) EffectiveStatus(today time.Time) InstallmentStatus {
	if i.Status == InstallmentStatusPending && i.DueDate.Before(today) {
		return InstallmentStatusOverdue
	}
	return i.Status
}

type ContributionStatus string

const (
	ContributionStatusPending  ContributionStatus = "pending"
	ContributionStatusApproved ContributionStatus = "approved"
	ContributionStatusRejected ContributionStatus = "rejected"
)

// DefaultContributionKind is used when a member reports a contribution without a kind.
const DefaultContributionKind = "monthly"

type Contribution struct {
	ID           uuid.UUID          `json:"id"`
	MemberID     uuid.UUID          `json:"member_id"`
	Amount       decimal.Decimal    `json:"amount"`
	Kind         string             `json:"kind"` // monthly, extra, fine...
	Notes        string             `json:"notes,omitempty"`
	Status       ContributionStatus `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	ConfirmedAt  *time.Time         `json:"confirmed_at,omitempty"`
}
