package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Edit rows carry the fields an administrator may change in bulk. They only
// ever update or (by absence) delete existing rows; they never create one.

type InstallmentEdit struct {
	ID       uuid.UUID         `json:"id" validate:"required"`
	DueDate  time.Time         `json:"due_date" validate:"required"`
	Capital  decimal.Decimal   `json:"capital"`
	Interest decimal.Decimal   `json:"interest"`
	Total    decimal.Decimal   `json:"total"`
	Status   InstallmentStatus `json:"status" validate:"oneof=pending paid overdue"`
}

type LoanEdit struct {
	ID               uuid.UUID       `json:"id" validate:"required"`
	Principal        decimal.Decimal `json:"principal"`
	InstallmentCount int             `json:"installment_count" validate:"min=1"`
	Status           LoanStatus      `json:"status" validate:"oneof=pending active paid rejected overdue"`
}

type ContributionEdit struct {
	ID     uuid.UUID          `json:"id" validate:"required"`
	Amount decimal.Decimal    `json:"amount"`
	Kind   string             `json:"kind" validate:"required"`
	Status ContributionStatus `json:"status" validate:"oneof=pending approved rejected"`
}

// ReconcileResult counts what a bulk edit changed.
type ReconcileResult struct {
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}
