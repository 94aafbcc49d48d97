package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/amortization"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TermsOverride lets an administrator adjust a request at approval time.
// Nil fields keep the requested value.
type TermsOverride struct {
	Principal    *decimal.Decimal `json:"principal,omitempty"`
	MonthlyRate  *decimal.Decimal `json:"monthly_rate,omitempty"`
	Installments *int             `json:"installments,omitempty"`
}

// LoanDetail is a loan with its installments and running totals.
type LoanDetail struct {
	Loan         *models.Loan          `json:"loan"`
	Installments []*models.Installment `json:"installments"`
	TotalDue     decimal.Decimal       `json:"total_due"`
	TotalPaid    decimal.Decimal       `json:"total_paid"`
	Outstanding  decimal.Decimal       `json:"outstanding"`
}

// Simulate previews the schedule a request would produce at the default rate.
func (l *Ledger) Simulate(principal decimal.Decimal, installments int, start time.Time) (amortization.Schedule, error) {
	if err := l.policy.check(principal, installments); err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = l.today()
	}
	return amortization.Compute(amortization.Terms{
		Principal:    principal,
		MonthlyRate:  l.policy.DefaultMonthlyRate,
		Installments: installments,
		StartDate:    start,
	})
}

// RequestLoan records a pending loan request for an active member at the default rate.
func (l *Ledger) RequestLoan(memberID uuid.UUID, principal decimal.Decimal, installments int) (*models.Loan, error) {
	if _, err := l.activeMember(memberID); err != nil {
		return nil, err
	}
	if err := l.policy.check(principal, installments); err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:               uuid.New(),
		MemberID:         memberID,
		Principal:        principal,
		MonthlyRate:      l.policy.DefaultMonthlyRate,
		InstallmentCount: installments,
		Status:           models.LoanStatusPending,
		RequestedAt:      l.now(),
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Info("loan requested",
		zap.String("loan_id", loan.ID.String()),
		zap.String("member_id", memberID.String()),
		zap.String("principal", principal.StringFixed(2)),
		zap.Int("installments", installments))
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, notFound(err, "loan", id)
	}
	return loan, nil
}

// ListLoans retrieves all loans, or only those in status when it is not empty.
func (l *Ledger) ListLoans(status models.LoanStatus) ([]*models.Loan, error) {
	if status == "" {
		return l.storage.GetAllLoans()
	}
	return l.storage.GetLoansByStatus(status)
}

// PendingLoans retrieves the requests awaiting an administrator decision.
func (l *Ledger) PendingLoans() ([]*models.Loan, error) {
	return l.storage.GetLoansByStatus(models.LoanStatusPending)
}

// MemberLoans retrieves every loan of a member.
func (l *Ledger) MemberLoans(memberID uuid.UUID) ([]*models.Loan, error) {
	if _, err := l.GetMember(memberID); err != nil {
		return nil, err
	}
	return l.storage.GetLoansForMember(memberID)
}

// Approve generates the schedule for a pending loan and activates it. The
// status change and the installment batch are committed together; a loan that
// is not pending (including one approved concurrently) yields a LoanStateError.
func (l *Ledger) Approve(loanID uuid.UUID, override *TermsOverride) (*models.Loan, []*models.Installment, error) {
	loan, err := l.GetLoan(loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, nil, &LoanStateError{LoanID: loanID, Status: loan.Status, Op: "approve"}
	}

	terms := amortization.Terms{
		Principal:    loan.Principal,
		MonthlyRate:  loan.MonthlyRate,
		Installments: loan.InstallmentCount,
		StartDate:    l.today(),
	}
	if override != nil {
		if override.Principal != nil {
			terms.Principal = *override.Principal
		}
		if override.MonthlyRate != nil {
			terms.MonthlyRate = *override.MonthlyRate
		}
		if override.Installments != nil {
			terms.Installments = *override.Installments
		}
	}

	schedule, err := amortization.Compute(terms)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	loan.Principal = terms.Principal
	loan.MonthlyRate = terms.MonthlyRate
	loan.InstallmentCount = terms.Installments
	loan.ApprovedAt = &now

	installments := make([]*models.Installment, 0, len(schedule))
	for _, row := range schedule {
		installments = append(installments, &models.Installment{
			ID:       uuid.New(),
			LoanID:   loan.ID,
			Sequence: row.Sequence,
			DueDate:  row.DueDate,
			Capital:  row.Capital,
			Interest: row.Interest,
			Total:    row.Total,
			Status:   models.InstallmentStatusPending,
		})
	}

	if err := l.storage.ActivateLoan(loan, installments); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, nil, l.loanStateError(loanID, "approve")
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, &NotFoundError{Entity: "loan", ID: loanID.String()}
		}
		l.log.Error("loan approval failed", zap.String("loan_id", loanID.String()), zap.Error(err))
		return nil, nil, fmt.Errorf("failed to activate loan: %w", err)
	}
	loan.Status = models.LoanStatusActive

	l.log.Info("loan approved",
		zap.String("loan_id", loan.ID.String()),
		zap.String("member_id", loan.MemberID.String()),
		zap.Int("installments", len(installments)),
		zap.String("level_payment", schedule[0].Total.StringFixed(2)))
	return loan, installments, nil
}

// Reject closes a pending request without generating installments.
func (l *Ledger) Reject(loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, &LoanStateError{LoanID: loanID, Status: loan.Status, Op: "reject"}
	}

	if err := l.storage.RejectLoan(loanID); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, l.loanStateError(loanID, "reject")
		}
		return nil, notFound(err, "loan", loanID)
	}
	loan.Status = models.LoanStatusRejected

	l.log.Info("loan rejected", zap.String("loan_id", loanID.String()), zap.String("member_id", loan.MemberID.String()))
	return loan, nil
}

// loanStateError re-reads a loan that lost a guarded transition so the error
// carries the status it actually ended up in.
func (l *Ledger) loanStateError(loanID uuid.UUID, op string) error {
	loan, err := l.GetLoan(loanID)
	if err != nil {
		return err
	}
	return &LoanStateError{LoanID: loanID, Status: loan.Status, Op: op}
}

// DeleteLoan removes a loan together with its installments.
func (l *Ledger) DeleteLoan(loanID uuid.UUID) error {
	if err := l.storage.DeleteLoan(loanID); err != nil {
		return notFound(err, "loan", loanID)
	}
	l.log.Info("loan deleted", zap.String("loan_id", loanID.String()))
	return nil
}

// RecordPayment settles one installment. When it was the last unpaid one the
// loan becomes paid in the same transaction.
func (l *Ledger) RecordPayment(installmentID uuid.UUID) (*models.Installment, *models.Loan, error) {
	inst, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, nil, notFound(err, "installment", installmentID)
	}
	if !inst.Unpaid() {
		return nil, nil, &InstallmentStateError{InstallmentID: installmentID, Status: inst.Status}
	}

	closed, err := l.storage.PayInstallment(installmentID, l.now())
	if err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, nil, &InstallmentStateError{InstallmentID: installmentID, Status: models.InstallmentStatusPaid}
		}
		l.log.Error("payment failed", zap.String("installment_id", installmentID.String()), zap.Error(err))
		return nil, nil, notFound(err, "installment", installmentID)
	}

	if inst, err = l.storage.GetInstallment(installmentID); err != nil {
		return nil, nil, notFound(err, "installment", installmentID)
	}
	loan, err := l.GetLoan(inst.LoanID)
	if err != nil {
		return nil, nil, err
	}

	l.log.Info("installment paid",
		zap.String("installment_id", installmentID.String()),
		zap.String("loan_id", loan.ID.String()),
		zap.Int("sequence", inst.Sequence),
		zap.String("amount", inst.Total.StringFixed(2)),
		zap.Bool("loan_paid", closed))
	return inst, loan, nil
}

// LoanDetail returns a loan with its installments, overdue derived as of today.
func (l *Ledger) LoanDetail(loanID uuid.UUID) (*LoanDetail, error) {
	loan, err := l.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallmentsForLoan(loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}

	today := l.today()
	detail := &LoanDetail{
		Loan:         loan,
		Installments: make([]*models.Installment, 0, len(installments)),
		TotalDue:     decimal.Zero,
		TotalPaid:    decimal.Zero,
	}
	for _, inst := range installments {
		inst.Status = inst.EffectiveStatus(today)
		detail.Installments = append(detail.Installments, inst)
		detail.TotalDue = detail.TotalDue.Add(inst.Total)
		if inst.Status == models.InstallmentStatusPaid {
			detail.TotalPaid = detail.TotalPaid.Add(inst.Total)
		}
	}
	detail.Outstanding = detail.TotalDue.Sub(detail.TotalPaid)
	return detail, nil
}
