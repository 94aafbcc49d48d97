package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/shopspring/decimal"
)

// MemberStanding is a member's current position in the fund. It is computed
// on every call and never stored, so overdue reflects the day it was asked for.
type MemberStanding struct {
	MemberID     uuid.UUID           `json:"member_id"`
	TotalSaved   decimal.Decimal     `json:"total_saved"`
	TotalDebt    decimal.Decimal     `json:"total_debt"`
	NextDue      *models.Installment `json:"next_due,omitempty"`
	ArrearsCount int                 `json:"arrears_count"`
	OpenLoans    int                 `json:"open_loans"`
	AsOf         time.Time           `json:"as_of"`
}

// FundReport aggregates the whole fund for the administrator dashboard.
type FundReport struct {
	TotalSaved           decimal.Decimal `json:"total_saved"`
	LentPrincipal        decimal.Decimal `json:"lent_principal"`
	RecoveredCapital     decimal.Decimal `json:"recovered_capital"`
	ActivePortfolio      decimal.Decimal `json:"active_portfolio"`
	InterestEarned       decimal.Decimal `json:"interest_earned"`
	OpenLoans            int             `json:"open_loans"`
	ArrearsCount         int             `json:"arrears_count"`
	PendingLoans         int             `json:"pending_loans"`
	PendingContributions int             `json:"pending_contributions"`
	AsOf                 time.Time       `json:"as_of"`
}

// Standing derives a member's savings, debt, next due installment and arrears.
func (l *Ledger) Standing(memberID uuid.UUID) (*MemberStanding, error) {
	if _, err := l.GetMember(memberID); err != nil {
		return nil, err
	}

	contributions, err := l.storage.GetContributionsForMember(memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contributions: %w", err)
	}
	loans, err := l.storage.GetLoansForMember(memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}

	byLoan := make(map[uuid.UUID][]*models.Installment)
	for _, loan := range loans {
		if !loan.Status.Open() {
			continue
		}
		installments, err := l.storage.GetInstallmentsForLoan(loan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load installments for loan %s: %w", loan.ID, err)
		}
		byLoan[loan.ID] = installments
	}

	standing := summarizeStanding(l.today(), contributions, loans, byLoan)
	standing.MemberID = memberID
	return standing, nil
}

// summarizeStanding folds the member's rows into a standing as of today.
// Only open loans contribute debt; installments of other loans are ignored.
func summarizeStanding(today time.Time, contributions []*models.Contribution, loans []*models.Loan, byLoan map[uuid.UUID][]*models.Installment) *MemberStanding {
	s := &MemberStanding{
		TotalSaved: decimal.Zero,
		TotalDebt:  decimal.Zero,
		AsOf:       today,
	}

	for _, c := range contributions {
		if c.Status == models.ContributionStatusApproved {
			s.TotalSaved = s.TotalSaved.Add(c.Amount)
		}
	}

	for _, loan := range loans {
		if !loan.Status.Open() {
			continue
		}
		s.OpenLoans++
		for _, inst := range byLoan[loan.ID] {
			if !inst.Unpaid() {
				continue
			}
			s.TotalDebt = s.TotalDebt.Add(inst.Total)
			status := inst.EffectiveStatus(today)
			if status == models.InstallmentStatusOverdue {
				s.ArrearsCount++
			}
			if s.NextDue == nil || inst.DueDate.Before(s.NextDue.DueDate) {
				next := *inst
				next.Status = status
				s.NextDue = &next
			}
		}
	}
	return s
}

// FundReport computes the fund-wide totals: savings in the box, the active
// portfolio (open principal minus recovered capital) and interest earned.
func (l *Ledger) FundReport() (*FundReport, error) {
	today := l.today()
	report := &FundReport{
		TotalSaved:       decimal.Zero,
		LentPrincipal:    decimal.Zero,
		RecoveredCapital: decimal.Zero,
		InterestEarned:   decimal.Zero,
		AsOf:             today,
	}

	approved, err := l.storage.GetContributionsByStatus(models.ContributionStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved contributions: %w", err)
	}
	for _, c := range approved {
		report.TotalSaved = report.TotalSaved.Add(c.Amount)
	}

	pending, err := l.storage.GetContributionsByStatus(models.ContributionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending contributions: %w", err)
	}
	report.PendingContributions = len(pending)

	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}
	for _, loan := range loans {
		switch {
		case loan.Status == models.LoanStatusPending:
			report.PendingLoans++
			continue
		case loan.Status == models.LoanStatusRejected:
			continue
		}

		open := loan.Status.Open()
		if open {
			report.OpenLoans++
			report.LentPrincipal = report.LentPrincipal.Add(loan.Principal)
		}

		installments, err := l.storage.GetInstallmentsForLoan(loan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load installments for loan %s: %w", loan.ID, err)
		}
		for _, inst := range installments {
			if inst.Status == models.InstallmentStatusPaid {
				report.InterestEarned = report.InterestEarned.Add(inst.Interest)
				if open {
					report.RecoveredCapital = report.RecoveredCapital.Add(inst.Capital)
				}
				continue
			}
			if open && inst.EffectiveStatus(today) == models.InstallmentStatusOverdue {
				report.ArrearsCount++
			}
		}
	}
	report.ActivePortfolio = report.LentPrincipal.Sub(report.RecoveredCapital)
	return report, nil
}
