// Package amortization builds fixed-payment (French system) repayment schedules.
package amortization

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the monetary precision every emitted amount is rounded to.
const moneyPlaces = 2

// Terms are the inputs of a single schedule calculation.
type Terms struct {
	Principal    decimal.Decimal
	MonthlyRate  decimal.Decimal // decimal fraction, 0.05 = 5% per month
	Installments int
	StartDate    time.Time // zero value means "today"
}

// Row is one period of a schedule.
type Row struct {
	Sequence         int             `json:"sequence"`
	DueDate          time.Time       `json:"due_date"`
	Total            decimal.Decimal `json:"total"`
	Interest         decimal.Decimal `json:"interest"`
	Capital          decimal.Decimal `json:"capital"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// Schedule is the ordered list of rows produced by Compute.
type Schedule []Row

// InvalidTermsError reports which input made a calculation impossible.
type InvalidTermsError struct {
	Field  string
	Reason string
}

func (e *InvalidTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s", e.Field, e.Reason)
}

// Validate checks the preconditions of Compute.
func (t Terms) Validate() error {
	if !t.Principal.IsPositive() {
		return &InvalidTermsError{Field: "principal", Reason: "must be positive"}
	}
	if t.Installments < 1 {
		return &InvalidTermsError{Field: "installments", Reason: "must be at least 1"}
	}
	if t.MonthlyRate.IsNegative() {
		return &InvalidTermsError{Field: "monthly_rate", Reason: "must not be negative"}
	}
	return nil
}

// MonthlyPayment returns the level payment for the given terms, rounded to cents.
// A zero rate splits the principal evenly, truncating to cents so the last
// installment absorbs the remainder.
func MonthlyPayment(principal, rate decimal.Decimal, n int) decimal.Decimal {
	if rate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n))).Truncate(moneyPlaces)
	}

	// (1+r)^n by repeated multiplication keeps the factor exact.
	onePlusRate := decimal.NewFromInt(1).Add(rate)
	factor := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		factor = factor.Mul(onePlusRate)
	}

	numerator := principal.Mul(rate).Mul(factor)
	denominator := factor.Sub(decimal.NewFromInt(1))
	return numerator.Div(denominator).Round(moneyPlaces)
}

// Compute generates the amortization schedule for the given terms.
func Compute(t Terms) (Schedule, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	start := t.StartDate
	if start.IsZero() {
		start = Today(time.Now())
	}

	payment := MonthlyPayment(t.Principal, t.MonthlyRate, t.Installments)
	balance := t.Principal.Round(moneyPlaces)

	schedule := make(Schedule, 0, t.Installments)
	for i := 1; i <= t.Installments; i++ {
		interest := balance.Mul(t.MonthlyRate).Round(moneyPlaces)
		capital := payment.Sub(interest)

		// The last row settles whatever is left, absorbing rounding drift.
		if i == t.Installments || capital.GreaterThan(balance) {
			capital = balance
		}

		balance = balance.Sub(capital)
		if balance.IsNegative() {
			balance = decimal.Zero
		}

		schedule = append(schedule, Row{
			Sequence:         i,
			DueDate:          AddMonths(start, i),
			Total:            capital.Add(interest),
			Interest:         interest,
			Capital:          capital,
			RemainingBalance: balance,
		})
	}

	return schedule, nil
}

// TotalPaid is the sum of every row's total.
func (s Schedule) TotalPaid() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range s {
		sum = sum.Add(r.Total)
	}
	return sum
}

// TotalInterest is the sum of every row's interest portion.
func (s Schedule) TotalInterest() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range s {
		sum = sum.Add(r.Interest)
	}
	return sum
}

// TotalCapital is the sum of every row's capital portion.
func (s Schedule) TotalCapital() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range s {
		sum = sum.Add(r.Capital)
	}
	return sum
}
