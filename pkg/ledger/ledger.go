package ledger

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/fredFund/pkg/amortization"
	"github.com/mcclellann/fredFund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy holds the fund's lending rules.
type Policy struct {
	DefaultMonthlyRate decimal.Decimal
	MinPrincipal       decimal.Decimal
	MaxPrincipal       decimal.Decimal
	MaxInstallments    int
}

// DefaultPolicy is 5% monthly, 10,000 to 5,000,000 over at most 24 installments.
func DefaultPolicy() Policy {
	return Policy{
		DefaultMonthlyRate: decimal.NewFromFloat(0.05),
		MinPrincipal:       decimal.NewFromInt(10_000),
		MaxPrincipal:       decimal.NewFromInt(5_000_000),
		MaxInstallments:    24,
	}
}

// check applies the policy limits on top of the calculator's own preconditions.
func (p Policy) check(principal decimal.Decimal, installments int) error {
	if principal.LessThan(p.MinPrincipal) || principal.GreaterThan(p.MaxPrincipal) {
		return &InvalidTermsError{Field: "principal", Reason: fmt.Sprintf("must be between %s and %s", p.MinPrincipal, p.MaxPrincipal)}
	}
	if installments < 1 || installments > p.MaxInstallments {
		return &InvalidTermsError{Field: "installments", Reason: fmt.Sprintf("must be between 1 and %d", p.MaxInstallments)}
	}
	return nil
}

// Ledger handles the business logic for members, loans, installments and contributions.
type Ledger struct {
	storage  store.Storage
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for state transitions.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithPolicy overrides the default lending policy.
func WithPolicy(p Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		policy:   DefaultPolicy(),
		log:      zap.NewNop(),
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the lending policy in effect.
func (l *Ledger) Policy() Policy {
	return l.policy
}

func (l *Ledger) today() time.Time {
	return amortization.Today(l.now())
}
