package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/amortization"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

// clock is a settable time source shared with the ledger under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	ledger *Ledger
	store  *store.SQLiteStore
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c := &clock{now: day0}
	return &fixture{
		ledger: NewLedger(s, WithClock(c.Now)),
		store:  s,
		clock:  c,
	}
}

func (f *fixture) member(t *testing.T, username string) *models.Member {
	t.Helper()
	m, err := f.ledger.RegisterMember(Registration{Username: username, Password: "secret123", FullName: "Test " + username})
	require.NoError(t, err)
	m, err = f.ledger.SetMemberActive(m.ID, true)
	require.NoError(t, err)
	return m
}

func (f *fixture) approvedLoan(t *testing.T, memberID uuid.UUID, principal string, n int) (*models.Loan, []*models.Installment) {
	t.Helper()
	loan, err := f.ledger.RequestLoan(memberID, dec(principal), n)
	require.NoError(t, err)
	loan, installments, err := f.ledger.Approve(loan.ID, nil)
	require.NoError(t, err)
	return loan, installments
}

func TestRegisterMember(t *testing.T) {
	f := newFixture(t)

	m, err := f.ledger.RegisterMember(Registration{Username: "  ana  ", Password: "secret123", FullName: "Ana Diaz", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ana", m.Username)
	assert.False(t, m.Active)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.NotEqual(t, "secret123", m.PasswordHash)
	assert.True(t, CheckPassword(m, "secret123"))
	assert.False(t, CheckPassword(m, "wrong"))

	_, err = f.ledger.RegisterMember(Registration{Username: "ana", Password: "other123", FullName: "Other"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = f.ledger.RegisterMember(Registration{Username: "x", Password: "secret123", FullName: "Short"})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	m, err := f.ledger.RegisterMember(Registration{Username: "ana", Password: "secret123", FullName: "Ana Diaz"})
	require.NoError(t, err)

	_, err = f.ledger.Authenticate("ana", "secret123")
	assert.ErrorIs(t, err, ErrMemberInactive)

	_, err = f.ledger.SetMemberActive(m.ID, true)
	require.NoError(t, err)

	got, err := f.ledger.Authenticate(" ana ", "secret123")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = f.ledger.Authenticate("ana", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.ledger.Authenticate("nobody", "secret123")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestSetMemberRole(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "admin1")

	updated, err := f.ledger.SetMemberRole(m.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)

	_, err = f.ledger.SetMemberRole(m.ID, models.Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	var nf *NotFoundError
	_, err = f.ledger.SetMemberRole(uuid.New(), models.RoleAdmin)
	assert.ErrorAs(t, err, &nf)
}

func TestRequestLoan_Policy(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")

	loan, err := f.ledger.RequestLoan(m.ID, dec("600000"), 6)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, loan.Status)
	assertDecimal(t, "0.05", loan.MonthlyRate)

	tests := []struct {
		name      string
		principal string
		n         int
		field     string
	}{
		{"below minimum", "5000", 6, "principal"},
		{"above maximum", "5000001", 6, "principal"},
		{"zero installments", "20000", 0, "installments"},
		{"too many installments", "20000", 25, "installments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.RequestLoan(m.ID, dec(tt.principal), tt.n)
			var invalid *InvalidTermsError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestRequestLoan_InactiveMember(t *testing.T) {
	f := newFixture(t)
	m, err := f.ledger.RegisterMember(Registration{Username: "pending", Password: "secret123", FullName: "Not Yet"})
	require.NoError(t, err)

	_, err = f.ledger.RequestLoan(m.ID, dec("20000"), 2)
	assert.ErrorIs(t, err, ErrMemberInactive)

	_, err = f.ledger.ReportContribution(m.ID, dec("1000"), "", "")
	assert.ErrorIs(t, err, ErrMemberInactive)
}

func TestSimulate(t *testing.T) {
	f := newFixture(t)

	schedule, err := f.ledger.Simulate(dec("600000"), 6, time.Time{})
	require.NoError(t, err)
	require.Len(t, schedule, 6)
	assertDecimal(t, "118210.48", schedule[0].Total)
	assert.Equal(t, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)

	_, err = f.ledger.Simulate(dec("100"), 6, time.Time{})
	var invalid *InvalidTermsError
	assert.ErrorAs(t, err, &invalid)
}

func TestApprove_GeneratesSchedule(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")

	loan, installments := f.approvedLoan(t, m.ID, "600000", 6)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	require.NotNil(t, loan.ApprovedAt)
	require.Len(t, installments, 6)

	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, stored, 6)

	today := amortization.Today(day0)
	for i, inst := range stored {
		assert.Equal(t, i+1, inst.Sequence)
		assert.True(t, inst.DueDate.Equal(amortization.AddMonths(today, i+1)), "installment %d due %s", i+1, inst.DueDate)
		assert.Equal(t, models.InstallmentStatusPending, inst.Status)
		assert.Nil(t, inst.PaidAt)
	}
	assertDecimal(t, "118210.48", stored[0].Total)
	assertDecimal(t, "118210.49", stored[5].Total)

	reloaded, err := f.ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, reloaded.Status)
}

func TestApprove_Twice(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, _ := f.approvedLoan(t, m.ID, "600000", 6)

	_, _, err := f.ledger.Approve(loan.ID, nil)
	var stateErr *LoanStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.LoanStatusActive, stateErr.Status)

	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestApprove_Concurrent(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, err := f.ledger.RequestLoan(m.ID, dec("120000"), 12)
	require.NoError(t, err)

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.ledger.Approve(loan.ID, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stateErr *LoanStateError
		assert.ErrorAs(t, err, &stateErr)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 12)
}

func TestApprove_Override(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, err := f.ledger.RequestLoan(m.ID, dec("600000"), 6)
	require.NoError(t, err)

	principal := dec("300000")
	rate := dec("0.03")
	n := 3
	approved, installments, err := f.ledger.Approve(loan.ID, &TermsOverride{Principal: &principal, MonthlyRate: &rate, Installments: &n})
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assertDecimal(t, "300000", approved.Principal)

	reloaded, err := f.ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assertDecimal(t, "300000", reloaded.Principal)
	assertDecimal(t, "0.03", reloaded.MonthlyRate)
	assert.Equal(t, 3, reloaded.InstallmentCount)

	capital := decimal.Zero
	for _, inst := range installments {
		capital = capital.Add(inst.Capital)
	}
	assertDecimal(t, "300000", capital)
}

func TestApprove_InvalidOverrideLeavesLoanPending(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, err := f.ledger.RequestLoan(m.ID, dec("600000"), 6)
	require.NoError(t, err)

	zero := 0
	_, _, err = f.ledger.Approve(loan.ID, &TermsOverride{Installments: &zero})
	var invalid *InvalidTermsError
	require.ErrorAs(t, err, &invalid)

	reloaded, err := f.ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, reloaded.Status)
	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestApprove_UnknownLoan(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.ledger.Approve(uuid.New(), nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "loan", nf.Entity)
}

// failingStore lets a test break one storage call while delegating the rest.
type failingStore struct {
	store.Storage
	activateErr error
}

func (s *failingStore) ActivateLoan(loan *models.Loan, installments []*models.Installment) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	return s.Storage.ActivateLoan(loan, installments)
}

func TestApprove_StorageFailure(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, err := f.ledger.RequestLoan(m.ID, dec("600000"), 6)
	require.NoError(t, err)

	boom := errors.New("disk full")
	broken := NewLedger(&failingStore{Storage: f.store, activateErr: boom}, WithClock(f.clock.Now))
	_, _, err = broken.Approve(loan.ID, nil)
	assert.ErrorIs(t, err, boom)

	reloaded, err := f.ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, reloaded.Status)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, err := f.ledger.RequestLoan(m.ID, dec("50000"), 4)
	require.NoError(t, err)

	rejected, err := f.ledger.Reject(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusRejected, rejected.Status)

	var stateErr *LoanStateError
	_, err = f.ledger.Reject(loan.ID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "reject", stateErr.Op)

	_, _, err = f.ledger.Approve(loan.ID, nil)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.LoanStatusRejected, stateErr.Status)

	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRecordPayment_ClosesLoanOnLastInstallment(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, installments := f.approvedLoan(t, m.ID, "600000", 6)

	for _, inst := range installments[:5] {
		paid, current, err := f.ledger.RecordPayment(inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstallmentStatusPaid, paid.Status)
		require.NotNil(t, paid.PaidAt)
		assert.Equal(t, models.LoanStatusActive, current.Status)
	}

	_, current, err := f.ledger.RecordPayment(installments[5].ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPaid, current.Status)

	reloaded, err := f.ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPaid, reloaded.Status)
}

func TestRecordPayment_Errors(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	_, installments := f.approvedLoan(t, m.ID, "20000", 2)

	_, _, err := f.ledger.RecordPayment(installments[0].ID)
	require.NoError(t, err)

	var stateErr *InstallmentStateError
	_, _, err = f.ledger.RecordPayment(installments[0].ID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.InstallmentStatusPaid, stateErr.Status)

	var nf *NotFoundError
	_, _, err = f.ledger.RecordPayment(uuid.New())
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "installment", nf.Entity)
}

func TestRecordPayment_OverdueInstallment(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, installments := f.approvedLoan(t, m.ID, "20000", 2)

	f.clock.Set(day0.AddDate(0, 4, 0))
	detail, err := f.ledger.LoanDetail(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusOverdue, detail.Installments[0].Status)

	_, _, err = f.ledger.RecordPayment(installments[0].ID)
	require.NoError(t, err)
	_, current, err := f.ledger.RecordPayment(installments[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPaid, current.Status)
}

func TestDeleteLoan(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, _ := f.approvedLoan(t, m.ID, "20000", 2)

	require.NoError(t, f.ledger.DeleteLoan(loan.ID))

	var nf *NotFoundError
	_, err := f.ledger.GetLoan(loan.ID)
	assert.ErrorAs(t, err, &nf)
	stored, err := f.store.GetInstallmentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.ErrorAs(t, f.ledger.DeleteLoan(loan.ID), &nf)
}

func TestLoanDetail(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	loan, installments := f.approvedLoan(t, m.ID, "600000", 6)

	_, _, err := f.ledger.RecordPayment(installments[0].ID)
	require.NoError(t, err)

	detail, err := f.ledger.LoanDetail(loan.ID)
	require.NoError(t, err)
	require.Len(t, detail.Installments, 6)
	assertDecimal(t, "709262.89", detail.TotalDue)
	assertDecimal(t, "118210.48", detail.TotalPaid)
	assertDecimal(t, "591052.41", detail.Outstanding)
}

func TestContributions(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "saver")

	c, err := f.ledger.ReportContribution(m.ID, dec("25000"), "", "january")
	require.NoError(t, err)
	assert.Equal(t, models.ContributionStatusPending, c.Status)
	assert.Equal(t, models.DefaultContributionKind, c.Kind)

	pending, err := f.ledger.PendingContributions()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	approved, err := f.ledger.ApproveContribution(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContributionStatusApproved, approved.Status)
	require.NotNil(t, approved.ConfirmedAt)

	var stateErr *ContributionStateError
	_, err = f.ledger.ApproveContribution(c.ID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.ContributionStatusApproved, stateErr.Status)
	_, err = f.ledger.RejectContribution(c.ID)
	require.ErrorAs(t, err, &stateErr)

	_, err = f.ledger.ReportContribution(m.ID, dec("0"), "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.ReportContribution(m.ID, dec("-10"), "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	var nf *NotFoundError
	_, err = f.ledger.ApproveContribution(uuid.New())
	assert.ErrorAs(t, err, &nf)
}

func TestStanding_EmptyMember(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "newbie")

	s, err := f.ledger.Standing(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, s.MemberID)
	assert.True(t, s.TotalSaved.IsZero())
	assert.True(t, s.TotalDebt.IsZero())
	assert.Nil(t, s.NextDue)
	assert.Zero(t, s.ArrearsCount)
	assert.Zero(t, s.OpenLoans)

	var nf *NotFoundError
	_, err = f.ledger.Standing(uuid.New())
	assert.ErrorAs(t, err, &nf)
}

func TestStanding_DerivesArrears(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")

	c, err := f.ledger.ReportContribution(m.ID, dec("40000"), "", "")
	require.NoError(t, err)
	_, err = f.ledger.ApproveContribution(c.ID)
	require.NoError(t, err)
	_, err = f.ledger.ReportContribution(m.ID, dec("5000"), "", "still pending")
	require.NoError(t, err)

	_, installments := f.approvedLoan(t, m.ID, "600000", 6)

	// Installments fall due on the 15th of February and March.
	f.clock.Set(time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC))

	s, err := f.ledger.Standing(m.ID)
	require.NoError(t, err)
	assertDecimal(t, "40000", s.TotalSaved)
	assertDecimal(t, "709262.89", s.TotalDebt)
	assert.Equal(t, 2, s.ArrearsCount)
	assert.Equal(t, 1, s.OpenLoans)
	require.NotNil(t, s.NextDue)
	assert.Equal(t, installments[0].ID, s.NextDue.ID)
	assert.Equal(t, models.InstallmentStatusOverdue, s.NextDue.Status)

	_, _, err = f.ledger.RecordPayment(installments[0].ID)
	require.NoError(t, err)

	s, err = f.ledger.Standing(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ArrearsCount)
	assert.Equal(t, installments[1].ID, s.NextDue.ID)
	assertDecimal(t, "591052.41", s.TotalDebt)
}

func TestSummarizeStanding(t *testing.T) {
	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	open := &models.Loan{ID: uuid.New(), Status: models.LoanStatusActive}
	closed := &models.Loan{ID: uuid.New(), Status: models.LoanStatusPaid}
	paidAt := today.AddDate(0, 0, -3)

	byLoan := map[uuid.UUID][]*models.Installment{
		open.ID: {
			{ID: uuid.New(), Sequence: 1, DueDate: today.AddDate(0, -1, 0), Total: dec("100"), Status: models.InstallmentStatusPaid, PaidAt: &paidAt},
			{ID: uuid.New(), Sequence: 2, DueDate: today.AddDate(0, 0, -1), Total: dec("100"), Status: models.InstallmentStatusPending},
			{ID: uuid.New(), Sequence: 3, DueDate: today, Total: dec("100"), Status: models.InstallmentStatusPending},
		},
		closed.ID: {
			{ID: uuid.New(), Sequence: 1, DueDate: today.AddDate(0, -5, 0), Total: dec("999"), Status: models.InstallmentStatusPending},
		},
	}
	contributions := []*models.Contribution{
		{Amount: dec("10"), Status: models.ContributionStatusApproved},
		{Amount: dec("20"), Status: models.ContributionStatusPending},
		{Amount: dec("40"), Status: models.ContributionStatusRejected},
		{Amount: dec("5.5"), Status: models.ContributionStatusApproved},
	}

	s := summarizeStanding(today, contributions, []*models.Loan{open, closed}, byLoan)
	assertDecimal(t, "15.5", s.TotalSaved)
	assertDecimal(t, "200", s.TotalDebt)
	assert.Equal(t, 1, s.OpenLoans)
	// Due today is not yet overdue.
	assert.Equal(t, 1, s.ArrearsCount)
	require.NotNil(t, s.NextDue)
	assert.Equal(t, 2, s.NextDue.Sequence)
	assert.Equal(t, models.InstallmentStatusOverdue, s.NextDue.Status)
	assert.Equal(t, models.InstallmentStatusPending, byLoan[open.ID][1].Status, "stored row must not be mutated")
}

func TestFundReport(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "borrower")
	other := f.member(t, "saver")

	c, err := f.ledger.ReportContribution(other.ID, dec("50000"), "", "")
	require.NoError(t, err)
	_, err = f.ledger.ApproveContribution(c.ID)
	require.NoError(t, err)
	_, err = f.ledger.ReportContribution(other.ID, dec("20000"), "", "")
	require.NoError(t, err)

	_, installments := f.approvedLoan(t, m.ID, "600000", 6)
	_, _, err = f.ledger.RecordPayment(installments[0].ID)
	require.NoError(t, err)
	_, err = f.ledger.RequestLoan(other.ID, dec("100000"), 3)
	require.NoError(t, err)

	report, err := f.ledger.FundReport()
	require.NoError(t, err)
	assertDecimal(t, "50000", report.TotalSaved)
	assertDecimal(t, "600000", report.LentPrincipal)
	assertDecimal(t, "88210.48", report.RecoveredCapital)
	assertDecimal(t, "511789.52", report.ActivePortfolio)
	assertDecimal(t, "30000", report.InterestEarned)
	assert.Equal(t, 1, report.OpenLoans)
	assert.Equal(t, 1, report.PendingLoans)
	assert.Equal(t, 1, report.PendingContributions)
	assert.Zero(t, report.ArrearsCount)

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	report, err = f.ledger.FundReport()
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArrearsCount)
}
