package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
	"go.uber.org/zap"
)

const loanColumns = `id, member_id, principal, monthly_rate, installment_count, status, requested_at, approved_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberID.String(), loan.Principal, loan.MonthlyRate, loan.InstallmentCount, loan.Status, loan.RequestedAt.UTC(), utcPtr(loan.ApprovedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return loan, err
}

// GetAllLoans retrieves all loans, oldest request first.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	return s.queryLoans(`SELECT ` + loanColumns + ` FROM loans ORDER BY requested_at`)
}

// GetLoansByStatus retrieves all loans in the given status.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY requested_at`, status)
}

// GetLoansForMember retrieves every loan owned by a member.
func (s *SQLiteStore) GetLoansForMember(memberID uuid.UUID) ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE member_id = ? ORDER BY requested_at`, memberID.String())
}

func (s *SQLiteStore) queryLoans(query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, memberIDStr string
	var approvedAt sql.NullTime
	err := row.Scan(&idStr, &memberIDStr, &loan.Principal, &loan.MonthlyRate, &loan.InstallmentCount, &loan.Status, &loan.RequestedAt, &approvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan loan row: %w", err)
	}
	if loan.ID, err = parseID(idStr); err != nil {
		return nil, err
	}
	if loan.MemberID, err = parseID(memberIDStr); err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	return &loan, nil
}

// DeleteLoan removes a loan and its installments from the database within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	return s.inTx(func(tx *sql.Tx) error {
		return deleteLoanTx(tx, id)
	})
}

func deleteLoanTx(tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	return rowsAffected(result)
}

// ActivateLoan moves a pending loan to active, storing the (possibly adjusted)
// terms and approval time, and inserts the installment batch. The guard is part
// of the UPDATE: a loan that is no longer pending, or that already owns
// installments, yields ErrStateConflict and no installments are written.
func (s *SQLiteStore) ActivateLoan(loan *models.Loan, installments []*models.Installment) error {
	return s.inTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`UPDATE loans SET status = ?, approved_at = ?, principal = ?, monthly_rate = ?, installment_count = ?
			WHERE id = ? AND status = ? AND NOT EXISTS (SELECT 1 FROM installments WHERE loan_id = ?)`,
			models.LoanStatusActive, utcPtr(loan.ApprovedAt), loan.Principal, loan.MonthlyRate, loan.InstallmentCount,
			loan.ID.String(), models.LoanStatusPending, loan.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to activate loan: %w", err)
		}
		if err := s.guardErr(tx, result, loan.ID); err != nil {
			return err
		}

		for _, inst := range installments {
			if err := insertInstallmentTx(tx, inst); err != nil {
				return err
			}
		}
		s.log.Debug("loan activated", zap.String("loan_id", loan.ID.String()), zap.Int("installments", len(installments)))
		return nil
	})
}

// RejectLoan moves a pending loan to rejected.
func (s *SQLiteStore) RejectLoan(id uuid.UUID) error {
	return s.inTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE loans SET status = ? WHERE id = ? AND status = ?`,
			models.LoanStatusRejected, id.String(), models.LoanStatusPending)
		if err != nil {
			return fmt.Errorf("failed to reject loan: %w", err)
		}
		return s.guardErr(tx, result, id)
	})
}

// guardErr distinguishes a missing loan from one in the wrong state after a
// guarded UPDATE touched no rows.
func (s *SQLiteStore) guardErr(tx *sql.Tx, result sql.Result, id uuid.UUID) error {
	err := rowsAffected(result)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM loans WHERE id = ?`, id.String()).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check loan existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStateConflict
}

// ApplyLoanEdits updates and deletes loans of one member in a single transaction.
// Every row is matched on both id and member so another member's loan is never touched.
func (s *SQLiteStore) ApplyLoanEdits(memberID uuid.UUID, updates []*models.Loan, deletes []uuid.UUID) error {
	return s.inTx(func(tx *sql.Tx) error {
		for _, id := range deletes {
			var owner string
			err := tx.QueryRow(`SELECT member_id FROM loans WHERE id = ?`, id.String()).Scan(&owner)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != memberID.String()) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to look up loan %s: %w", id, err)
			}
			if err := deleteLoanTx(tx, id); err != nil {
				return err
			}
		}

		for _, loan := range updates {
			result, err := tx.Exec(
				`UPDATE loans SET principal = ?, installment_count = ?, status = ? WHERE id = ? AND member_id = ?`,
				loan.Principal, loan.InstallmentCount, loan.Status, loan.ID.String(), memberID.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
			}
			if err := rowsAffected(result); err != nil {
				return err
			}
		}
		return nil
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
