package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
)

const installmentColumns = `id, loan_id, sequence, due_date, capital, interest, total, status, paid_at`

func insertInstallmentTx(tx *sql.Tx, inst *models.Installment) error {
	_, err := tx.Exec(
		`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID.String(), inst.LoanID.String(), inst.Sequence, inst.DueDate.UTC(), inst.Capital, inst.Interest, inst.Total, inst.Status, utcPtr(inst.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create installment %d: %w", inst.Sequence, err)
	}
	return nil
}

// GetInstallment retrieves an installment by its ID.
func (s *SQLiteStore) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	row := s.db.QueryRow(`SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id.String())
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

// GetInstallmentsForLoan retrieves all installments for a given loan ID, in sequence order.
func (s *SQLiteStore) GetInstallmentsForLoan(loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.db.Query(`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY sequence ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return installments, nil
}

func scanInstallment(row scanner) (*models.Installment, error) {
	var inst models.Installment
	var idStr, loanIDStr string
	var paidAt sql.NullTime
	err := row.Scan(&idStr, &loanIDStr, &inst.Sequence, &inst.DueDate, &inst.Capital, &inst.Interest, &inst.Total, &inst.Status, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan installment row: %w", err)
	}
	if inst.ID, err = parseID(idStr); err != nil {
		return nil, err
	}
	if inst.LoanID, err = parseID(loanIDStr); err != nil {
		return nil, err
	}
	if paidAt.Valid {
		inst.PaidAt = &paidAt.Time
	}
	return &inst, nil
}

// PayInstallment marks a pending or overdue installment as paid and, in the same
// transaction, closes the parent loan once none of its installments is unpaid.
func (s *SQLiteStore) PayInstallment(id uuid.UUID, paidAt time.Time) (bool, error) {
	var closed bool
	err := s.inTx(func(tx *sql.Tx) error {
		var loanIDStr string
		err := tx.QueryRow(`SELECT loan_id FROM installments WHERE id = ?`, id.String()).Scan(&loanIDStr)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up installment: %w", err)
		}

		result, err := tx.Exec(
			`UPDATE installments SET status = ?, paid_at = ? WHERE id = ? AND status IN (?, ?)`,
			models.InstallmentStatusPaid, paidAt.UTC(), id.String(), models.InstallmentStatusPending, models.InstallmentStatusOverdue,
		)
		if err != nil {
			return fmt.Errorf("failed to mark installment paid: %w", err)
		}
		if err := rowsAffected(result); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrStateConflict
			}
			return err
		}

		loanID, err := parseID(loanIDStr)
		if err != nil {
			return err
		}
		closed, err = settleLoanTx(tx, loanID)
		return err
	})
	return closed, err
}

// settleLoanTx closes an open loan when it has installments and none of them is unpaid.
func settleLoanTx(tx *sql.Tx, loanID uuid.UUID) (bool, error) {
	var total, unpaid int
	err := tx.QueryRow(
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status != ? THEN 1 ELSE 0 END), 0) FROM installments WHERE loan_id = ?`,
		models.InstallmentStatusPaid, loanID.String(),
	).Scan(&total, &unpaid)
	if err != nil {
		return false, fmt.Errorf("failed to count unpaid installments: %w", err)
	}
	if total == 0 || unpaid > 0 {
		return false, nil
	}

	result, err := tx.Exec(`UPDATE loans SET status = ? WHERE id = ? AND status IN (?, ?)`,
		models.LoanStatusPaid, loanID.String(), models.LoanStatusActive, models.LoanStatusOverdue)
	if err != nil {
		return false, fmt.Errorf("failed to close loan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// reopenLoanTx moves a paid loan back to active when it owns an unpaid installment.
func reopenLoanTx(tx *sql.Tx, loanID uuid.UUID) error {
	_, err := tx.Exec(
		`UPDATE loans SET status = ? WHERE id = ? AND status = ?
		AND EXISTS (SELECT 1 FROM installments WHERE loan_id = ? AND status != ?)`,
		models.LoanStatusActive, loanID.String(), models.LoanStatusPaid, loanID.String(), models.InstallmentStatusPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to reopen loan: %w", err)
	}
	return nil
}

// ApplyInstallmentEdits updates and deletes installments of one loan in a single
// transaction, then re-applies the loan completion rule in both directions.
func (s *SQLiteStore) ApplyInstallmentEdits(loanID uuid.UUID, updates []*models.Installment, deletes []uuid.UUID) error {
	return s.inTx(func(tx *sql.Tx) error {
		for _, id := range deletes {
			result, err := tx.Exec(`DELETE FROM installments WHERE id = ? AND loan_id = ?`, id.String(), loanID.String())
			if err != nil {
				return fmt.Errorf("failed to delete installment %s: %w", id, err)
			}
			if err := rowsAffected(result); err != nil {
				return err
			}
		}

		for _, inst := range updates {
			result, err := tx.Exec(
				`UPDATE installments SET due_date = ?, capital = ?, interest = ?, total = ?, status = ?, paid_at = ?
				WHERE id = ? AND loan_id = ?`,
				inst.DueDate.UTC(), inst.Capital, inst.Interest, inst.Total, inst.Status, utcPtr(inst.PaidAt),
				inst.ID.String(), loanID.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to update installment %s: %w", inst.ID, err)
			}
			if err := rowsAffected(result); err != nil {
				return err
			}
		}

		if _, err := settleLoanTx(tx, loanID); err != nil {
			return err
		}
		return reopenLoanTx(tx, loanID)
	})
}
