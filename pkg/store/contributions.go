package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
)

const contributionColumns = `id, member_id, amount, kind, notes, status, registered_at, confirmed_at`

// CreateContribution inserts a new contribution.
func (s *SQLiteStore) CreateContribution(c *models.Contribution) error {
	_, err := s.db.Exec(
		`INSERT INTO contributions (`+contributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.MemberID.String(), c.Amount, c.Kind, c.Notes, c.Status, c.RegisteredAt.UTC(), utcPtr(c.ConfirmedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

// GetContribution retrieves a contribution by its ID.
func (s *SQLiteStore) GetContribution(id uuid.UUID) (*models.Contribution, error) {
	row := s.db.QueryRow(`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id.String())
	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// GetContributionsForMember retrieves a member's contributions, newest first.
func (s *SQLiteStore) GetContributionsForMember(memberID uuid.UUID) ([]*models.Contribution, error) {
	return s.queryContributions(`SELECT `+contributionColumns+` FROM contributions WHERE member_id = ? ORDER BY registered_at DESC`, memberID.String())
}

// GetContributionsByStatus retrieves all contributions in the given status, oldest first.
func (s *SQLiteStore) GetContributionsByStatus(status models.ContributionStatus) ([]*models.Contribution, error) {
	return s.queryContributions(`SELECT `+contributionColumns+` FROM contributions WHERE status = ? ORDER BY registered_at`, status)
}

func (s *SQLiteStore) queryContributions(query string, args ...any) ([]*models.Contribution, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return out, nil
}

func scanContribution(row scanner) (*models.Contribution, error) {
	var c models.Contribution
	var idStr, memberIDStr string
	var confirmedAt sql.NullTime
	err := row.Scan(&idStr, &memberIDStr, &c.Amount, &c.Kind, &c.Notes, &c.Status, &c.RegisteredAt, &confirmedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan contribution row: %w", err)
	}
	if c.ID, err = parseID(idStr); err != nil {
		return nil, err
	}
	if c.MemberID, err = parseID(memberIDStr); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		c.ConfirmedAt = &confirmedAt.Time
	}
	return &c, nil
}

// SetContributionStatus moves a pending contribution to a terminal status.
func (s *SQLiteStore) SetContributionStatus(id uuid.UUID, status models.ContributionStatus, confirmedAt time.Time) error {
	return s.inTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE contributions SET status = ?, confirmed_at = ? WHERE id = ? AND status = ?`,
			status, confirmedAt.UTC(), id.String(), models.ContributionStatusPending)
		if err != nil {
			return fmt.Errorf("failed to update contribution status: %w", err)
		}
		err = rowsAffected(result)
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM contributions WHERE id = ?`, id.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check contribution existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStateConflict
	})
}

// ApplyContributionEdits updates and deletes contributions of one member in a single transaction.
func (s *SQLiteStore) ApplyContributionEdits(memberID uuid.UUID, updates []*models.Contribution, deletes []uuid.UUID) error {
	return s.inTx(func(tx *sql.Tx) error {
		for _, id := range deletes {
			result, err := tx.Exec(`DELETE FROM contributions WHERE id = ? AND member_id = ?`, id.String(), memberID.String())
			if err != nil {
				return fmt.Errorf("failed to delete contribution %s: %w", id, err)
			}
			if err := rowsAffected(result); err != nil {
				return err
			}
		}

		for _, c := range updates {
			result, err := tx.Exec(
				`UPDATE contributions SET amount = ?, kind = ?, status = ?, confirmed_at = ? WHERE id = ? AND member_id = ?`,
				c.Amount, c.Kind, c.Status, utcPtr(c.ConfirmedAt), c.ID.String(), memberID.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to update contribution %s: %w", c.ID, err)
			}
			if err := rowsAffected(result); err != nil {
				return err
			}
		}
		return nil
	})
}
