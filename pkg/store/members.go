package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
)

const memberColumns = `id, username, password_hash, full_name, email, phone, role, active, created_at`

// CreateMember inserts a new member. A taken username yields ErrDuplicate.
func (s *SQLiteStore) CreateMember(member *models.Member) error {
	_, err := s.db.Exec(
		`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID.String(), member.Username, member.PasswordHash, member.FullName, member.Email, member.Phone, member.Role, member.Active, member.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by its ID.
func (s *SQLiteStore) GetMember(id uuid.UUID) (*models.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE id = ?`, id.String())
	return scanMember(row)
}

// GetMemberByUsername retrieves a member by its unique username.
func (s *SQLiteStore) GetMemberByUsername(username string) (*models.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE username = ?`, username)
	return scanMember(row)
}

// UpdateMember updates an existing member's profile, role and activation flag.
func (s *SQLiteStore) UpdateMember(member *models.Member) error {
	result, err := s.db.Exec(
		`UPDATE members SET full_name = ?, email = ?, phone = ?, role = ?, active = ?, password_hash = ? WHERE id = ?`,
		member.FullName, member.Email, member.Phone, member.Role, member.Active, member.PasswordHash, member.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return rowsAffected(result)
}

// GetAllMembers retrieves all members ordered by username.
func (s *SQLiteStore) GetAllMembers() ([]*models.Member, error) {
	rows, err := s.db.Query(`SELECT ` + memberColumns + ` FROM members ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return members, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*models.Member, error) {
	var member models.Member
	var idStr string
	err := row.Scan(&idStr, &member.Username, &member.PasswordHash, &member.FullName, &member.Email, &member.Phone, &member.Role, &member.Active, &member.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	if member.ID, err = parseID(idStr); err != nil {
		return nil, err
	}
	return &member, nil
}
