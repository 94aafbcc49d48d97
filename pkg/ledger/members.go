package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Registration is what a prospective member submits.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=100"`
	Phone    string `json:"phone" validate:"max=20"`
}

// RegisterMember creates an inactive member with a bcrypt-hashed password.
// An administrator must activate the member before they can borrow or save.
func (l *Ledger) RegisterMember(reg Registration) (*models.Member, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	if err := l.validate.Struct(reg); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	member := &models.Member{
		ID:           uuid.New(),
		Username:     reg.Username,
		PasswordHash: string(hash),
		FullName:     reg.FullName,
		Email:        reg.Email,
		Phone:        reg.Phone,
		Role:         models.RoleMember,
		Active:       false,
		CreatedAt:    l.now(),
	}
	if err := l.storage.CreateMember(member); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to store member: %w", err)
	}

	l.log.Info("member registered", zap.String("member_id", member.ID.String()), zap.String("username", member.Username))
	return member, nil
}

// CheckPassword reports whether password matches the member's stored hash.
func CheckPassword(member *models.Member, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)) == nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrBadCredentials; a correct password on an account
// that has not been activated yields ErrMemberInactive.
func (l *Ledger) Authenticate(username, password string) (*models.Member, error) {
	member, err := l.storage.GetMemberByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("failed to look up member: %w", err)
	}
	if !CheckPassword(member, password) {
		l.log.Warn("login failed", zap.String("member_id", member.ID.String()))
		return nil, ErrBadCredentials
	}
	if !member.Active {
		return nil, ErrMemberInactive
	}
	return member, nil
}

// GetMember retrieves a member by its ID.
func (l *Ledger) GetMember(id uuid.UUID) (*models.Member, error) {
	member, err := l.storage.GetMember(id)
	if err != nil {
		return nil, notFound(err, "member", id)
	}
	return member, nil
}

// ListMembers retrieves all members.
func (l *Ledger) ListMembers() ([]*models.Member, error) {
	return l.storage.GetAllMembers()
}

// SetMemberActive activates or blocks a member.
func (l *Ledger) SetMemberActive(id uuid.UUID, active bool) (*models.Member, error) {
	member, err := l.GetMember(id)
	if err != nil {
		return nil, err
	}
	member.Active = active
	if err := l.storage.UpdateMember(member); err != nil {
		return nil, notFound(err, "member", id)
	}
	l.log.Info("member activation changed", zap.String("member_id", id.String()), zap.Bool("active", active))
	return member, nil
}

// SetMemberRole changes a member's role.
func (l *Ledger) SetMemberRole(id uuid.UUID, role models.Role) (*models.Member, error) {
	if role != models.RoleMember && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	member, err := l.GetMember(id)
	if err != nil {
		return nil, err
	}
	member.Role = role
	if err := l.storage.UpdateMember(member); err != nil {
		return nil, notFound(err, "member", id)
	}
	l.log.Info("member role changed", zap.String("member_id", id.String()), zap.String("role", string(role)))
	return member, nil
}

// activeMember loads a member and requires it to be active.
func (l *Ledger) activeMember(id uuid.UUID) (*models.Member, error) {
	member, err := l.GetMember(id)
	if err != nil {
		return nil, err
	}
	if !member.Active {
		return nil, fmt.Errorf("%w: %s", ErrMemberInactive, id)
	}
	return member, nil
}
