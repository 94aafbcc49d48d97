package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReportContribution records a savings deposit awaiting administrator confirmation.
func (l *Ledger) ReportContribution(memberID uuid.UUID, amount decimal.Decimal, kind, notes string) (*models.Contribution, error) {
	if _, err := l.activeMember(memberID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = models.DefaultContributionKind
	}

	c := &models.Contribution{
		ID:           uuid.New(),
		MemberID:     memberID,
		Amount:       amount,
		Kind:         kind,
		Notes:        notes,
		Status:       models.ContributionStatusPending,
		RegisteredAt: l.now(),
	}
	if err := l.storage.CreateContribution(c); err != nil {
		return nil, fmt.Errorf("failed to store contribution: %w", err)
	}

	l.log.Info("contribution reported",
		zap.String("contribution_id", c.ID.String()),
		zap.String("member_id", memberID.String()),
		zap.String("amount", amount.StringFixed(2)))
	return c, nil
}

// ApproveContribution confirms a pending contribution into the fund.
func (l *Ledger) ApproveContribution(id uuid.UUID) (*models.Contribution, error) {
	return l.reviewContribution(id, models.ContributionStatusApproved, "approve")
}

// RejectContribution turns down a pending contribution.
func (l *Ledger) RejectContribution(id uuid.UUID) (*models.Contribution, error) {
	return l.reviewContribution(id, models.ContributionStatusRejected, "reject")
}

func (l *Ledger) reviewContribution(id uuid.UUID, status models.ContributionStatus, op string) (*models.Contribution, error) {
	c, err := l.storage.GetContribution(id)
	if err != nil {
		return nil, notFound(err, "contribution", id)
	}
	if c.Status != models.ContributionStatusPending {
		return nil, &ContributionStateError{ContributionID: id, Status: c.Status, Op: op}
	}

	now := l.now()
	if err := l.storage.SetContributionStatus(id, status, now); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			current, getErr := l.storage.GetContribution(id)
			if getErr != nil {
				return nil, notFound(getErr, "contribution", id)
			}
			return nil, &ContributionStateError{ContributionID: id, Status: current.Status, Op: op}
		}
		return nil, notFound(err, "contribution", id)
	}
	c.Status = status
	c.ConfirmedAt = &now

	l.log.Info("contribution reviewed",
		zap.String("contribution_id", id.String()),
		zap.String("member_id", c.MemberID.String()),
		zap.String("status", string(status)))
	return c, nil
}

// PendingContributions retrieves contributions awaiting review.
func (l *Ledger) PendingContributions() ([]*models.Contribution, error) {
	return l.storage.GetContributionsByStatus(models.ContributionStatusPending)
}

// ContributionsByStatus retrieves every contribution in the given review status.
func (l *Ledger) ContributionsByStatus(status models.ContributionStatus) ([]*models.Contribution, error) {
	return l.storage.GetContributionsByStatus(status)
}

// MemberContributions retrieves a member's contribution history, newest first.
func (l *Ledger) MemberContributions(memberID uuid.UUID) ([]*models.Contribution, error) {
	if _, err := l.GetMember(memberID); err != nil {
		return nil, err
	}
	return l.storage.GetContributionsForMember(memberID)
}
