package ledger

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"go.uber.org/zap"
)

// reconcilePlan is the diff between stored child rows and an edited row set.
type reconcilePlan struct {
	deletes []uuid.UUID
}

// planReconcile checks that every edited id is a stored child of the parent,
// and lists the stored ids missing from the edit (deleted only if allowDelete).
// Edited ids that are unknown or repeated fail the whole reconcile.
func planReconcile(parent string, parentID uuid.UUID, stored, edited []uuid.UUID, allowDelete bool) (reconcilePlan, error) {
	owned := make(map[uuid.UUID]bool, len(stored))
	for _, id := range stored {
		owned[id] = true
	}

	seen := make(map[uuid.UUID]bool, len(edited))
	for _, id := range edited {
		if !owned[id] {
			return reconcilePlan{}, &ReconcileConflictError{Parent: parent, ParentID: parentID, RowID: id, Reason: "is not owned by this " + parent}
		}
		if seen[id] {
			return reconcilePlan{}, &ReconcileConflictError{Parent: parent, ParentID: parentID, RowID: id, Reason: "appears more than once"}
		}
		seen[id] = true
	}

	var plan reconcilePlan
	if allowDelete {
		for _, id := range stored {
			if !seen[id] {
				plan.deletes = append(plan.deletes, id)
			}
		}
	}
	return plan, nil
}

// applyErr maps a store failure while applying a plan. A row that disappeared
// between planning and applying is reported as a conflict.
func applyErr(err error, parent string, parentID uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return &ReconcileConflictError{Parent: parent, ParentID: parentID, Reason: "changed while being edited"}
	}
	return fmt.Errorf("failed to reconcile %s %s: %w", parent, parentID, err)
}

func validateRows[T any](v *validator.Validate, rows []T) error {
	for i := range rows {
		if err := v.Struct(rows[i]); err != nil {
			return fmt.Errorf("invalid edited row %d: %w", i, err)
		}
	}
	return nil
}

// ReconcileInstallments applies an administrator's edited installment table to
// a loan: matching rows get their fields overwritten, rows left out are deleted
// when allowDelete is set. No installment is ever created here.
func (l *Ledger) ReconcileInstallments(loanID uuid.UUID, rows []models.InstallmentEdit, allowDelete bool) (models.ReconcileResult, error) {
	if err := validateRows(l.validate, rows); err != nil {
		return models.ReconcileResult{}, err
	}
	if _, err := l.GetLoan(loanID); err != nil {
		return models.ReconcileResult{}, err
	}

	stored, err := l.storage.GetInstallmentsForLoan(loanID)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("failed to load installments: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Installment, len(stored))
	storedIDs := make([]uuid.UUID, 0, len(stored))
	for _, inst := range stored {
		byID[inst.ID] = inst
		storedIDs = append(storedIDs, inst.ID)
	}
	editedIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		editedIDs = append(editedIDs, row.ID)
	}

	plan, err := planReconcile("loan", loanID, storedIDs, editedIDs, allowDelete)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	now := l.now()
	updates := make([]*models.Installment, 0, len(rows))
	for _, row := range rows {
		inst := *byID[row.ID]
		inst.DueDate = row.DueDate
		inst.Capital = row.Capital
		inst.Interest = row.Interest
		inst.Total = row.Total
		inst.Status = row.Status
		switch {
		case inst.Status != models.InstallmentStatusPaid:
			inst.PaidAt = nil
		case inst.PaidAt == nil:
			inst.PaidAt = &now
		}
		updates = append(updates, &inst)
	}

	if err := l.storage.ApplyInstallmentEdits(loanID, updates, plan.deletes); err != nil {
		return models.ReconcileResult{}, applyErr(err, "loan", loanID)
	}

	result := models.ReconcileResult{Updated: len(updates), Deleted: len(plan.deletes)}
	l.log.Info("installments reconciled", zap.String("loan_id", loanID.String()), zap.Int("updated", result.Updated), zap.Int("deleted", result.Deleted))
	return result, nil
}

// ReconcileLoans applies an edited loan table to a member. Deleting a loan
// also deletes its installments.
func (l *Ledger) ReconcileLoans(memberID uuid.UUID, rows []models.LoanEdit, allowDelete bool) (models.ReconcileResult, error) {
	if err := validateRows(l.validate, rows); err != nil {
		return models.ReconcileResult{}, err
	}
	for _, row := range rows {
		if !row.Principal.IsPositive() {
			return models.ReconcileResult{}, &InvalidTermsError{Field: "principal", Reason: "must be positive"}
		}
	}
	if _, err := l.GetMember(memberID); err != nil {
		return models.ReconcileResult{}, err
	}

	stored, err := l.storage.GetLoansForMember(memberID)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("failed to load loans: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Loan, len(stored))
	storedIDs := make([]uuid.UUID, 0, len(stored))
	for _, loan := range stored {
		byID[loan.ID] = loan
		storedIDs = append(storedIDs, loan.ID)
	}
	editedIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		editedIDs = append(editedIDs, row.ID)
	}

	plan, err := planReconcile("member", memberID, storedIDs, editedIDs, allowDelete)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	updates := make([]*models.Loan, 0, len(rows))
	for _, row := range rows {
		if row.Status == models.LoanStatusPending || row.Status == models.LoanStatusRejected {
			scheduled, err := l.storage.GetInstallmentsForLoan(row.ID)
			if err != nil {
				return models.ReconcileResult{}, fmt.Errorf("failed to load installments: %w", err)
			}
			if len(scheduled) > 0 {
				return models.ReconcileResult{}, &ReconcileConflictError{Parent: "member", ParentID: memberID, RowID: row.ID, Reason: "already has a schedule and cannot be " + string(row.Status)}
			}
		}
		loan := *byID[row.ID]
		loan.Principal = row.Principal
		loan.InstallmentCount = row.InstallmentCount
		loan.Status = row.Status
		updates = append(updates, &loan)
	}

	if err := l.storage.ApplyLoanEdits(memberID, updates, plan.deletes); err != nil {
		return models.ReconcileResult{}, applyErr(err, "member", memberID)
	}

	result := models.ReconcileResult{Updated: len(updates), Deleted: len(plan.deletes)}
	l.log.Info("loans reconciled", zap.String("member_id", memberID.String()), zap.Int("updated", result.Updated), zap.Int("deleted", result.Deleted))
	return result, nil
}

// ReconcileContributions applies an edited contribution table to a member.
func (l *Ledger) ReconcileContributions(memberID uuid.UUID, rows []models.ContributionEdit, allowDelete bool) (models.ReconcileResult, error) {
	if err := validateRows(l.validate, rows); err != nil {
		return models.ReconcileResult{}, err
	}
	for _, row := range rows {
		if !row.Amount.IsPositive() {
			return models.ReconcileResult{}, ErrInvalidAmount
		}
	}
	if _, err := l.GetMember(memberID); err != nil {
		return models.ReconcileResult{}, err
	}

	stored, err := l.storage.GetContributionsForMember(memberID)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("failed to load contributions: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Contribution, len(stored))
	storedIDs := make([]uuid.UUID, 0, len(stored))
	for _, c := range stored {
		byID[c.ID] = c
		storedIDs = append(storedIDs, c.ID)
	}
	editedIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		editedIDs = append(editedIDs, row.ID)
	}

	plan, err := planReconcile("member", memberID, storedIDs, editedIDs, allowDelete)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	now := l.now()
	updates := make([]*models.Contribution, 0, len(rows))
	for _, row := range rows {
		c := *byID[row.ID]
		c.Amount = row.Amount
		c.Kind = row.Kind
		c.Status = row.Status
		switch {
		case c.Status == models.ContributionStatusPending:
			c.ConfirmedAt = nil
		case c.ConfirmedAt == nil:
			c.ConfirmedAt = &now
		}
		updates = append(updates, &c)
	}

	if err := l.storage.ApplyContributionEdits(memberID, updates, plan.deletes); err != nil {
		return models.ReconcileResult{}, applyErr(err, "member", memberID)
	}

	result := models.ReconcileResult{Updated: len(updates), Deleted: len(plan.deletes)}
	l.log.Info("contributions reconciled", zap.String("member_id", memberID.String()), zap.Int("updated", result.Updated), zap.Int("deleted", result.Deleted))
	return result, nil
}
