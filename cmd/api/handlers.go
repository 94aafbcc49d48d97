package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredFund/pkg/export"
	"github.com/mcclellann/fredFund/pkg/ledger"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type roleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=member admin"`
}

type simulateRequest struct {
	Principal    decimal.Decimal `json:"principal"`
	Installments int             `json:"installments"`
	StartDate    string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
}

type loanRequest struct {
	MemberID     uuid.UUID       `json:"member_id" validate:"required"`
	Principal    decimal.Decimal `json:"principal"`
	Installments int             `json:"installments"`
}

type contributionRequest struct {
	MemberID uuid.UUID       `json:"member_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     string          `json:"kind" validate:"max=30"`
	Notes    string          `json:"notes" validate:"max=500"`
}

type reconcileRequest[T any] struct {
	Rows        []T  `json:"rows"`
	AllowDelete bool `json:"allow_delete"`
}

type paymentResponse struct {
	Installment *models.Installment `json:"installment"`
	Loan        *models.Loan        `json:"loan"`
}

type approvalResponse struct {
	Loan         *models.Loan          `json:"loan"`
	Installments []*models.Installment `json:"installments"`
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", errBadRequest)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		invalid      *ledger.InvalidTermsError
		validation   validator.ValidationErrors
		notFound     *ledger.NotFoundError
		loanState    *ledger.LoanStateError
		instState    *ledger.InstallmentStateError
		contribState *ledger.ContributionStateError
		conflict     *ledger.ReconcileConflictError
	)
	switch {
	case errors.Is(err, errBadRequest),
		errors.As(err, &invalid),
		errors.As(err, &validation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &loanState),
		errors.As(err, &instState),
		errors.As(err, &contribState),
		errors.Is(err, ledger.ErrDuplicateUsername),
		errors.Is(err, ledger.ErrMemberInactive):
		return http.StatusConflict
	case errors.As(err, &conflict):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) registerMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.Registration
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	member, err := s.ledger.RegisterMember(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.ledger.ListMembers()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.ledger.Authenticate(req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) getMemberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.ledger.GetMember(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) setMemberActiveHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req activeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	member, err := s.ledger.SetMemberActive(id, *req.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) setMemberRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	member, err := s.ledger.SetMemberRole(id, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) standingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	standing, err := s.ledger.Standing(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standing)
}

func (s *Server) memberLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.ledger.MemberLoans(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) memberContributionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contributions, err := s.ledger.MemberContributions(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contributions)
}

func (s *Server) reconcileLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reconcileRequest[models.LoanEdit]
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ledger.ReconcileLoans(id, req.Rows, req.AllowDelete)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) reconcileContributionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reconcileRequest[models.ContributionEdit]
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ledger.ReconcileContributions(id, req.Rows, req.AllowDelete)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var start time.Time
	if req.StartDate != "" {
		start, _ = time.Parse("2006-01-02", req.StartDate)
	}

	schedule, err := s.ledger.Simulate(req.Principal, req.Installments, start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) requestLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.RequestLoan(req.MemberID, req.Principal, req.Installments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(r.URL.Query().Get("status"))
	if status != "" {
		if err := s.validate.Var(string(status), "oneof=pending active paid rejected overdue"); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, status))
			return
		}
	}

	loans, err := s.ledger.ListLoans(status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.ledger.LoanDetail(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The body is optional; without one the requested terms are used.
	var override *ledger.TermsOverride
	var req ledger.TermsOverride
	switch err := json.NewDecoder(r.Body).Decode(&req); {
	case errors.Is(err, io.EOF):
	case err != nil:
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	default:
		override = &req
	}

	loan, installments, err := s.ledger.Approve(id, override)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponse{Loan: loan, Installments: installments})
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.Reject(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) reconcileInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reconcileRequest[models.InstallmentEdit]
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ledger.ReconcileInstallments(id, req.Rows, req.AllowDelete)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) exportScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.ledger.LoanDetail(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.writeSchedule(&buf, detail.Loan, detail.Installments); err != nil {
		s.writeError(w, r, fmt.Errorf("schedule export for loan %s: %w", id, err))
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=loan_%s.xlsx", id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn("schedule export interrupted", zap.String("loan_id", id.String()), zap.Error(err))
	}
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inst, loan, err := s.ledger.RecordPayment(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Installment: inst, Loan: loan})
}

func (s *Server) reportContributionHandler(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.ledger.ReportContribution(req.MemberID, req.Amount, req.Kind, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listContributionsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.ContributionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ContributionStatusPending
	}
	if err := s.validate.Var(string(status), "oneof=pending approved rejected"); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, status))
		return
	}

	contributions, err := s.ledger.ContributionsByStatus(status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contributions)
}

func (s *Server) approveContributionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.ApproveContribution(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) rejectContributionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.RejectContribution(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) fundReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.FundReport()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
