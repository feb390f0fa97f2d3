package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/response"
	"github.com/aadvita/dues-engine/pkg/utils"
)

type LedgerService interface {
	RecordPayment(ctx context.Context, id uuid.UUID, paidOn time.Time) (*domain.Installment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Installment, error)
	Reopen(ctx context.Context, id uuid.UUID) (*domain.Installment, error)
	RevertPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Installment, error)
	ListForMember(ctx context.Context, memberID uuid.UUID) ([]*domain.Installment, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]*domain.Installment, error)
}

type ReportService interface {
	Summarize(ctx context.Context, filter domain.InstallmentFilter) (*domain.LedgerSummary, error)
	RenderPDF(ctx context.Context, w io.Writer, filter domain.InstallmentFilter) error
}

type LedgerHandler struct {
	ledger    LedgerService
	reports   ReportService
	validator *validator.Validate
	location  *time.Location
}

func NewLedgerHandler(ledger LedgerService, reports ReportService, validator *validator.Validate, location *time.Location) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		reports:   reports,
		validator: validator,
		location:  location,
	}
}

func (h *LedgerHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	var request domain.PayInstallmentRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}
	paidOn, err := time.Parse(utils.DateLayout, request.PaidOn)
	if err != nil {
		response.FromError(w, customError.WrapValidation("paid_on must be formatted as YYYY-MM-DD"))
		return
	}

	installment, err := h.ledger.RecordPayment(r.Context(), id, paidOn)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installment)
}

func (h *LedgerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	var request domain.CancelInstallmentRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	installment, err := h.ledger.Cancel(r.Context(), id, request.Reason)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installment)
}

func (h *LedgerHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	installment, err := h.ledger.Reopen(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installment)
}

func (h *LedgerHandler) Revert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	var request domain.RevertPaymentRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	installment, err := h.ledger.RevertPayment(r.Context(), id, request.Reason)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installment)
}

// Overdue lists pending installments due before as_of (default: today)
func (h *LedgerHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	asOf := utils.CivilDate(time.Now(), h.location)
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(utils.DateLayout, raw)
		if err != nil {
			response.FromError(w, customError.WrapValidation("as_of must be formatted as YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}

	installments, err := h.ledger.ListOverdue(r.Context(), asOf)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installments)
}

func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInstallmentFilter(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	summary, err := h.reports.Summarize(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, summary)
}

// ExportPDF renders the filtered ledger as an A4 document
func (h *LedgerHandler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInstallmentFilter(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	// render fully before writing headers so failures still get a JSON error
	var buf bytes.Buffer
	if err := h.reports.RenderPDF(r.Context(), &buf, filter); err != nil {
		response.FromError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func parseInstallmentFilter(r *http.Request) (domain.InstallmentFilter, error) {
	query := r.URL.Query()
	var filter domain.InstallmentFilter

	if raw := query.Get("member_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, customError.WrapValidation("member_id must be a UUID")
		}
		filter.MemberID = &id
	}

	for _, raw := range query["status"] {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, status)
			}
		}
	}

	for name, dst := range map[string]**time.Time{"from": &filter.DueFrom, "to": &filter.DueTo} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(utils.DateLayout, raw)
		if err != nil {
			return filter, customError.WrapValidation("%s must be formatted as YYYY-MM-DD", name)
		}
		*dst = &parsed
	}

	if raw := query.Get("reference_year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return filter, customError.WrapValidation("reference_year must be a number")
		}
		filter.ReferenceYear = year
	}

	return filter, nil
}
