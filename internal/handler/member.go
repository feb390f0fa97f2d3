package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/response"
)

// MembershipService is the member lifecycle as seen by the HTTP layer.
type MembershipService interface {
	Register(ctx context.Context, request *domain.RegisterMemberRequest) (*domain.Member, error)
	Approve(ctx context.Context, id uuid.UUID, dues domain.Dues) (*domain.MemberScheduleResponse, error)
	Deny(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	UpdateDues(ctx context.Context, id uuid.UUID, dues domain.Dues) (*domain.MemberScheduleResponse, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Member, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	List(ctx context.Context, filter domain.MemberFilter) ([]*domain.Member, error)
}

type MemberHandler struct {
	service   MembershipService
	ledger    LedgerService
	validator *validator.Validate
}

func NewMemberHandler(service MembershipService, ledger LedgerService, validator *validator.Validate) *MemberHandler {
	return &MemberHandler{
		service:   service,
		ledger:    ledger,
		validator: validator,
	}
}

// Register handles public self-registration
func (h *MemberHandler) Register(w http.ResponseWriter, r *http.Request) {
	var request domain.RegisterMemberRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	member, err := h.service.Register(r.Context(), &request)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, member)
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.MemberFilter{Status: r.URL.Query().Get("status")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.FromError(w, customError.WrapValidation("active must be true or false"))
			return
		}
		filter.Active = &active
	}

	members, err := h.service.List(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, members)
}

func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	member, err := h.service.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, member)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		response.FromError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MemberHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	var request domain.DuesRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	result, err := h.service.Approve(r.Context(), id, request.Dues())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *MemberHandler) Deny(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	member, err := h.service.Deny(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, member)
}

func (h *MemberHandler) UpdateDues(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	var request domain.DuesRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	result, err := h.service.UpdateDues(r.Context(), id, request.Dues())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *MemberHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	var request domain.SetActiveRequest
	if err := decodeAndValidate(r, h.validator, &request); err != nil {
		response.FromError(w, err)
		return
	}

	member, err := h.service.SetActive(r.Context(), id, *request.Active)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, member)
}

// ListInstallments returns the member's ledger in period order
func (h *MemberHandler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "memberId")
	if !ok {
		return
	}

	installments, err := h.ledger.ListForMember(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, installments)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		response.BadRequest(w, "Invalid path parameter", customError.WrapValidation("%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}
