package handler

import (
	"context"
	"net/http"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/pkg/response"
)

type TickRunner interface {
	RunMonthlyTick(ctx context.Context) (*domain.TickResult, error)
}

type TickHandler struct {
	runner TickRunner
}

func NewTickHandler(runner TickRunner) *TickHandler {
	return &TickHandler{runner: runner}
}

// Run executes the monthly tick. Repeated calls within a month are no-ops.
func (h *TickHandler) Run(w http.ResponseWriter, r *http.Request) {
	// the tick has its own timeout and must not die with the client connection
	result, err := h.runner.RunMonthlyTick(context.WithoutCancel(r.Context()))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, result)
}
