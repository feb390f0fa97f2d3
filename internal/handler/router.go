package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aadvita/dues-engine/pkg/response"
)

type Handlers struct {
	Members *MemberHandler
	Ledger  *LedgerHandler
	Tick    *TickHandler
	Health  *HealthHandler
}

type RouterOptions struct {
	AdminSecret         []byte
	TickSecret          string
	RegistrationLimiter *ClientLimiter
	RequestTimeout      time.Duration
	Logger              *slog.Logger
}

// NewRouter wires every endpoint of the dues API.
func NewRouter(h Handlers, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Route not found")
	})
	router.Use(response.LoggingMiddleware(opts.Logger))
	router.Use(response.CORSMiddleware)

	// Health check
	router.HandleFunc("/health", h.Health.Health).Methods("GET")
	router.HandleFunc("/health/ready", h.Health.Ready).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	register := http.Handler(http.HandlerFunc(h.Members.Register))
	if opts.RegistrationLimiter != nil {
		register = RateLimit(opts.RegistrationLimiter)(register)
	}
	api.Handle("/members", withTimeout(opts.RequestTimeout, register)).Methods("POST")

	api.Handle("/tick", TickSecret(opts.TickSecret)(http.HandlerFunc(h.Tick.Run))).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminAuth(opts.AdminSecret))
	admin.Use(func(next http.Handler) http.Handler { return withTimeout(opts.RequestTimeout, next) })

	admin.HandleFunc("/members", h.Members.List).Methods("GET")
	admin.HandleFunc("/members/{memberId}", h.Members.Get).Methods("GET")
	admin.HandleFunc("/members/{memberId}", h.Members.Delete).Methods("DELETE")
	admin.HandleFunc("/members/{memberId}/approve", h.Members.Approve).Methods("POST")
	admin.HandleFunc("/members/{memberId}/deny", h.Members.Deny).Methods("POST")
	admin.HandleFunc("/members/{memberId}/dues", h.Members.UpdateDues).Methods("PUT")
	admin.HandleFunc("/members/{memberId}/active", h.Members.SetActive).Methods("PUT")
	admin.HandleFunc("/members/{memberId}/installments", h.Members.ListInstallments).Methods("GET")

	admin.HandleFunc("/installments/overdue", h.Ledger.Overdue).Methods("GET")
	admin.HandleFunc("/installments/{installmentId}/pay", h.Ledger.Pay).Methods("POST")
	admin.HandleFunc("/installments/{installmentId}/cancel", h.Ledger.Cancel).Methods("POST")
	admin.HandleFunc("/installments/{installmentId}/reopen", h.Ledger.Reopen).Methods("POST")
	admin.HandleFunc("/installments/{installmentId}/revert", h.Ledger.Revert).Methods("POST")

	admin.HandleFunc("/ledger/summary", h.Ledger.Summary).Methods("GET")
	admin.HandleFunc("/ledger/export.pdf", h.Ledger.ExportPDF).Methods("GET")

	return router
}

func withTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
