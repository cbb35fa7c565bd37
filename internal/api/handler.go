package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/models"
	"github.com/punchamoorthee/aidmatch/internal/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidmatch_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aidmatch_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Settler interface {
	OnPaymentConfirmed(ctx context.Context, transactionID string, status domain.PaymentStatus) (*domain.PaymentTransaction, error)
	ConfirmService(ctx context.Context, bookingID, userID string, role domain.Role) (*domain.Booking, error)
}

type Matcher interface {
	Match(ctx context.Context, bookingID string, force bool) (*domain.Booking, error)
}

type Profiles interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Profile, error)
}

type Handler struct {
	store    store.Store
	settle   Settler
	matcher  Matcher
	profiles Profiles
}

func NewHandler(st store.Store, settle Settler, matcher Matcher, profiles Profiles) *Handler {
	return &Handler{store: st, settle: settle, matcher: matcher, profiles: profiles}
}

// Router wires every endpoint, including /health and /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments/{id}/status", h.UpdatePaymentStatus).Methods("POST")
	apiV1.HandleFunc("/bookings/{id}", h.GetBooking).Methods("GET")
	apiV1.HandleFunc("/bookings/{id}/confirm", h.ConfirmBooking).Methods("POST")
	apiV1.HandleFunc("/bookings/{id}/match", h.MatchBooking).Methods("POST")
	apiV1.HandleFunc("/wallets/{profileId}", h.GetWallet).Methods("GET")
	apiV1.HandleFunc("/wallets/{profileId}/entries", h.GetEntries).Methods("GET")
	apiV1.HandleFunc("/users/{userId}/wallet", h.GetUserWallet).Methods("GET")
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// UpdatePaymentStatus is the payment gateway webhook.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/payments/{id}/status"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.PaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}
	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown payment status", "POST", endpoint)
		return
	}

	tr, err := h.settle.OnPaymentConfirmed(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, tr, "POST", endpoint)
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings/{id}/confirm"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil || req.UserID == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "user_id and role (provider|payer) are required", "POST", endpoint)
		return
	}

	b, err := h.settle.ConfirmService(r.Context(), mux.Vars(r)["id"], req.UserID, role)
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, b, "POST", endpoint)
}

func (h *Handler) MatchBooking(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings/{id}/match"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.MatchRequest
	// an empty body means a plain, unforced match
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}

	b, err := h.matcher.Match(r.Context(), mux.Vars(r)["id"], req.Force)
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, b, "POST", endpoint)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings/{id}"
	id := mux.Vars(r)["id"]

	var b *domain.Booking
	err := h.store.RunInTx(r.Context(), func(tx store.Tx) error {
		var err error
		b, err = tx.GetBooking(r.Context(), id)
		return err
	})
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, b, "GET", endpoint)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	h.writeWallet(w, r, mux.Vars(r)["profileId"], "/wallets/{profileId}")
}

func (h *Handler) GetUserWallet(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/users/{userId}/wallet"
	p, err := h.profiles.FindByUserID(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "GET", endpoint)
		return
	}
	h.writeWallet(w, r, p.ID, endpoint)
}

func (h *Handler) writeWallet(w http.ResponseWriter, r *http.Request, profileID, endpoint string) {
	var wallet *domain.Wallet
	err := h.store.RunInTx(r.Context(), func(tx store.Tx) error {
		var err error
		wallet, err = tx.GetWallet(r.Context(), profileID)
		return err
	})
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, wallet, "GET", endpoint)
}

func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallets/{profileId}/entries"
	profileID := mux.Vars(r)["profileId"]

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", endpoint)
			return
		}
		limit = n
	}

	var entries []domain.LedgerEntry
	err := h.store.RunInTx(r.Context(), func(tx store.Tx) error {
		var err error
		entries, err = tx.ListLedgerEntries(r.Context(), profileID, limit)
		return err
	})
	if err != nil {
		h.respondDomainError(r.Context(), w, err, "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.respondJSON(w, http.StatusOK, models.EntriesResponse{ProfileID: profileID, Entries: entries}, "GET", endpoint)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrFatalConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondDomainError(ctx context.Context, w http.ResponseWriter, err error, method, endpoint string) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "method", method, "endpoint", endpoint, "error", err)
		msg = "Internal error"
	}
	h.respondError(w, code, msg, method, endpoint)
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, models.ErrorResponse{Error: msg}, method, endpoint)
}
