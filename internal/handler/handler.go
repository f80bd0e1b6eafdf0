// Package handler содержит HTTP-обработчики API реферального сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/elixr-referral/internal/metrics"
	"github.com/mmeshcher/elixr-referral/internal/middleware"
	"github.com/mmeshcher/elixr-referral/internal/model"
	"github.com/mmeshcher/elixr-referral/internal/repository"
	"github.com/mmeshcher/elixr-referral/internal/service"
)

const (
	msgCodeValid     = "Referral code is valid"
	msgBadRequest    = "Invalid request body"
	msgUnavailable   = "Service temporarily unavailable, please retry"
	msgInternalError = "Internal server error"
	healthTimeout    = 2 * time.Second
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	Validate(ctx context.Context, rawCode, userID string) (model.ValidationResult, error)
	Attribute(ctx context.Context, req service.AttributionRequest) (model.AttributionResult, error)
	Claim(ctx context.Context, rawCode, referredUserID, orderID string) (model.AttributionResult, error)
	Reverse(ctx context.Context, entryID, reason string) (*model.RewardEntry, error)
	ProvisionCode(ctx context.Context, userID string) (*model.ReferralCode, error)
	RewardsByReferrer(ctx context.Context, referrerUserID string) ([]model.RewardEntry, error)
	ReferrerSummary(ctx context.Context, referrerUserID string) (*model.ReferrerSummary, error)
}

// Handler реализует HTTP-обработчики API реферального сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware

	limiter  middleware.Limiter
	rate     float64
	burst    int
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// Option настраивает необязательные зависимости обработчика.
type Option func(*Handler)

// WithRateLimit включает ограничение частоты запросов проверки кода.
func WithRateLimit(limiter middleware.Limiter, rate float64, burst int) Option {
	return func(h *Handler) {
		h.limiter = limiter
		h.rate = rate
		h.burst = burst
	}
}

// WithMetrics задаёт метрики сервиса и источник данных для /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = m
		h.gatherer = gatherer
	}
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		gatherer:       prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type validateRequest struct {
	ReferralCode string `json:"referralCode"`
	UserID       string `json:"userId,omitempty"`
}

type validateResponse struct {
	Success    bool   `json:"success"`
	ReferrerID string `json:"referrerId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Validate проверяет реферальный код, введённый пользователем.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, validateResponse{Message: msgBadRequest})
		return
	}

	res, err := h.service.Validate(r.Context(), req.ReferralCode, strings.TrimSpace(req.UserID))
	if err != nil {
		h.logger.Error("validate referral code error", zap.Error(err), zap.String("userID", req.UserID))
		status, msg := faultStatus(err)
		writeJSON(w, status, validateResponse{Message: msg})
		return
	}

	if !res.Accepted() {
		writeJSON(w, rejectionStatus(res.Reason), validateResponse{Message: res.Reason.Message()})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Success:    true,
		ReferrerID: res.ReferrerID,
		Message:    msgCodeValid,
	})
}

type attributeRequest struct {
	ReferrerUserID string  `json:"referrerUserId"`
	ReferredUserID string  `json:"referredUserId"`
	Code           string  `json:"code"`
	OrderID        *string `json:"orderId,omitempty"`
}

type attributionResponse struct {
	Status  string `json:"status"`
	EntryID string `json:"entryId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func newAttributionResponse(res model.AttributionResult) attributionResponse {
	return attributionResponse{
		Status:  string(res.Outcome),
		EntryID: res.EntryID,
		Reason:  string(res.Reason),
	}
}

// Attribute начисляет вознаграждение рефереру после события витрины.
func (h *Handler) Attribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Attribute(r.Context(), service.AttributionRequest{
		ReferrerUserID: req.ReferrerUserID,
		ReferredUserID: req.ReferredUserID,
		Code:           req.Code,
		OrderID:        req.OrderID,
	})
	if err != nil {
		h.writeError(w, "attribute reward error", err,
			zap.String("referrerID", req.ReferrerUserID),
			zap.String("referredID", req.ReferredUserID),
		)
		return
	}

	writeJSON(w, http.StatusOK, newAttributionResponse(res))
}

// Claim регистрирует отложенное вознаграждение, которое будет начислено после доставки заказа.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID == nil || strings.TrimSpace(*req.OrderID) == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Claim(r.Context(), req.Code, req.ReferredUserID, *req.OrderID)
	if err != nil {
		h.writeError(w, "claim reward error", err,
			zap.String("referredID", req.ReferredUserID),
			zap.String("order", *req.OrderID),
		)
		return
	}

	status := http.StatusOK
	if res.Outcome == model.OutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newAttributionResponse(res))
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

type rewardResponse struct {
	ID             string  `json:"id"`
	ReferrerUserID string  `json:"referrerUserId"`
	ReferredUserID string  `json:"referredUserId"`
	Code           string  `json:"code"`
	Points         int64   `json:"points"`
	Amount         float64 `json:"amount"`
	Status         string  `json:"status"`
	OrderID        *string `json:"orderId,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	CompletedAt    string  `json:"completedAt,omitempty"`
	ReversedAt     string  `json:"reversedAt,omitempty"`
	ReversalReason string  `json:"reversalReason,omitempty"`
}

func newRewardResponse(e model.RewardEntry) rewardResponse {
	resp := rewardResponse{
		ID:             e.ID,
		ReferrerUserID: e.ReferrerUserID,
		ReferredUserID: e.ReferredUserID,
		Code:           e.Code,
		Points:         e.Points,
		Amount:         e.Amount,
		Status:         string(e.Status),
		OrderID:        e.OrderID,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		ReversalReason: e.ReversalReason,
	}
	if e.CompletedAt != nil {
		resp.CompletedAt = e.CompletedAt.Format(time.RFC3339)
	}
	if e.ReversedAt != nil {
		resp.ReversedAt = e.ReversedAt.Format(time.RFC3339)
	}
	return resp
}

// Reverse отменяет запись журнала вознаграждений.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.Reverse(r.Context(), entryID, req.Reason)
	if err != nil {
		h.writeError(w, "reverse reward error", err, zap.String("entryID", entryID))
		return
	}

	writeJSON(w, http.StatusOK, newRewardResponse(*entry))
}

type codeRequest struct {
	UserID string `json:"userId"`
}

type codeResponse struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// ProvisionCode возвращает реферальный код пользователя, создавая его при необходимости.
func (h *Handler) ProvisionCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rc, err := h.service.ProvisionCode(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		h.writeError(w, "provision code error", err, zap.String("userID", req.UserID))
		return
	}

	writeJSON(w, http.StatusOK, codeResponse{UserID: rc.UserID, Code: rc.Code})
}

// GetRewards возвращает историю вознаграждений реферера.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rewards, err := h.service.RewardsByReferrer(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get rewards error", err, zap.String("userID", userID))
		return
	}

	if len(rewards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, e := range rewards {
		resp = append(resp, newRewardResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSummary возвращает агрегаты по вознаграждениям реферера.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	summary, err := h.service.ReferrerSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get summary error", err, zap.String("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrRewardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		status, _ = faultStatus(err)
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}

	http.Error(w, http.StatusText(status), status)
}

func faultStatus(err error) (int, string) {
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable, msgUnavailable
	}
	return http.StatusInternalServerError, msgInternalError
}

func rejectionStatus(reason model.Reason) int {
	switch reason {
	case model.ReasonMalformed:
		return http.StatusBadRequest
	case model.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
