// Package service реализует бизнес-логику реферального сервиса Elixr.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/elixr-referral/internal/metrics"
	"github.com/mmeshcher/elixr-referral/internal/model"
	"github.com/mmeshcher/elixr-referral/internal/orders"
	"github.com/mmeshcher/elixr-referral/internal/repository"
	"github.com/mmeshcher/elixr-referral/internal/validation"
)

// ErrInvalidRequest возвращается, если в запросе не хватает обязательных идентификаторов.
var ErrInvalidRequest = errors.New("invalid request")

const (
	maxCodeAttempts      = 5
	defaultWatchInterval = 10 * time.Second
	defaultReverseReason = "admin"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	ReferrerLookup
	RewardStore
	Close() error
	Ping(ctx context.Context) error
	GetReward(ctx context.Context, entryID string) (*model.RewardEntry, error)
	GetRewardsByReferrer(ctx context.Context, referrerUserID string) ([]model.RewardEntry, error)
	GetReferrerSummary(ctx context.Context, referrerUserID string) (*model.ReferrerSummary, error)
	GetPendingOrderRewards(ctx context.Context, limit int) ([]model.RewardEntry, error)
	CreateReferralCode(ctx context.Context, userID, code string) (*model.ReferralCode, error)
	GetCodeByUser(ctx context.Context, userID string) (*model.ReferralCode, error)
}

// OrderClient описывает клиент API заказов витрины.
type OrderClient interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, int, time.Duration, error)
}

// Options содержит необязательные зависимости сервиса.
type Options struct {
	Policy        RewardPolicy
	Orders        OrderClient
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	WatchInterval time.Duration
	CodePrefix    string
}

// Service содержит бизнес-логику реферального сервиса.
type Service struct {
	repo          Repository
	validator     *Validator
	attributor    *Attributor
	orders        OrderClient
	logger        *zap.Logger
	metrics       *metrics.Metrics
	watchInterval time.Duration
	codePrefix    string
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := opts.Policy
	if policy == nil {
		policy = FixedPolicy{}
	}

	interval := opts.WatchInterval
	if interval <= 0 {
		interval = defaultWatchInterval
	}

	prefix := opts.CodePrefix
	if prefix == "" {
		prefix = validation.CodePrefix
	}

	return &Service{
		repo:          repo,
		validator:     NewValidator(repo),
		attributor:    NewAttributor(repo, policy, logger),
		orders:        opts.Orders,
		logger:        logger,
		metrics:       opts.Metrics,
		watchInterval: interval,
		codePrefix:    prefix,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Validate проверяет реферальный код.
func (s *Service) Validate(ctx context.Context, rawCode, userID string) (model.ValidationResult, error) {
	res, err := s.validator.Validate(ctx, rawCode, userID)
	if err != nil {
		s.metrics.RecordFault("validate", err)
		return res, err
	}

	s.metrics.RecordValidation(res.Accepted(), string(res.Reason))
	return res, nil
}

// Attribute начисляет вознаграждение рефереру.
func (s *Service) Attribute(ctx context.Context, req AttributionRequest) (model.AttributionResult, error) {
	res, err := s.attributor.Attribute(ctx, req)
	if err != nil {
		s.metrics.RecordFault("attribute", err)
		return res, err
	}

	s.metrics.RecordAttribution(string(res.Outcome), string(res.Reason))
	return res, nil
}

// Claim записывает отложенное вознаграждение, привязанное к заказу.
// Запись завершается наблюдателем заказов после доставки заказа.
func (s *Service) Claim(ctx context.Context, rawCode, referredUserID, orderID string) (model.AttributionResult, error) {
	if referredUserID == "" || strings.TrimSpace(orderID) == "" {
		return model.AttributionResult{}, ErrInvalidRequest
	}

	v, err := s.Validate(ctx, rawCode, referredUserID)
	if err != nil {
		return model.AttributionResult{}, err
	}
	if !v.Accepted() {
		s.metrics.RecordAttribution(string(model.OutcomeSkipped), string(v.Reason))
		return model.Skipped(v.Reason), nil
	}

	order := strings.TrimSpace(orderID)
	entryID, err := s.attributor.insertPending(ctx, AttributionRequest{
		ReferrerUserID: v.ReferrerID,
		ReferredUserID: referredUserID,
		Code:           v.Code,
		OrderID:        &order,
	})
	if err != nil {
		if res, ok := duplicateResult(err); ok {
			s.metrics.RecordAttribution(string(res.Outcome), string(res.Reason))
			return res, nil
		}
		s.metrics.RecordFault("claim", err)
		return model.AttributionResult{}, err
	}

	s.logger.Info("referral reward claimed",
		zap.String("entryID", entryID),
		zap.String("referrerID", v.ReferrerID),
		zap.String("referredID", referredUserID),
		zap.String("order", order),
	)
	s.metrics.RecordAttribution(string(model.OutcomePending), "")

	return model.Pending(entryID), nil
}

// Reverse отменяет запись журнала, сохраняя её историю.
func (s *Service) Reverse(ctx context.Context, entryID, reason string) (*model.RewardEntry, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return nil, repository.ErrRewardNotFound
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultReverseReason
	}

	if err := s.repo.MarkReversed(ctx, entryID, reason); err != nil {
		return nil, err
	}

	s.logger.Info("referral reward reversed", zap.String("entryID", entryID), zap.String("reason", reason))

	return s.repo.GetReward(ctx, entryID)
}

// ProvisionCode возвращает код пользователя, создавая его при первом обращении.
func (s *Service) ProvisionCode(ctx context.Context, userID string) (*model.ReferralCode, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	rc, err := s.repo.GetCodeByUser(ctx, userID)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, repository.ErrCodeNotFound) {
		return nil, err
	}

	for i := 0; i < maxCodeAttempts; i++ {
		code, err := validation.GenerateCode(s.codePrefix)
		if err != nil {
			return nil, err
		}

		rc, err := s.repo.CreateReferralCode(ctx, userID, code)
		switch {
		case err == nil:
			s.logger.Info("referral code provisioned", zap.String("userID", userID), zap.String("code", code))
			return rc, nil
		case errors.Is(err, repository.ErrCodeTaken):
			continue
		case errors.Is(err, repository.ErrUserHasCode):
			// Код создан параллельным запросом.
			return s.repo.GetCodeByUser(ctx, userID)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("generate unique referral code: %d attempts exhausted", maxCodeAttempts)
}

// RewardsByReferrer возвращает историю вознаграждений реферера.
func (s *Service) RewardsByReferrer(ctx context.Context, referrerUserID string) ([]model.RewardEntry, error) {
	return s.repo.GetRewardsByReferrer(ctx, referrerUserID)
}

// ReferrerSummary возвращает агрегаты по вознаграждениям реферера.
func (s *Service) ReferrerSummary(ctx context.Context, referrerUserID string) (*model.ReferrerSummary, error) {
	return s.repo.GetReferrerSummary(ctx, referrerUserID)
}
