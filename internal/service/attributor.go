package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/elixr-referral/internal/model"
	"github.com/mmeshcher/elixr-referral/internal/repository"
	"github.com/mmeshcher/elixr-referral/internal/validation"
)

// ReversalSuperseded задаёт причину отмены записи, проигравшей конкурентное начисление.
const ReversalSuperseded = "superseded"

// RewardStore описывает операции журнала, нужные для начисления.
type RewardStore interface {
	HasCompletedReward(ctx context.Context, referredUserID string) (bool, error)
	InsertPendingReward(ctx context.Context, entry model.RewardEntry) (string, error)
	MarkCompleted(ctx context.Context, entryID string, orderID *string) error
	MarkReversed(ctx context.Context, entryID, reason string) error
	GetActiveReward(ctx context.Context, referredUserID string) (*model.RewardEntry, error)
}

// Attributor начисляет вознаграждение рефереру не более одного раза на приглашённого пользователя.
type Attributor struct {
	store  RewardStore
	policy RewardPolicy
	logger *zap.Logger
}

// NewAttributor создаёт Attributor с указанной политикой начисления.
func NewAttributor(store RewardStore, policy RewardPolicy, logger *zap.Logger) *Attributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attributor{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Attribute начисляет вознаграждение по событию завершения заказа или создания аккаунта.
// Запись pending, оставшаяся от прерванной попытки, завершается, и возвращается её идентификатор.
// Прочие конфликты уникальности означают, что вознаграждение уже начислено, и дают Skipped без ошибки.
func (a *Attributor) Attribute(ctx context.Context, req AttributionRequest) (model.AttributionResult, error) {
	if req.ReferrerUserID == "" || req.ReferredUserID == "" {
		return model.AttributionResult{}, ErrInvalidRequest
	}

	code, err := validation.Normalize(req.Code)
	if err != nil {
		return model.Skipped(model.ReasonMalformed), nil
	}
	req.Code = code

	// Повторная проверка: результат Validate мог устареть.
	if req.ReferrerUserID == req.ReferredUserID {
		return model.Skipped(model.ReasonSelfReferral), nil
	}

	referred, err := a.store.HasCompletedReward(ctx, req.ReferredUserID)
	if err != nil {
		return model.AttributionResult{}, err
	}
	if referred {
		return model.Skipped(model.ReasonAlreadyReferred), nil
	}

	entryID, err := a.insertPending(ctx, req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return a.resume(ctx, req, err)
		}
		return model.AttributionResult{}, err
	}

	return a.complete(ctx, req, entryID)
}

// resume завершает запись pending, оставшуюся от прерванной попытки с тем же реферером и заказом.
// Чужая или уже завершённая запись даёт Skipped.
func (a *Attributor) resume(ctx context.Context, req AttributionRequest, dupErr error) (model.AttributionResult, error) {
	entry, err := a.store.GetActiveReward(ctx, req.ReferredUserID)
	if err != nil {
		if errors.Is(err, repository.ErrRewardNotFound) {
			res, _ := duplicateResult(dupErr)
			return res, nil
		}
		return model.AttributionResult{}, err
	}

	if entry.Status == model.RewardStatusCompleted {
		return model.Skipped(model.ReasonAlreadyReferred), nil
	}

	if entry.Status != model.RewardStatusPending ||
		entry.ReferrerUserID != req.ReferrerUserID ||
		!sameOrder(entry.OrderID, req.OrderID) {
		res, _ := duplicateResult(dupErr)
		return res, nil
	}

	a.logger.Info("resuming pending referral reward", zap.String("entryID", entry.ID))
	return a.complete(ctx, req, entry.ID)
}

// complete переводит запись в completed.
func (a *Attributor) complete(ctx context.Context, req AttributionRequest, entryID string) (model.AttributionResult, error) {
	if err := a.store.MarkCompleted(ctx, entryID, req.OrderID); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderCredited):
			return model.Skipped(model.ReasonOrderCredited), nil
		case errors.Is(err, repository.ErrDuplicateEntry):
			// Другое начисление успело завершиться: эта запись остаётся в журнале отменённой.
			a.supersede(ctx, entryID)
			return model.Skipped(model.ReasonAlreadyReferred), nil
		}
		return model.AttributionResult{}, err
	}

	a.logger.Info("referral reward attributed",
		zap.String("entryID", entryID),
		zap.String("referrerID", req.ReferrerUserID),
		zap.String("referredID", req.ReferredUserID),
		zap.String("code", req.Code),
	)

	return model.Attributed(entryID), nil
}

func sameOrder(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// insertPending рассчитывает вознаграждение и добавляет запись pending.
func (a *Attributor) insertPending(ctx context.Context, req AttributionRequest) (string, error) {
	reward, err := a.policy.Reward(ctx, req)
	if err != nil {
		return "", fmt.Errorf("reward policy: %w", err)
	}

	return a.store.InsertPendingReward(ctx, model.RewardEntry{
		ReferrerUserID: req.ReferrerUserID,
		ReferredUserID: req.ReferredUserID,
		Code:           req.Code,
		Points:         reward.Points,
		Amount:         reward.Amount,
		OrderID:        req.OrderID,
	})
}

func (a *Attributor) supersede(ctx context.Context, entryID string) {
	if err := a.store.MarkReversed(ctx, entryID, ReversalSuperseded); err != nil {
		a.logger.Error("reverse superseded reward error", zap.Error(err), zap.String("entryID", entryID))
		return
	}
	a.logger.Warn("referral reward superseded", zap.String("entryID", entryID))
}

// duplicateResult переводит конфликт уникальности в Skipped.
func duplicateResult(err error) (model.AttributionResult, bool) {
	switch {
	case errors.Is(err, repository.ErrOrderCredited):
		return model.Skipped(model.ReasonOrderCredited), true
	case errors.Is(err, repository.ErrDuplicateEntry):
		return model.Skipped(model.ReasonDuplicate), true
	default:
		return model.AttributionResult{}, false
	}
}
