package service

import (
	"context"

	"github.com/mmeshcher/elixr-referral/internal/model"
)

// AttributionRequest описывает событие, за которое начисляется вознаграждение.
type AttributionRequest struct {
	ReferrerUserID string
	ReferredUserID string
	Code           string
	OrderID        *string
}

// RewardPolicy рассчитывает размер вознаграждения реферера.
type RewardPolicy interface {
	Reward(ctx context.Context, req AttributionRequest) (model.Reward, error)
}

// RewardPolicyFunc позволяет использовать функцию как RewardPolicy.
type RewardPolicyFunc func(ctx context.Context, req AttributionRequest) (model.Reward, error)

// Reward вызывает f.
func (f RewardPolicyFunc) Reward(ctx context.Context, req AttributionRequest) (model.Reward, error) {
	return f(ctx, req)
}

// FixedPolicy начисляет одинаковое вознаграждение за каждое приглашение.
type FixedPolicy struct {
	Points int64
	Amount float64
}

// Reward возвращает фиксированное вознаграждение.
func (p FixedPolicy) Reward(context.Context, AttributionRequest) (model.Reward, error) {
	return model.Reward{Points: p.Points, Amount: p.Amount}, nil
}
