package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/elixr-referral/internal/model"
	"github.com/mmeshcher/elixr-referral/internal/orders"
	"github.com/mmeshcher/elixr-referral/internal/repository"
)

const watchBatchSize = 100

// ReversalOrderCancelled задаёт причину отмены записи, заказ которой отменён.
const ReversalOrderCancelled = "order_cancelled"

// StartOrderWatcher периодически завершает отложенные вознаграждения по статусам заказов.
// Блокируется до отмены контекста; без клиента заказов сразу возвращает nil.
func (s *Service) StartOrderWatcher(ctx context.Context) error {
	if s.orders == nil {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.watchInterval),
		gocron.NewTask(func() {
			s.processOrderBatch(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule order watcher: %w", err)
	}

	sched.Start()
	s.logger.Info("order watcher started", zap.Duration("interval", s.watchInterval))

	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

func (s *Service) processOrderBatch(ctx context.Context) {
	entries, err := s.repo.GetPendingOrderRewards(ctx, watchBatchSize)
	if err != nil {
		s.logger.Warn("load pending rewards error", zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.OrderID == nil {
			continue
		}

		order, statusCode, retryAfter, err := s.orders.GetOrder(ctx, *e.OrderID)
		if err != nil {
			s.logger.Debug("get order error", zap.Error(err), zap.String("order", *e.OrderID))
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if order == nil {
			continue
		}

		switch order.Status {
		case orders.StatusDelivered:
			s.completeOrderReward(ctx, e)
		case orders.StatusCancelled:
			if err := s.repo.MarkReversed(ctx, e.ID, ReversalOrderCancelled); err != nil {
				s.logger.Error("reverse cancelled order reward error", zap.Error(err), zap.String("entryID", e.ID))
				continue
			}
			s.metrics.RecordWatcher("reversed")
			s.logger.Info("referral reward reversed", zap.String("entryID", e.ID), zap.String("order", *e.OrderID))
		}
	}
}

func (s *Service) completeOrderReward(ctx context.Context, e model.RewardEntry) {
	err := s.repo.MarkCompleted(ctx, e.ID, nil)
	switch {
	case err == nil:
		s.metrics.RecordWatcher("completed")
		s.logger.Info("referral reward attributed",
			zap.String("entryID", e.ID),
			zap.String("referrerID", e.ReferrerUserID),
			zap.String("referredID", e.ReferredUserID),
			zap.String("order", *e.OrderID),
		)
	case errors.Is(err, repository.ErrDuplicateEntry):
		s.attributor.supersede(ctx, e.ID)
		s.metrics.RecordWatcher("superseded")
	default:
		s.logger.Error("complete order reward error", zap.Error(err), zap.String("entryID", e.ID))
	}
}
