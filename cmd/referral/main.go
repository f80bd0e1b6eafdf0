// Package main запускает HTTP-сервер реферального сервиса Elixr.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/elixr-referral/internal/config"
	"github.com/mmeshcher/elixr-referral/internal/handler"
	"github.com/mmeshcher/elixr-referral/internal/metrics"
	"github.com/mmeshcher/elixr-referral/internal/middleware"
	"github.com/mmeshcher/elixr-referral/internal/orders"
	"github.com/mmeshcher/elixr-referral/internal/ratelimit"
	"github.com/mmeshcher/elixr-referral/internal/repository"
	"github.com/mmeshcher/elixr-referral/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		sugar.Warnw("failed to load .env file", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.StoreTimeout)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	opts := service.Options{
		Policy:        service.FixedPolicy{Points: cfg.RewardPoints, Amount: cfg.RewardAmount},
		Logger:        logger,
		Metrics:       m,
		WatchInterval: cfg.WatchInterval,
	}
	if cfg.OrderSystemAddress != "" {
		opts.Orders = orders.NewClient(cfg.OrderSystemAddress)
	} else {
		sugar.Info("order system address not set, order watcher disabled")
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	if cfg.ServiceToken == "" {
		sugar.Warn("service token not set, internal endpoints are unreachable")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.ServiceToken)

	handlerOpts := []handler.Option{handler.WithMetrics(m, prometheus.DefaultGatherer)}
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()

		handlerOpts = append(handlerOpts,
			handler.WithRateLimit(ratelimit.NewTokenBucket(rdb), cfg.ValidateRate, cfg.ValidateBurst))
	} else {
		sugar.Info("redis address not set, validation rate limiting disabled")
	}

	h := handler.NewHandler(svc, logger, authMiddleware, handlerOpts...)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая обработка отложенных вознаграждений по заказам
	g.Go(func() error {
		return svc.StartOrderWatcher(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting referral server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
