// Package main запускает HTTP-сервер ресторанного сервиса и фоновые задачи.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/restaurant-system/internal/cart"
	"github.com/mmeshcher/restaurant-system/internal/config"
	"github.com/mmeshcher/restaurant-system/internal/handler"
	"github.com/mmeshcher/restaurant-system/internal/loyalty"
	"github.com/mmeshcher/restaurant-system/internal/mailer"
	"github.com/mmeshcher/restaurant-system/internal/middleware"
	"github.com/mmeshcher/restaurant-system/internal/queue"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/scheduler"
	"github.com/mmeshcher/restaurant-system/internal/service"
	"github.com/mmeshcher/restaurant-system/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	tokens := token.NewManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	var (
		cartStore service.CartStore
		rateLimit func(http.Handler) http.Handler
	)
	if rdb := cart.NewRedisClient(cfg.RedisAddr); rdb != nil {
		defer rdb.Close()
		cartStore = cart.NewStore(rdb, cart.DefaultTTL)
		rateLimit = middleware.RateLimit(rdb, middleware.RateLimitOptions{
			Capacity:       cfg.RateLimitCapacity,
			RefillInterval: cfg.RateLimitRefillInterval,
		}, logger)
	} else {
		sugar.Warnw("redis is not available, cart and rate limiting are disabled", "addr", cfg.RedisAddr)
	}

	renderer, err := mailer.NewRenderer(mailer.DefaultBrand)
	if err != nil {
		sugar.Fatalw("mail templates error", "error", err.Error())
	}
	var sender mailer.Sender = mailer.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	mail := mailer.New(renderer, sender, logger)

	var (
		notifier service.Notifier
		consumer *queue.Consumer
	)
	if cfg.RabbitMQURL != "" {
		publisher, err := queue.NewPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			sugar.Fatalw("message queue initialization error", "error", err.Error())
		}
		defer publisher.Close()
		notifier = publisher
		consumer = queue.NewConsumer(cfg.RabbitMQURL, mail.Deliver, publisher.Publish, logger)
	} else {
		direct := queue.NewDirect(mail.Deliver, logger)
		defer direct.Wait()
		notifier = direct
	}

	svc := service.NewService(repo, tokens, notifier, cartStore, logger, service.Options{
		Policy:               loyalty.Policy{PointsPerAmount: cfg.PointsPerAmount, PointValue: cfg.PointValue},
		AllowCancelDelivered: cfg.AllowCancelDelivered,
		AdminEmail:           cfg.AdminEmail,
		BcryptCost:           cfg.BcryptCost,
		MaxRefreshTokens:     cfg.MaxRefreshTokens,
	})
	defer svc.Close()

	jobs, err := scheduler.New(svc, logger, scheduler.Options{
		ReconcileInterval: cfg.ReconcileInterval,
		AutoCredit:        cfg.ReconcileAutoCredit,
	})
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	h := handler.NewHandler(svc, logger, tokens, rateLimit)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Сверка начислений за доставленные заказы и очистка просроченных токенов
	g.Go(func() error {
		return jobs.Run(ctx)
	})

	// Обработка очереди уведомлений
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting restaurant server", "addr", cfg.RunAddress)
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
