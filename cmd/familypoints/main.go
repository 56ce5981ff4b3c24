// Package main запускает HTTP-сервер сервиса семейных баллов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/familypoints/internal/config"
	"github.com/mmeshcher/familypoints/internal/handler"
	"github.com/mmeshcher/familypoints/internal/metrics"
	"github.com/mmeshcher/familypoints/internal/middleware"
	"github.com/mmeshcher/familypoints/internal/notify"
	"github.com/mmeshcher/familypoints/internal/repository"
	"github.com/mmeshcher/familypoints/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newStore(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error(), "storage", cfg.Storage)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sender, err := newSender(cfg, logger)
	if err != nil {
		sugar.Fatalw("notification initialization error", "error", err.Error())
	}
	dispatcher := notify.NewDispatcher(sender, logger, m)

	svc := service.NewService(repo, dispatcher, logger, m)
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens will not survive restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, reg)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting familypoints server", "addr", cfg.RunAddress, "storage", cfg.Storage)
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
		// Уведомления, отправленные до остановки сервера, дожидаемся.
		if err := dispatcher.Close(); err != nil {
			return fmt.Errorf("notification dispatcher close error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newStore(cfg *config.Config) (repository.Store, error) {
	if cfg.Storage == config.StorageMemory {
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	var senders notify.MultiSender
	if cfg.NotificationAddress != "" {
		senders = append(senders, notify.NewClient(cfg.NotificationAddress))
	}
	if cfg.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		senders = append(senders, notify.NewTelegramSender(bot, cfg.TelegramChatID))
	}
	if len(senders) == 0 {
		return notify.NewLogSender(logger), nil
	}
	return senders, nil
}
