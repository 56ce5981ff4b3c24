// Package service реализует журнал баллов, обмен баллов на награды и подтверждение выполненных заданий.
//
// Все операции, меняющие баланс, выполняются внутри repository.Store.WithinUserTx
// и поэтому атомарны относительно других операций того же пользователя.
// Идентификаторы пользователя и семьи всегда передаются явно.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/metrics"
	"github.com/mmeshcher/familypoints/internal/model"
	"github.com/mmeshcher/familypoints/internal/repository"
)

// Notifier отправляет уведомления. Реализация не должна блокировать вызывающего.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, model.Notification) {}

// Service содержит бизнес-логику сервиса семейных баллов.
type Service struct {
	repo     repository.Store
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService создаёт сервис поверх хранилища. notifier, logger и m могут быть nil.
func NewService(repo repository.Store, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// timePrecision совпадает с точностью timestamptz в PostgreSQL.
const timePrecision = time.Microsecond

// timestamp возвращает момент записи, не меньший последнего изменения баланса,
// чтобы записи журнала пользователя шли по неубывающему времени.
func (s *Service) timestamp(b model.Balance) time.Time {
	now := s.now().UTC().Truncate(timePrecision)
	if now.Before(b.UpdatedAt) {
		return b.UpdatedAt
	}
	return now
}
