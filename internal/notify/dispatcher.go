package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/metrics"
	"github.com/mmeshcher/familypoints/internal/model"
)

// Sender доставляет одно уведомление.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// Dispatcher отправляет уведомления в фоне: Notify не блокирует вызывающего
// и не возвращает ошибок, сбои доставки только логируются.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher создаёт диспетчер поверх sender.
func NewDispatcher(sender Sender, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		metrics: m,
		timeout: 5 * time.Second,
	}
}

// Notify запускает доставку уведомления и сразу возвращает управление.
// Отмена ctx вызывающего доставку не прерывает.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, n); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.Error(err),
				zap.String("userID", n.UserID.String()),
				zap.String("kind", string(n.Kind)),
			)
			d.metrics.Notification(string(n.Kind), metrics.OutcomeError)
			return
		}
		d.metrics.Notification(string(n.Kind), metrics.OutcomeSuccess)
	}()
}

// Close дожидается завершения начатых доставок.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}
