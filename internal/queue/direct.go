package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// Direct доставляет уведомления в фоновой горутине без брокера. Используется,
// когда RabbitMQ не настроен. Ошибки повторяются до MaxAttempts раз.
type Direct struct {
	handler Handler
	logger  *zap.Logger
	timeout time.Duration
	backoff time.Duration

	wg sync.WaitGroup
}

// NewDirect создаёт внутрипроцессного доставщика уведомлений.
func NewDirect(handler Handler, logger *zap.Logger) *Direct {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Direct{handler: handler, logger: logger, timeout: 30 * time.Second, backoff: time.Second}
}

// Publish запускает доставку и сразу возвращает управление. Отмена
// контекста запроса доставку не прерывает.
func (d *Direct) Publish(ctx context.Context, n model.Notification) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		for {
			err := d.handler(ctx, n)
			if err == nil {
				return
			}
			n.Attempt++
			if n.Attempt >= MaxAttempts {
				d.logger.Error("notification delivery failed, giving up",
					zap.String("id", n.ID),
					zap.String("kind", string(n.Kind)),
					zap.String("to", n.To),
					zap.Int("attempt", n.Attempt),
					zap.Error(err),
				)
				return
			}
			if !sleep(ctx, d.backoff*time.Duration(n.Attempt)) {
				return
			}
		}
	}()
	return nil
}

// Wait дожидается завершения начатых доставок.
func (d *Direct) Wait() {
	d.wg.Wait()
}
