// Package queue доставляет уведомления через RabbitMQ вне транзакций сервиса.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

const (
	// NotificationsQueue задаёт имя устойчивой очереди уведомлений.
	NotificationsQueue = "restaurant.notifications"
	// MaxAttempts ограничивает, сколько раз уведомление пытаются доставить.
	MaxAttempts = 3
)

// Handler обрабатывает одно уведомление.
type Handler func(ctx context.Context, n model.Notification) error

func declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(NotificationsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

// Publisher публикует уведомления в очередь. Соединение переиспользуется
// и восстанавливается при следующей публикации после обрыва.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher подключается к брокеру и объявляет очередь.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{url: url, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	if err := declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish отправляет уведомление в очередь как постоянное сообщение.
func (p *Publisher) Publish(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		p.closeLocked()
		if err := p.connect(); err != nil {
			return err
		}
		p.logger.Info("reconnected to message broker")
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", NotificationsQueue, false, false, pub); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// Consumer читает уведомления из очереди и передаёт их обработчику.
// Неудачная доставка публикуется повторно с увеличенным счётчиком
// попыток, после MaxAttempts сообщение отбрасывается.
type Consumer struct {
	url      string
	handler  Handler
	retry    Handler
	logger   *zap.Logger
	prefetch int
}

// NewConsumer создаёт потребителя. retry публикует сообщение повторно;
// если он nil, неудачные сообщения сразу отбрасываются.
func NewConsumer(url string, handler, retry Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{url: url, handler: handler, retry: retry, logger: logger, prefetch: 20}
}

// Run потребляет сообщения до отмены контекста, переподключаясь к брокеру
// с экспоненциальной задержкой.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("notification consumer failed to dial broker",
				zap.Duration("retryIn", backoff),
				zap.Error(err),
			)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("notification consumer loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.logger.Warn("failed to set consumer QoS", zap.Error(err))
	}
	if err := declare(ch); err != nil {
		return err
	}

	msgs, err := ch.Consume(NotificationsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("notification consumer started", zap.String("queue", NotificationsQueue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var n model.Notification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		c.logger.Error("dropping malformed notification", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	err := c.handler(ctx, n)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	n.Attempt++
	fields := []zap.Field{
		zap.String("id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("to", n.To),
		zap.Int("attempt", n.Attempt),
		zap.Error(err),
	}

	if n.Attempt >= MaxAttempts || c.retry == nil {
		c.logger.Error("notification delivery failed, giving up", fields...)
		_ = d.Nack(false, false)
		return
	}

	if rerr := c.retry(ctx, n); rerr != nil {
		c.logger.Error("failed to requeue notification", append(fields, zap.NamedError("requeueError", rerr))...)
		_ = d.Nack(false, false)
		return
	}

	c.logger.Warn("notification delivery failed, requeued", fields...)
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
