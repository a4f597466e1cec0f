// Package service реализует бизнес-логику ресторанного сервиса.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/loyalty"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/token"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, u *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash []byte) error
	SaveRefreshToken(ctx context.Context, userID int64, tokenHash []byte, expiresAt time.Time, keep int) error
	RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash []byte, expiresAt time.Time, keep int) error
	DeleteRefreshToken(ctx context.Context, userID int64, tokenHash []byte) error
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)

	ListTables(ctx context.Context) ([]model.Table, error)
	AvailableTables(ctx context.Context, from, to *time.Time, limit int) ([]model.Table, error)
	GetTable(ctx context.Context, id int64) (*model.Table, error)
	CreateTable(ctx context.Context, t *model.Table) (*model.Table, error)
	UpdateTable(ctx context.Context, t *model.Table) (*model.Table, error)
	DeleteTable(ctx context.Context, id int64) error
	UpsertTables(ctx context.Context, tables []model.Table) (int, error)

	CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error)
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error)
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
	CancelBooking(ctx context.Context, id int64) (*model.Booking, error)
	SetOperationalStatus(ctx context.Context, id int64, status model.OperationalStatus) (*model.Booking, error)

	ListMenu(ctx context.Context, category string, onlyAvailable bool) ([]model.MenuItem, error)
	GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error)
	GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error)
	CreateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error)
	UpdateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error)
	DeleteMenuItem(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	UpdateOrderLedger(ctx context.Context, orderID int64, fn repository.LedgerFunc) (*model.Order, *model.User, error)
	UncreditedOrders(ctx context.Context, limit int) ([]int64, error)

	LoyaltySummary(ctx context.Context, userID int64, recent int) (*model.LoyaltySummary, error)
	LoyaltyOverview(ctx context.Context, top int) (*model.LoyaltyOverview, error)
	AdjustUserPoints(ctx context.Context, userID int64, fn func(current int64) (int64, error), entry model.AuditEntry) (*model.User, error)

	LogAudit(ctx context.Context, entry model.AuditEntry) error

	CreateContactMessage(ctx context.Context, m *model.ContactMessage) (*model.ContactMessage, error)
	ListContactMessages(ctx context.Context) ([]model.ContactMessage, error)
	DeleteContactMessage(ctx context.Context, id int64) error

	Dashboard(ctx context.Context, now time.Time) (*model.Dashboard, error)
}

// Notifier доставляет уведомления вне транзакции. Ошибки доставки не
// влияют на результат операции и только логируются.
type Notifier interface {
	Publish(ctx context.Context, n model.Notification) error
}

// CartStore хранит корзины навынос.
type CartStore interface {
	Items(ctx context.Context, userID int64) ([]model.CartItem, error)
	SetItem(ctx context.Context, userID, menuItemID int64, quantity int) error
	RemoveItem(ctx context.Context, userID, menuItemID int64) error
	Clear(ctx context.Context, userID int64) error
}

// Options содержит параметры бизнес-правил.
type Options struct {
	Policy               loyalty.Policy
	AllowCancelDelivered bool
	AdminEmail           string
	BcryptCost           int
	MaxRefreshTokens     int
}

// Service содержит бизнес-логику ресторанного сервиса.
type Service struct {
	repo     Repository
	tokens   *token.Manager
	notifier Notifier
	cart     CartStore
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewService создаёт новый сервис. notifier и cart могут быть nil:
// тогда уведомления не отправляются, а операции с корзиной недоступны.
func NewService(repo Repository, tokens *token.Manager, notifier Notifier, cart CartStore, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy.Validate() != nil {
		opts.Policy = loyalty.DefaultPolicy()
	}
	if opts.MaxRefreshTokens < 1 {
		opts.MaxRefreshTokens = 10
	}

	return &Service{
		repo:     repo,
		tokens:   tokens,
		notifier: notifier,
		cart:     cart,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Policy возвращает действующую политику лояльности.
func (s *Service) Policy() loyalty.Policy {
	return s.opts.Policy
}

func (s *Service) notify(ctx context.Context, kind model.NotificationKind, to string, data map[string]string) {
	if s.notifier == nil || to == "" {
		return
	}

	n := model.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		To:        to,
		Data:      data,
		CreatedAt: s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Warn("failed to publish notification",
			zap.String("kind", string(kind)),
			zap.String("to", to),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, actor model.Actor, action, resource string, resourceID int64, meta map[string]any) {
	entry := model.AuditEntry{
		ActorID:    actor.UserID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Meta:       meta,
		IP:         actor.IP,
	}
	if err := s.repo.LogAudit(ctx, entry); err != nil {
		s.logger.Error("failed to write audit entry",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Int64("resourceId", resourceID),
			zap.Error(err),
		)
	}
}

func requireAdmin(actor model.Actor) error {
	if !actor.IsAdmin() {
		return newError(ErrForbidden, "admin role required")
	}
	return nil
}
