package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/restaurant-system/internal/loyalty"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/token"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *stubNotifier) Publish(ctx context.Context, msg model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *stubNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]model.NotificationKind, 0, len(n.sent))
	for _, m := range n.sent {
		res = append(res, m.Kind)
	}
	return res
}

type memCart struct {
	mu       sync.Mutex
	items    map[int64]map[int64]int
	clearErr error
}

func newMemCart() *memCart {
	return &memCart{items: map[int64]map[int64]int{}}
}

func (c *memCart) Items(ctx context.Context, userID int64) ([]model.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]model.CartItem, 0)
	for id, q := range c.items[userID] {
		res = append(res, model.CartItem{MenuItemID: id, Quantity: q})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MenuItemID < res[j].MenuItemID })
	return res, nil
}

func (c *memCart) SetItem(ctx context.Context, userID, menuItemID int64, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items[userID] == nil {
		c.items[userID] = map[int64]int{}
	}
	c.items[userID][menuItemID] = quantity
	return nil
}

func (c *memCart) RemoveItem(ctx context.Context, userID, menuItemID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items[userID], menuItemID)
	return nil
}

func (c *memCart) Clear(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	delete(c.items, userID)
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *memRepo
	notifier *stubNotifier
	cart     *memCart
	logs     *observer.ObservedLogs
	admin    model.Actor
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	repo := newMemRepo()
	notifier := &stubNotifier{}
	cart := newMemCart()

	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@restaurant.test"
	}

	tokens := token.NewManager("access-secret", "refresh-secret", time.Minute, time.Hour)
	svc := NewService(repo, tokens, notifier, cart, zap.New(core), opts)

	admin := repo.addUser("admin@restaurant.test", model.RoleAdmin, 0)
	return &testEnv{
		svc:      svc,
		repo:     repo,
		notifier: notifier,
		cart:     cart,
		logs:     logs,
		admin:    model.Actor{UserID: admin.ID, Role: model.RoleAdmin},
	}
}

func (e *testEnv) customer(email string, points int64) model.Actor {
	u := e.repo.addUser(email, model.RoleCustomer, points)
	return model.Actor{UserID: u.ID, Role: model.RoleCustomer}
}

func kindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

func at(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &ts
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil, nil, nil, Options{Policy: loyalty.Policy{}})

	assert.Equal(t, loyalty.DefaultPolicy(), svc.Policy())
	assert.Equal(t, 10, svc.opts.MaxRefreshTokens)
	assert.NotNil(t, svc.logger)
}

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	u, pair, err := env.svc.RegisterUser(ctx, RegisterInput{Email: " Guest@Example.com ", Username: "guest", Password: "Secret#123"})
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", u.Email)
	assert.Equal(t, model.RoleCustomer, u.Role)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 1, env.repo.tokenCount(u.ID))
	assert.Contains(t, env.notifier.kinds(), model.NotifyWelcome)

	_, _, err = env.svc.RegisterUser(ctx, RegisterInput{Email: "guest@example.com", Username: "other", Password: "Secret#123"})
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = env.svc.RegisterUser(ctx, RegisterInput{Email: "weak@example.com", Username: "weak", Password: "password"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = env.svc.RegisterUser(ctx, RegisterInput{Email: "not-an-email", Username: "bad", Password: "Secret#123"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuthenticateAndRefresh(t *testing.T) {
	env := newTestEnv(t, Options{MaxRefreshTokens: 2})
	ctx := context.Background()

	u, first, err := env.svc.RegisterUser(ctx, RegisterInput{Email: "guest@example.com", Username: "guest", Password: "Secret#123"})
	require.NoError(t, err)

	_, _, err = env.svc.AuthenticateUser(ctx, "guest@example.com", "Wrong#123")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = env.svc.AuthenticateUser(ctx, "nobody@example.com", "Secret#123")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = env.svc.AuthenticateUser(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	for i := 0; i < 3; i++ {
		_, _, err = env.svc.AuthenticateUser(ctx, "GUEST@example.com", "Secret#123")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, env.repo.tokenCount(u.ID))

	// первый токен вытеснен более новыми
	_, err = env.svc.RefreshTokens(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, pair, err := env.svc.AuthenticateUser(ctx, "guest@example.com", "Secret#123")
	require.NoError(t, err)

	next, err := env.svc.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = env.svc.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.svc.Logout(ctx, next.RefreshToken))
	_, err = env.svc.RefreshTokens(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.NoError(t, env.svc.Logout(ctx, "garbage"))
	_, err = env.svc.RefreshTokens(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	u, pair, err := env.svc.RegisterUser(ctx, RegisterInput{Email: "guest@example.com", Username: "guest", Password: "Secret#123"})
	require.NoError(t, err)
	actor := model.Actor{UserID: u.ID, Role: u.Role}

	err = env.svc.ChangePassword(ctx, actor, "Wrong#123", "Better#456")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = env.svc.ChangePassword(ctx, actor, "Secret#123", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, env.svc.ChangePassword(ctx, actor, "Secret#123", "Better#456"))
	assert.Equal(t, 0, env.repo.tokenCount(u.ID))

	_, err = env.svc.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = env.svc.AuthenticateUser(ctx, "guest@example.com", "Better#456")
	assert.NoError(t, err)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)

	small := env.repo.addTable(1, 2, true)
	closed := env.repo.addTable(2, 4, false)

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{name: "missing table", req: BookingRequest{BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2}, want: ErrInvalidInput},
		{name: "missing date", req: BookingRequest{TableID: small.ID, NumberOfGuests: 2}, want: ErrInvalidInput},
		{name: "unknown table", req: BookingRequest{TableID: 999, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2}, want: ErrNotFound},
		{name: "unavailable table", req: BookingRequest{TableID: closed.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2}, want: ErrUnavailable},
		{name: "no guests", req: BookingRequest{TableID: small.ID, BookingDate: at("2025-01-01T19:00:00Z")}, want: ErrInvalidInput},
		{name: "over capacity", req: BookingRequest{TableID: small.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 3}, want: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateBooking(ctx, guest, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: small.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 3})
	assert.Equal(t, "table capacity is 2, but 3 guests requested", Message(err))
}

func TestCreateBookingConflictWindow(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	other := env.customer("other@example.com", 0)
	table := env.repo.addTable(3, 4, true)

	first, err := env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2})
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, first.BookingStatus)
	assert.Equal(t, model.OperationalStatusNotReached, first.OperationalStatus)
	assert.Equal(t, "guest@example.com", first.ConfirmationEmail)

	_, err = env.svc.CreateBooking(ctx, other, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T20:00:00Z"), NumberOfGuests: 2})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "table already booked for this time slot (within 1 hour window)", Message(err))

	_, err = env.svc.CreateBooking(ctx, other, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T20:01:00Z"), NumberOfGuests: 2})
	assert.NoError(t, err)

	// отменённая бронь освобождает слот
	_, err = env.svc.CancelBooking(ctx, guest, first.ID)
	require.NoError(t, err)
	_, err = env.svc.CreateBooking(ctx, other, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T18:30:00Z"), NumberOfGuests: 2})
	assert.NoError(t, err)

	kinds := env.notifier.kinds()
	assert.Contains(t, kinds, model.NotifyBookingConfirmed)
	assert.Contains(t, kinds, model.NotifyBookingAdmin)
	assert.Contains(t, kinds, model.NotifyBookingCancelled)
	assert.Contains(t, env.repo.auditActions(), "table_booked")
}

func TestCancelBooking(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	stranger := env.customer("stranger@example.com", 0)
	table := env.repo.addTable(1, 4, true)

	b, err := env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 4})
	require.NoError(t, err)

	_, err = env.svc.CancelBooking(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.CancelBooking(ctx, guest, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, err := env.svc.CancelBooking(ctx, env.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.BookingStatus)

	before := len(env.notifier.kinds())
	again, err := env.svc.CancelBooking(ctx, guest, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, again.BookingStatus)
	assert.Len(t, env.notifier.kinds(), before)
}

func TestSetOperationalStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	table := env.repo.addTable(1, 4, true)

	b, err := env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2})
	require.NoError(t, err)

	_, err = env.svc.SetOperationalStatus(ctx, guest, b.ID, "done")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.SetOperationalStatus(ctx, env.admin, b.ID, "eating")
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, st := range []string{"done", "having food", "not reached yet"} {
		got, err := env.svc.SetOperationalStatus(ctx, env.admin, b.ID, st)
		require.NoError(t, err)
		assert.Equal(t, model.OperationalStatus(st), got.OperationalStatus)
	}
}

func TestAvailableTables(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)

	_, err := env.svc.SeedTables(ctx)
	require.NoError(t, err)
	env.repo.addTable(7, 2, true)
	env.repo.addTable(8, 2, false)

	all, err := env.svc.AvailableTables(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, AvailableTablesLimit)
	assert.Equal(t, 1, all[0].TableNumber)

	_, err = env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: all[0].ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2})
	require.NoError(t, err)

	free, err := env.svc.AvailableTables(ctx, at("2025-01-01T19:45:00Z"))
	require.NoError(t, err)
	require.Len(t, free, AvailableTablesLimit)
	assert.Equal(t, 2, free[0].TableNumber)
	assert.Equal(t, 7, free[len(free)-1].TableNumber)

	later, err := env.svc.AvailableTables(ctx, at("2025-01-01T21:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, later[0].TableNumber)
}

func TestTableAdministration(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)

	_, err := env.svc.CreateTable(ctx, guest, TableInput{TableNumber: 1, Capacity: 4})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.CreateTable(ctx, env.admin, TableInput{TableNumber: 1, Capacity: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	table, err := env.svc.CreateTable(ctx, env.admin, TableInput{TableNumber: 1, Capacity: 4})
	require.NoError(t, err)
	assert.True(t, table.IsAvailable)

	_, err = env.svc.CreateTable(ctx, env.admin, TableInput{TableNumber: 1, Capacity: 2})
	assert.ErrorIs(t, err, ErrConflict)

	off := false
	capacity := 8
	updated, err := env.svc.UpdateTable(ctx, env.admin, table.ID, TableUpdate{Capacity: &capacity, IsAvailable: &off})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.Capacity)
	assert.False(t, updated.IsAvailable)

	on := true
	_, err = env.svc.UpdateTable(ctx, env.admin, table.ID, TableUpdate{IsAvailable: &on})
	require.NoError(t, err)
	_, err = env.svc.CreateBooking(ctx, guest, BookingRequest{TableID: table.ID, BookingDate: at("2025-01-01T19:00:00Z"), NumberOfGuests: 2})
	require.NoError(t, err)

	err = env.svc.DeleteTable(ctx, env.admin, table.ID)
	assert.ErrorIs(t, err, ErrConflict)

	empty, err := env.svc.CreateTable(ctx, env.admin, TableInput{TableNumber: 2, Capacity: 2})
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteTable(ctx, env.admin, empty.ID))
	assert.ErrorIs(t, env.svc.DeleteTable(ctx, env.admin, empty.ID), ErrNotFound)
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 30)

	naan := env.repo.addMenuItem("Naan", 4000)
	curry := env.repo.addMenuItem("Curry", 21000)

	res, err := env.svc.CreateOrder(ctx, guest, []OrderItemInput{
		{MenuItemID: curry.ID, Quantity: 2},
		{MenuItemID: naan.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Order.TotalAmount)
	assert.Equal(t, int64(500), res.PointsEarned)
	assert.Equal(t, int64(30), res.CurrentPoints)
	assert.Equal(t, model.OrderStatusPending, res.Order.OrderStatus)
	assert.False(t, res.Order.Meta.PointsCredited)
	require.Len(t, res.Order.Items, 2)
	assert.Equal(t, "Curry", res.Order.Items[0].Name)
	assert.Equal(t, int64(42000), res.Order.Items[0].Subtotal)

	// баланс не меняется до доставки
	assert.Equal(t, int64(30), env.repo.points(guest.UserID))

	_, err = env.svc.CreateOrder(ctx, guest, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.CreateOrder(ctx, guest, []OrderItemInput{{MenuItemID: 998, Quantity: 1}, {MenuItemID: naan.ID, Quantity: 1}, {MenuItemID: 999, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "menu item(s) not found: 998, 999", Message(err))

	_, err = env.svc.CreateOrder(ctx, guest, []OrderItemInput{{MenuItemID: naan.ID, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// итог по ценам меню не должен переполняться
	_, err = env.svc.CreateOrder(ctx, guest, []OrderItemInput{{MenuItemID: naan.ID, Quantity: 1 << 60}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.CreateOrder(ctx, guest, []OrderItemInput{{MenuItemID: naan.ID, Quantity: MaxCartQuantity + 1}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err = env.svc.CreateOrder(ctx, guest, []OrderItemInput{{MenuItemID: naan.ID, Quantity: MaxCartQuantity}})
	require.NoError(t, err)
	assert.Equal(t, int64(4000)*MaxCartQuantity, res.Order.TotalAmount)

	kinds := env.notifier.kinds()
	assert.Contains(t, kinds, model.NotifyOrderPlaced)
	assert.Contains(t, kinds, model.NotifyOrderAdmin)
}

func placeOrder(t *testing.T, env *testEnv, actor model.Actor, priceMinor int64) *model.Order {
	t.Helper()
	item := env.repo.addMenuItem("Dish", priceMinor)
	res, err := env.svc.CreateOrder(context.Background(), actor, []OrderItemInput{{MenuItemID: item.ID, Quantity: 1}})
	require.NoError(t, err)
	return res.Order
}

func TestUpdateOrderStatusCreditsOnce(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	order := placeOrder(t, env, guest, 50000)

	_, err := env.svc.UpdateOrderStatus(ctx, guest, order.ID, "Preparing")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Shipped")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, 999, "Preparing")
	assert.ErrorIs(t, err, ErrNotFound)

	o, err := env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Preparing")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, o.OrderStatus)
	assert.Equal(t, int64(0), env.repo.points(guest.UserID))

	o, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
	require.NoError(t, err)
	assert.True(t, o.Meta.PointsCredited)
	assert.NotNil(t, o.Meta.PointsCreditedAt)
	assert.Equal(t, int64(500), env.repo.points(guest.UserID))

	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
	require.NoError(t, err)
	assert.Equal(t, int64(500), env.repo.points(guest.UserID))

	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Pending")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateOrderStatusCreditFailureKeepsStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	order := placeOrder(t, env, guest, 50000)

	env.repo.failLedger = func(o *model.Order, _ *model.User) error {
		if o.Meta.PointsCredited {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	o, err := env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, o.OrderStatus)
	assert.False(t, o.Meta.PointsCredited)
	assert.Equal(t, int64(0), env.repo.points(guest.UserID))
	assert.Equal(t, 1, env.logs.FilterMessage("failed to credit loyalty points on delivery").Len())

	env.repo.failLedger = nil

	res, err := env.svc.ReconcileCredits(ctx, false, 100)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{Found: 1}, res)
	assert.Equal(t, int64(0), env.repo.points(guest.UserID))

	res, err = env.svc.ReconcileCredits(ctx, true, 100)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{Found: 1, Credited: 1}, res)
	assert.Equal(t, int64(500), env.repo.points(guest.UserID))

	res, err = env.svc.ReconcileCredits(ctx, true, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("reverses credit and refunds redemption", func(t *testing.T) {
		env := newTestEnv(t, Options{AllowCancelDelivered: true})
		guest := env.customer("guest@example.com", 200)
		order := placeOrder(t, env, guest, 100000)

		_, err := env.svc.RedeemPoints(ctx, guest, order.ID, 150)
		require.NoError(t, err)
		_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
		require.NoError(t, err)
		assert.Equal(t, int64(50+1000), env.repo.points(guest.UserID))

		res, err := env.svc.CancelOrder(ctx, guest, order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, res.Order.OrderStatus)
		assert.Equal(t, int64(200), res.CurrentPoints)
		assert.Equal(t, int64(200), env.repo.points(guest.UserID))

		again, err := env.svc.CancelOrder(ctx, guest, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(200), again.CurrentPoints)
	})

	t.Run("order removed before repeated cancel is read back", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		guest := env.customer("guest@example.com", 0)
		order := placeOrder(t, env, guest, 10000)

		_, err := env.svc.CancelOrder(ctx, guest, order.ID)
		require.NoError(t, err)

		env.repo.onLedgerAbort = func(orderID int64) { delete(env.repo.orders, orderID) }
		_, err = env.svc.CancelOrder(ctx, guest, order.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, "order not found", Message(err))
	})

	t.Run("credit removal floored at zero", func(t *testing.T) {
		env := newTestEnv(t, Options{AllowCancelDelivered: true})
		guest := env.customer("guest@example.com", 0)
		order := placeOrder(t, env, guest, 50000)

		_, err := env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
		require.NoError(t, err)
		_, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{Points: ptr(int64(100))})
		require.NoError(t, err)

		res, err := env.svc.CancelOrder(ctx, guest, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.CurrentPoints)
	})

	t.Run("delivered orders locked when disallowed", func(t *testing.T) {
		env := newTestEnv(t, Options{AllowCancelDelivered: false})
		guest := env.customer("guest@example.com", 0)
		order := placeOrder(t, env, guest, 50000)

		_, err := env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Delivered")
		require.NoError(t, err)

		_, err = env.svc.CancelOrder(ctx, guest, order.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, int64(500), env.repo.points(guest.UserID))
	})

	t.Run("only owner can cancel", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		guest := env.customer("guest@example.com", 0)
		stranger := env.customer("stranger@example.com", 0)
		order := placeOrder(t, env, guest, 50000)

		_, err := env.svc.CancelOrder(ctx, stranger, order.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = env.svc.CancelOrder(ctx, guest, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("admin cancel via status update", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		guest := env.customer("guest@example.com", 100)
		order := placeOrder(t, env, guest, 50000)

		_, err := env.svc.RedeemPoints(ctx, guest, order.ID, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(0), env.repo.points(guest.UserID))

		o, err := env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Cancelled")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, o.OrderStatus)
		assert.Equal(t, int64(100), env.repo.points(guest.UserID))

		_, err = env.svc.UpdateOrderStatus(ctx, env.admin, order.ID, "Preparing")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRedeemPoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 200)
	stranger := env.customer("stranger@example.com", 500)
	order := placeOrder(t, env, guest, 100000)

	tests := []struct {
		name   string
		actor  model.Actor
		id     int64
		points int64
		want   error
	}{
		{name: "zero points", actor: guest, id: order.ID, points: 0, want: ErrInvalidInput},
		{name: "negative points", actor: guest, id: order.ID, points: -5, want: ErrInvalidInput},
		{name: "unknown order", actor: guest, id: 999, points: 10, want: ErrNotFound},
		{name: "foreign order", actor: stranger, id: order.ID, points: 10, want: ErrForbidden},
		{name: "over balance", actor: guest, id: order.ID, points: 201, want: ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.RedeemPoints(ctx, tt.actor, tt.id, tt.points)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(200), env.repo.points(guest.UserID))

	res, err := env.svc.RedeemPoints(ctx, guest, order.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(85000), res.Order.TotalAmount)
	assert.Equal(t, int64(150), res.Order.Meta.RedeemedPoints)
	assert.Equal(t, int64(15000), res.Order.Meta.DiscountApplied)
	assert.Equal(t, int64(50), res.CurrentPoints)

	_, err = env.svc.RedeemPoints(ctx, guest, order.ID, 10)
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, int64(50), env.repo.points(guest.UserID))

	cancelled := placeOrder(t, env, guest, 10000)
	_, err = env.svc.CancelOrder(ctx, guest, cancelled.ID)
	require.NoError(t, err)
	_, err = env.svc.RedeemPoints(ctx, guest, cancelled.ID, 10)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRedeemPointsDiscountFlooredAtZero(t *testing.T) {
	env := newTestEnv(t, Options{Policy: loyalty.Policy{PointsPerAmount: 1, PointValue: 10}})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 100)
	order := placeOrder(t, env, guest, 5000)

	res, err := env.svc.RedeemPoints(ctx, guest, order.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Order.TotalAmount)
	assert.Equal(t, int64(0), res.CurrentPoints)
}

func ptr[T any](v T) *T {
	return &v
}

func TestAdjustPoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 50)

	_, err := env.svc.AdjustPoints(ctx, guest, "guest@example.com", model.PointsAdjustment{Delta: ptr(int64(10))})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{Delta: ptr(int64(1)), Points: ptr(int64(1))})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.AdjustPoints(ctx, env.admin, "nobody@example.com", model.PointsAdjustment{Delta: ptr(int64(1))})
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := env.svc.AdjustPoints(ctx, env.admin, "GUEST@example.com", model.PointsAdjustment{Delta: ptr(int64(-1000))})
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)

	u, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{Points: ptr(int64(300))})
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.Points)

	u, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{Points: ptr(int64(-3))})
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)

	u, err = env.svc.AdjustPoints(ctx, env.admin, strconv.FormatInt(guest.UserID, 10), model.PointsAdjustment{Delta: ptr(int64(25))})
	require.NoError(t, err)
	assert.Equal(t, int64(25), u.Points)

	auditLen := len(env.repo.audit)
	_, err = env.svc.AdjustPoints(ctx, env.admin, "guest@example.com", model.PointsAdjustment{Delta: ptr(int64(math.MaxInt64))})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int64(25), env.repo.points(guest.UserID))
	assert.Len(t, env.repo.audit, auditLen)

	require.NotEmpty(t, env.repo.audit)
	last := env.repo.audit[len(env.repo.audit)-1]
	assert.Equal(t, "loyalty_points_adjusted", last.Action)
	assert.Equal(t, env.admin.UserID, last.ActorID)
	assert.Equal(t, int64(25), last.Meta["delta"])
	assert.Equal(t, int64(0), last.Meta["previousPoints"])
	assert.Equal(t, int64(25), last.Meta["points"])
}

func TestLoyaltySummaryAndOverview(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 200)

	first := placeOrder(t, env, guest, 100000)
	_, err := env.svc.RedeemPoints(ctx, guest, first.ID, 150)
	require.NoError(t, err)
	second := placeOrder(t, env, guest, 50000)
	_, err = env.svc.UpdateOrderStatus(ctx, env.admin, second.ID, "Delivered")
	require.NoError(t, err)

	sum, err := env.svc.LoyaltySummary(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(550), sum.Points)
	assert.Equal(t, int64(1500), sum.LifetimeEarned)
	assert.Equal(t, int64(150), sum.LifetimeRedeemed)
	require.Len(t, sum.RecentOrders, 2)
	assert.Equal(t, second.ID, sum.RecentOrders[0].ID)

	_, err = env.svc.LoyaltyOverview(ctx, guest)
	assert.ErrorIs(t, err, ErrForbidden)

	ov, err := env.svc.LoyaltyOverview(ctx, env.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(550), ov.Totals.TotalPointsInWallets)
	assert.Equal(t, int64(1), ov.Totals.UsersWithPoints)
	require.Len(t, ov.TopUsers, 1)
	assert.Equal(t, "guest@example.com", ov.TopUsers[0].Email)
}

func TestCartCheckout(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)
	naan := env.repo.addMenuItem("Naan", 4000)
	soldOut := env.repo.addMenuItem("Kulfi", 9000)

	off := false
	_, err := env.svc.UpdateMenuItem(ctx, env.admin, soldOut.ID, MenuItemInput{Name: "Kulfi", Category: "Dessert", Price: 90, IsAvailable: &off})
	require.NoError(t, err)

	_, err = env.svc.Checkout(ctx, guest)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.SetCartItem(ctx, guest, soldOut.ID, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = env.svc.SetCartItem(ctx, guest, 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.SetCartItem(ctx, guest, naan.ID, MaxCartQuantity+1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	items, err := env.svc.SetCartItem(ctx, guest, naan.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{{MenuItemID: naan.ID, Quantity: 3}}, items)

	res, err := env.svc.Checkout(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), res.Order.TotalAmount)
	assert.Equal(t, int64(120), res.PointsEarned)

	items, err = env.svc.Cart(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = env.svc.SetCartItem(ctx, guest, naan.ID, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	items, err = env.svc.SetCartItem(ctx, guest, naan.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartUnavailableWithoutStore(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil, nil, nil, Options{})

	_, err := svc.Cart(context.Background(), model.Actor{UserID: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMenuAdministration(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	guest := env.customer("guest@example.com", 0)

	_, err := env.svc.CreateMenuItem(ctx, guest, MenuItemInput{Name: "Dal", Category: "Mains", Price: 180})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.CreateMenuItem(ctx, env.admin, MenuItemInput{Category: "Mains", Price: 180})
	assert.ErrorIs(t, err, ErrInvalidInput)

	dal, err := env.svc.CreateMenuItem(ctx, env.admin, MenuItemInput{Name: "Dal Makhani", Category: "Mains", Price: 180.5})
	require.NoError(t, err)
	assert.Equal(t, "dal-makhani", dal.Slug)
	assert.Equal(t, "mains", dal.Category)
	assert.Equal(t, int64(18050), dal.Price)

	_, err = env.svc.CreateMenuItem(ctx, env.admin, MenuItemInput{Name: "Dal  Makhani", Category: "Mains", Price: 200})
	assert.ErrorIs(t, err, ErrConflict)

	off := false
	_, err = env.svc.CreateMenuItem(ctx, env.admin, MenuItemInput{Name: "Mango Lassi", Category: "Drinks", Price: 90, IsAvailable: &off})
	require.NoError(t, err)

	visible, err := env.svc.ListMenu(ctx, guest, "")
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	all, err := env.svc.ListMenu(ctx, env.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, env.svc.DeleteMenuItem(ctx, env.admin, dal.ID))
	_, err = env.svc.GetMenuItem(ctx, dal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitContact(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.SubmitContact(ctx, ContactInput{Name: "Asha", Email: "asha@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	m, err := env.svc.SubmitContact(ctx, ContactInput{Name: "Asha", Email: "Asha@Example.com", Message: "Do you cater?"})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", m.Email)
	assert.Contains(t, env.notifier.kinds(), model.NotifyContactAdmin)

	_, err = env.svc.ListContactMessages(ctx, model.Actor{UserID: 42})
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := env.svc.ListContactMessages(ctx, env.admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, env.svc.DeleteContactMessage(ctx, env.admin, m.ID))
	assert.ErrorIs(t, env.svc.DeleteContactMessage(ctx, env.admin, m.ID), ErrNotFound)
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.notifier.err = errors.New("broker down")
	guest := env.customer("guest@example.com", 0)

	order := placeOrder(t, env, guest, 10000)
	assert.NotZero(t, order.ID)
	assert.Positive(t, env.logs.FilterMessage("failed to publish notification").Len())
}

func TestErrorKindAndMessage(t *testing.T) {
	err := newError(ErrConflict, "table %d already exists", 3)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, ErrConflict, kindOf(err))
	assert.Equal(t, "table 3 already exists", Message(err))
	assert.Equal(t, "", Message(errors.New("plain")))
}
