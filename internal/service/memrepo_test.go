package service

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
)

var errNegativeBalance = errors.New("points balance would become negative")

type memToken struct {
	userID    int64
	expiresAt time.Time
	created   int
}

// memRepo реализует хранилище в памяти с той же семантикой транзакций леджера,
// что и у PostgresRepository.
type memRepo struct {
	mu sync.Mutex

	seq      int64
	tokenSeq int

	users    map[int64]*model.User
	tables   map[int64]*model.Table
	bookings map[int64]*model.Booking
	menu     map[int64]*model.MenuItem
	orders   map[int64]*model.Order
	tokens   map[string]memToken
	contacts map[int64]*model.ContactMessage
	audit    []model.AuditEntry

	// failLedger позволяет смоделировать сбой записи транзакции леджера.
	failLedger func(o *model.Order, u *model.User) error
	// onLedgerAbort вызывается под блокировкой, когда fn прервал транзакцию.
	onLedgerAbort func(orderID int64)
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    map[int64]*model.User{},
		tables:   map[int64]*model.Table{},
		bookings: map[int64]*model.Booking{},
		menu:     map[int64]*model.MenuItem{},
		orders:   map[int64]*model.Order{},
		tokens:   map[string]memToken{},
		contacts: map[int64]*model.ContactMessage{},
	}
}

func (r *memRepo) id() int64 {
	r.seq++
	return r.seq
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

func (r *memRepo) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.users {
		if strings.EqualFold(ex.Email, u.Email) || ex.Username == u.Username {
			return nil, repository.ErrUserExists
		}
	}
	c := *u
	c.ID = r.id()
	c.CreatedAt = time.Now()
	r.users[c.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	for k, t := range r.tokens {
		if t.userID == userID {
			delete(r.tokens, k)
		}
	}
	return nil
}

func (r *memRepo) saveToken(userID int64, hash []byte, exp time.Time, keep int) {
	r.tokenSeq++
	r.tokens[hex.EncodeToString(hash)] = memToken{userID: userID, expiresAt: exp, created: r.tokenSeq}

	var own []string
	for k, t := range r.tokens {
		if t.userID == userID {
			own = append(own, k)
		}
	}
	sort.Slice(own, func(i, j int) bool { return r.tokens[own[i]].created > r.tokens[own[j]].created })
	for _, k := range own[min(keep, len(own)):] {
		delete(r.tokens, k)
	}
}

func (r *memRepo) SaveRefreshToken(ctx context.Context, userID int64, tokenHash []byte, expiresAt time.Time, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveToken(userID, tokenHash, expiresAt, keep)
	return nil
}

func (r *memRepo) RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash []byte, expiresAt time.Time, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hex.EncodeToString(oldHash)
	t, ok := r.tokens[key]
	if !ok || t.userID != userID || !t.expiresAt.After(time.Now()) {
		return repository.ErrNotFound
	}
	delete(r.tokens, key)
	r.saveToken(userID, newHash, expiresAt, keep)
	return nil
}

func (r *memRepo) DeleteRefreshToken(ctx context.Context, userID int64, tokenHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, hex.EncodeToString(tokenHash))
	return nil
}

func (r *memRepo) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if !t.expiresAt.After(time.Now()) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) tokenCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.userID == userID {
			n++
		}
	}
	return n
}

func (r *memRepo) sortedTables() []model.Table {
	res := make([]model.Table, 0, len(r.tables))
	for _, t := range r.tables {
		res = append(res, *t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TableNumber < res[j].TableNumber })
	return res
}

func (r *memRepo) ListTables(ctx context.Context) ([]model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedTables(), nil
}

func (r *memRepo) AvailableTables(ctx context.Context, from, to *time.Time, limit int) ([]model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.Table, 0)
	for _, t := range r.sortedTables() {
		if !t.IsAvailable {
			continue
		}
		if from != nil && to != nil && r.bookedBetween(t.ID, *from, *to) {
			continue
		}
		res = append(res, t)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (r *memRepo) bookedBetween(tableID int64, from, to time.Time) bool {
	for _, b := range r.bookings {
		if b.TableID == tableID && b.BookingStatus == model.BookingStatusConfirmed &&
			!b.BookingDate.Before(from) && !b.BookingDate.After(to) {
			return true
		}
	}
	return false
}

func (r *memRepo) GetTable(ctx context.Context, id int64) (*model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memRepo) CreateTable(ctx context.Context, t *model.Table) (*model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.tables {
		if ex.TableNumber == t.TableNumber {
			return nil, repository.ErrTableExists
		}
	}
	c := *t
	c.ID = r.id()
	r.tables[c.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) UpdateTable(ctx context.Context, t *model.Table) (*model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[t.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	for _, ex := range r.tables {
		if ex.ID != t.ID && ex.TableNumber == t.TableNumber {
			return nil, repository.ErrTableExists
		}
	}
	c := *t
	r.tables[t.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) DeleteTable(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[id]; !ok {
		return repository.ErrNotFound
	}
	for _, b := range r.bookings {
		if b.TableID == id {
			return repository.ErrInUse
		}
	}
	delete(r.tables, id)
	return nil
}

func (r *memRepo) UpsertTables(ctx context.Context, tables []model.Table) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tables {
		var found bool
		for _, ex := range r.tables {
			if ex.TableNumber == t.TableNumber {
				ex.Capacity, ex.IsAvailable = t.Capacity, t.IsAvailable
				found = true
			}
		}
		if !found {
			c := t
			c.ID = r.id()
			r.tables[c.ID] = &c
		}
	}
	return len(tables), nil
}

func (r *memRepo) fillBooking(b *model.Booking) model.Booking {
	c := *b
	if t, ok := r.tables[b.TableID]; ok {
		c.TableNumber, c.TableCapacity = t.TableNumber, t.Capacity
	}
	if u, ok := r.users[b.UserID]; ok {
		c.Username = u.Username
	}
	return c
}

func (r *memRepo) CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[b.TableID]; !ok {
		return nil, repository.ErrNotFound
	}
	window := 2 * repository.BookingHalfWindow
	if r.bookedBetween(b.TableID, b.BookingDate.Add(-window), b.BookingDate.Add(window)) {
		return nil, repository.ErrBookingConflict
	}
	c := *b
	c.ID = r.id()
	c.BookingStatus = model.BookingStatusConfirmed
	c.OperationalStatus = model.OperationalStatusNotReached
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	r.bookings[c.ID] = &c
	res := r.fillBooking(&c)
	return &res, nil
}

func (r *memRepo) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	res := r.fillBooking(b)
	return &res, nil
}

func (r *memRepo) ListBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error) {
	return r.listBookings(userID, model.BookingFilter{}), nil
}

func (r *memRepo) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	return r.listBookings(0, f), nil
}

func (r *memRepo) listBookings(userID int64, f model.BookingFilter) []model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.Booking, 0)
	for _, b := range r.bookings {
		if (userID != 0 && b.UserID != userID) || (f.Status != "" && b.BookingStatus != f.Status) {
			continue
		}
		res = append(res, r.fillBooking(b))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BookingDate.After(res[j].BookingDate) })
	return res
}

func (r *memRepo) CancelBooking(ctx context.Context, id int64) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b.BookingStatus = model.BookingStatusCancelled
	res := r.fillBooking(b)
	return &res, nil
}

func (r *memRepo) SetOperationalStatus(ctx context.Context, id int64, status model.OperationalStatus) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b.OperationalStatus = status
	res := r.fillBooking(b)
	return &res, nil
}

func (r *memRepo) ListMenu(ctx context.Context, category string, onlyAvailable bool) ([]model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.MenuItem, 0)
	for _, m := range r.menu {
		if (category != "" && m.Category != category) || (onlyAvailable && !m.IsAvailable) {
			continue
		}
		res = append(res, *m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (r *memRepo) GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.menu[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *memRepo) GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := map[int64]model.MenuItem{}
	for _, id := range ids {
		if m, ok := r.menu[id]; ok {
			res[id] = *m
		}
	}
	return res, nil
}

func (r *memRepo) CreateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.menu {
		if ex.Slug == m.Slug {
			return nil, repository.ErrMenuItemExists
		}
	}
	c := *m
	c.ID = r.id()
	r.menu[c.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) UpdateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.menu[m.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	c := *m
	r.menu[m.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) DeleteMenuItem(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.menu[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.menu, id)
	return nil
}

func copyOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	return &c
}

func (r *memRepo) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := copyOrder(o)
	c.ID = r.id()
	c.OrderStatus = model.OrderStatusPending
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	r.orders[c.ID] = c
	return copyOrder(c), nil
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *memRepo) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.ListOrders(ctx, model.OrderFilter{UserID: userID})
}

func (r *memRepo) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.Order, 0)
	for _, o := range r.orders {
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 {
			var match bool
			for _, s := range f.Statuses {
				match = match || s == o.OrderStatus
			}
			if !match {
				continue
			}
		}
		res = append(res, *copyOrder(o))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (r *memRepo) DeleteOrder(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *memRepo) UpdateOrderLedger(ctx context.Context, orderID int64, fn repository.LedgerFunc) (*model.Order, *model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[orderID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	owner, ok := r.users[stored.UserID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}

	o := copyOrder(stored)
	u := *owner
	if err := fn(o, &u); err != nil {
		if r.onLedgerAbort != nil {
			r.onLedgerAbort(orderID)
		}
		return nil, nil, err
	}
	if r.failLedger != nil {
		if err := r.failLedger(o, &u); err != nil {
			return nil, nil, err
		}
	}
	if u.Points < 0 {
		return nil, nil, errNegativeBalance
	}

	o.UpdatedAt = time.Now()
	r.orders[orderID] = copyOrder(o)
	*owner = u
	uc := u
	return o, &uc, nil
}

func (r *memRepo) UncreditedOrders(ctx context.Context, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, o := range r.orders {
		if o.OrderStatus == model.OrderStatusDelivered && !o.Meta.PointsCredited && o.Meta.PointsEarned > 0 {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memRepo) LoyaltySummary(ctx context.Context, userID int64, recent int) (*model.LoyaltySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s := &model.LoyaltySummary{Points: u.Points, RecentOrders: []model.LoyaltyOrder{}}
	var own []*model.Order
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		s.LifetimeEarned += o.Meta.PointsEarned
		s.LifetimeRedeemed += o.Meta.RedeemedPoints
		own = append(own, o)
	}
	sort.Slice(own, func(i, j int) bool { return own[i].ID > own[j].ID })
	for i, o := range own {
		if i == recent {
			break
		}
		s.RecentOrders = append(s.RecentOrders, model.LoyaltyOrder{
			ID:             o.ID,
			TotalAmount:    model.ToAmount(o.TotalAmount),
			OrderStatus:    o.OrderStatus,
			PointsEarned:   o.Meta.PointsEarned,
			RedeemedPoints: o.Meta.RedeemedPoints,
		})
	}
	return s, nil
}

func (r *memRepo) LoyaltyOverview(ctx context.Context, top int) (*model.LoyaltyOverview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ov := &model.LoyaltyOverview{TopUsers: []model.LoyaltyUser{}, RecentRedemptions: []model.Redemption{}}
	for _, u := range r.users {
		ov.Totals.TotalPointsInWallets += u.Points
		if u.Points > 0 {
			ov.Totals.UsersWithPoints++
			ov.TopUsers = append(ov.TopUsers, model.LoyaltyUser{ID: u.ID, Username: u.Username, Email: u.Email, Points: u.Points})
		}
	}
	sort.Slice(ov.TopUsers, func(i, j int) bool { return ov.TopUsers[i].Points > ov.TopUsers[j].Points })
	if len(ov.TopUsers) > top {
		ov.TopUsers = ov.TopUsers[:top]
	}
	for _, o := range r.orders {
		ov.Totals.TotalPointsEarned += o.Meta.PointsEarned
		ov.Totals.TotalPointsRedeemed += o.Meta.RedeemedPoints
	}
	return ov, nil
}

func (r *memRepo) AdjustUserPoints(ctx context.Context, userID int64, fn func(current int64) (int64, error), entry model.AuditEntry) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	previous := u.Points
	next, err := fn(previous)
	if err != nil {
		return nil, err
	}
	u.Points = next
	if entry.Meta == nil {
		entry.Meta = map[string]any{}
	}
	entry.Meta["previousPoints"] = previous
	entry.Meta["points"] = u.Points
	r.audit = append(r.audit, entry)
	c := *u
	return &c, nil
}

func (r *memRepo) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, entry)
	return nil
}

func (r *memRepo) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]string, 0, len(r.audit))
	for _, e := range r.audit {
		res = append(res, e.Action)
	}
	return res
}

func (r *memRepo) CreateContactMessage(ctx context.Context, m *model.ContactMessage) (*model.ContactMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *m
	c.ID = r.id()
	r.contacts[c.ID] = &c
	res := c
	return &res, nil
}

func (r *memRepo) ListContactMessages(ctx context.Context) ([]model.ContactMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.ContactMessage, 0, len(r.contacts))
	for _, m := range r.contacts {
		res = append(res, *m)
	}
	return res, nil
}

func (r *memRepo) DeleteContactMessage(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.contacts, id)
	return nil
}

func (r *memRepo) Dashboard(ctx context.Context, now time.Time) (*model.Dashboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &model.Dashboard{
		Users:           int64(len(r.users)),
		MenuItems:       int64(len(r.menu)),
		Tables:          int64(len(r.tables)),
		ContactMessages: int64(len(r.contacts)),
		OrdersByStatus:  map[string]int64{},
	}
	for _, o := range r.orders {
		d.OrdersByStatus[string(o.OrderStatus)]++
	}
	return d, nil
}

// addUser добавляет пользователя напрямую, минуя регистрацию.
func (r *memRepo) addUser(email string, role model.Role, points int64) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &model.User{ID: r.id(), Email: email, Username: strings.Split(email, "@")[0], Role: role, Points: points}
	r.users[u.ID] = u
	c := *u
	return &c
}

func (r *memRepo) addTable(number, capacity int, available bool) *model.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &model.Table{ID: r.id(), TableNumber: number, Capacity: capacity, IsAvailable: available}
	r.tables[t.ID] = t
	c := *t
	return &c
}

func (r *memRepo) addMenuItem(name string, priceMinor int64) *model.MenuItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &model.MenuItem{ID: r.id(), Name: name, Slug: strings.ToLower(name), Price: priceMinor, IsAvailable: true}
	r.menu[m.ID] = m
	c := *m
	return &c
}

func (r *memRepo) points(userID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].Points
}
