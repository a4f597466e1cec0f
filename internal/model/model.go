// Package model содержит доменные сущности ресторанного сервиса.
package model

import "time"

// Role описывает роль пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// User представляет зарегистрированного пользователя и его баланс баллов.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	Role         Role      `json:"role"`
	Points       int64     `json:"points"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsAdmin сообщает, обладает ли пользователь правами администратора.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Actor описывает автора запроса, извлечённого из токена доступа.
type Actor struct {
	UserID int64
	Role   Role
	IP     string
}

// IsAdmin сообщает, действует ли автор запроса от имени администратора.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Table описывает столик ресторана.
type Table struct {
	ID          int64     `json:"id"`
	TableNumber int       `json:"tableNumber"`
	Capacity    int       `json:"capacity"`
	IsAvailable bool      `json:"isAvailable"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "Confirmed"
	BookingStatusCancelled BookingStatus = "Cancelled"
)

// OperationalStatus описывает ход визита гостя в день бронирования.
type OperationalStatus string

const (
	OperationalStatusNotReached OperationalStatus = "not reached yet"
	OperationalStatusHavingFood OperationalStatus = "having food"
	OperationalStatusDone       OperationalStatus = "done"
)

// OperationalStatuses перечисляет допустимые значения OperationalStatus.
var OperationalStatuses = []OperationalStatus{
	OperationalStatusNotReached,
	OperationalStatusHavingFood,
	OperationalStatusDone,
}

// Booking описывает бронирование столика.
type Booking struct {
	ID                int64             `json:"id"`
	UserID            int64             `json:"userId"`
	TableID           int64             `json:"tableId"`
	TableNumber       int               `json:"tableNumber"`
	TableCapacity     int               `json:"tableCapacity"`
	BookingDate       time.Time         `json:"bookingDate"`
	NumberOfGuests    int               `json:"numberOfGuests"`
	SpecialRequests   string            `json:"specialRequests"`
	BookingStatus     BookingStatus     `json:"bookingStatus"`
	OperationalStatus OperationalStatus `json:"operationalStatus"`
	ConfirmationEmail string            `json:"confirmationEmail,omitempty"`
	Username          string            `json:"username,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// BookingFilter задаёт условия выборки бронирований для администратора.
type BookingFilter struct {
	Status BookingStatus
	From   *time.Time
	To     *time.Time
}

// MenuItem описывает позицию меню. Цена хранится в пайсах.
type MenuItem struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       int64     `json:"-"`
	IsAvailable bool      `json:"isAvailable"`
	IsSeasonal  bool      `json:"isSeasonal"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// OrderStatus описывает статус заказа навынос.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPreparing OrderStatus = "Preparing"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// OrderStatuses перечисляет допустимые значения OrderStatus.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPreparing,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// LineItem описывает позицию заказа с ценой, зафиксированной при создании.
type LineItem struct {
	MenuItemID int64  `json:"menuItem"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"-"`
	Subtotal   int64  `json:"-"`
}

// OrderMeta содержит сведения о начислении и списании баллов по заказу.
type OrderMeta struct {
	PointsEarned     int64      `json:"pointsEarned"`
	PointsCredited   bool       `json:"pointsCredited"`
	PointsCreditedAt *time.Time `json:"pointsCreditedAt,omitempty"`
	RedeemedPoints   int64      `json:"redeemedPoints"`
	DiscountApplied  int64      `json:"-"`
}

// Order описывает заказ навынос. Суммы хранятся в пайсах.
type Order struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"userId"`
	Items       []LineItem  `json:"items"`
	TotalAmount int64       `json:"-"`
	OrderStatus OrderStatus `json:"orderStatus"`
	Meta        OrderMeta   `json:"meta"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// OrderFilter задаёт условия выборки заказов для администратора.
type OrderFilter struct {
	Statuses []OrderStatus
	UserID   int64
	From     *time.Time
	To       *time.Time
}

// CartItem описывает позицию корзины навынос.
type CartItem struct {
	MenuItemID int64 `json:"menuItem"`
	Quantity   int   `json:"quantity"`
}

// LoyaltyOrder описывает заказ в сводке по баллам.
type LoyaltyOrder struct {
	ID             int64       `json:"id"`
	CreatedAt      time.Time   `json:"createdAt"`
	TotalAmount    float64     `json:"totalAmount"`
	OrderStatus    OrderStatus `json:"orderStatus"`
	PointsEarned   int64       `json:"pointsEarned"`
	RedeemedPoints int64       `json:"redeemedPoints"`
}

// LoyaltySummary содержит баланс пользователя и историю начислений.
type LoyaltySummary struct {
	Points           int64          `json:"points"`
	LifetimeEarned   int64          `json:"lifetimeEarned"`
	LifetimeRedeemed int64          `json:"lifetimeRedeemed"`
	RecentOrders     []LoyaltyOrder `json:"recentOrders"`
}

// LoyaltyTotals содержит агрегированные показатели программы лояльности.
type LoyaltyTotals struct {
	TotalPointsInWallets int64 `json:"totalPointsInWallets"`
	UsersWithPoints      int64 `json:"usersWithPoints"`
	TotalPointsEarned    int64 `json:"totalPointsEarned"`
	TotalPointsRedeemed  int64 `json:"totalPointsRedeemed"`
}

// LoyaltyUser описывает пользователя в рейтинге по баллам.
type LoyaltyUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Points   int64  `json:"points"`
}

// Redemption описывает списание баллов по заказу.
type Redemption struct {
	OrderID         int64        `json:"id"`
	User            *LoyaltyUser `json:"user"`
	RedeemedPoints  int64        `json:"redeemedPoints"`
	DiscountApplied float64      `json:"discountApplied"`
	TotalAmount     float64      `json:"totalAmount"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// LoyaltyOverview содержит сводку программы лояльности для администратора.
type LoyaltyOverview struct {
	Totals            LoyaltyTotals `json:"totals"`
	TopUsers          []LoyaltyUser `json:"topUsers"`
	RecentRedemptions []Redemption  `json:"recentRedemptions"`
}

// PointsAdjustment описывает ручную корректировку баланса администратором.
// Должно быть задано ровно одно из полей.
type PointsAdjustment struct {
	Delta  *int64
	Points *int64
}

// AuditEntry описывает запись журнала аудита.
type AuditEntry struct {
	ActorID    int64
	Action     string
	Resource   string
	ResourceID int64
	Meta       map[string]any
	IP         string
	CreatedAt  time.Time
}

// ContactMessage описывает обращение из формы обратной связи.
type ContactMessage struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dashboard содержит счётчики для панели администратора.
type Dashboard struct {
	Users            int64            `json:"users"`
	MenuItems        int64            `json:"menuItems"`
	Tables           int64            `json:"tables"`
	UpcomingBookings int64            `json:"upcomingBookings"`
	OrdersByStatus   map[string]int64 `json:"ordersByStatus"`
	Revenue          float64          `json:"revenue"`
	ContactMessages  int64            `json:"contactMessages"`
	UncreditedOrders int64            `json:"uncreditedOrders"`
}

// TokenPair содержит выданные пользователю токены.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ToAmount переводит сумму из пайсов в рупии.
func ToAmount(minor int64) float64 {
	return float64(minor) / 100
}

// FromAmount переводит сумму из рупий в пайсы.
func FromAmount(amount float64) int64 {
	if amount >= 0 {
		return int64(amount*100 + 0.5)
	}
	return int64(amount*100 - 0.5)
}

// NotificationKind описывает тип уведомления.
type NotificationKind string

const (
	NotifyWelcome          NotificationKind = "welcome"
	NotifyBookingConfirmed NotificationKind = "booking_confirmed"
	NotifyBookingCancelled NotificationKind = "booking_cancelled"
	NotifyBookingAdmin     NotificationKind = "booking_admin"
	NotifyOrderPlaced      NotificationKind = "order_placed"
	NotifyOrderAdmin       NotificationKind = "order_admin"
	NotifyOrderStatus      NotificationKind = "order_status"
	NotifyContactAdmin     NotificationKind = "contact_admin"
)

// Notification описывает письмо, которое нужно отправить после изменения
// состояния. Data содержит значения для шаблона письма.
type Notification struct {
	ID        string            `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	To        string            `json:"to"`
	Data      map[string]string `json:"data"`
	Attempt   int               `json:"attempt"`
	CreatedAt time.Time         `json:"createdAt"`
}
