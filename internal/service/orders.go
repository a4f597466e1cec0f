package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/loyalty"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

// errNoChange прерывает транзакцию леджера, когда изменять нечего.
var errNoChange = errors.New("no change")

// OrderItemInput описывает позицию нового заказа.
type OrderItemInput struct {
	MenuItemID int64
	Quantity   int
}

// OrderResult содержит заказ и баланс владельца после операции.
type OrderResult struct {
	Order         *model.Order
	PointsEarned  int64
	CurrentPoints int64
}

// CreateOrder оформляет заказ навынос по ценам меню.
func (s *Service) CreateOrder(ctx context.Context, actor model.Actor, items []OrderItemInput) (*OrderResult, error) {
	if len(items) == 0 {
		return nil, newError(ErrInvalidInput, "items (array) are required")
	}

	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "user not found")
		}
		return nil, err
	}

	ids := uniqueMenuIDs(items)
	menu, err := s.repo.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := menu[id]; !ok {
			missing = append(missing, strconv.FormatInt(id, 10))
		}
	}
	if len(missing) > 0 {
		return nil, newError(ErrNotFound, "menu item(s) not found: %s", strings.Join(missing, ", "))
	}

	order := &model.Order{UserID: user.ID, Items: make([]model.LineItem, 0, len(items))}
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > MaxCartQuantity {
			return nil, newError(ErrInvalidInput, "invalid quantity for menuItem %d", it.MenuItemID)
		}
		m := menu[it.MenuItemID]
		subtotal, ok := mulAmount(m.Price, int64(it.Quantity))
		if !ok {
			return nil, newError(ErrInvalidInput, "order total is too large")
		}
		li := model.LineItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			Quantity:   it.Quantity,
			Price:      m.Price,
			Subtotal:   subtotal,
		}
		if order.TotalAmount > math.MaxInt64-li.Subtotal {
			return nil, newError(ErrInvalidInput, "order total is too large")
		}
		order.TotalAmount += li.Subtotal
		order.Items = append(order.Items, li)
	}
	order.Meta.PointsEarned = s.opts.Policy.Earned(order.TotalAmount)

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		zap.Int64("orderId", created.ID),
		zap.Int64("userId", user.ID),
		zap.Int64("totalAmount", created.TotalAmount),
		zap.Int64("pointsEarned", created.Meta.PointsEarned),
	)

	data := orderData(created, user)
	s.notify(ctx, model.NotifyOrderPlaced, user.Email, data)
	s.notify(ctx, model.NotifyOrderAdmin, s.opts.AdminEmail, data)
	s.audit(ctx, actor, "order_created", "order", created.ID, map[string]any{
		"totalAmount":  model.ToAmount(created.TotalAmount),
		"pointsEarned": created.Meta.PointsEarned,
	})

	return &OrderResult{
		Order:         created,
		PointsEarned:  created.Meta.PointsEarned,
		CurrentPoints: user.Points,
	}, nil
}

// mulAmount перемножает цену и количество, сообщая о переполнении.
func mulAmount(price, quantity int64) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	if price != 0 && quantity > math.MaxInt64/price {
		return 0, false
	}
	return price * quantity, true
}

// GetOrder возвращает заказ владельцу или администратору.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, id int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "order not found")
		}
		return nil, err
	}
	if !actor.IsAdmin() && o.UserID != actor.UserID {
		return nil, newError(ErrForbidden, "not authorized to view this order")
	}
	return o, nil
}

// ListMyOrders возвращает заказы автора запроса.
func (s *Service) ListMyOrders(ctx context.Context, actor model.Actor) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, actor.UserID)
}

// ListOrders возвращает заказы по фильтру.
func (s *Service) ListOrders(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	for _, st := range f.Statuses {
		if _, ok := validation.ParseOrderStatus(string(st)); !ok {
			return nil, newError(ErrInvalidInput, "invalid orderStatus %q", st)
		}
	}
	return s.repo.ListOrders(ctx, f)
}

// DeleteOrder удаляет заказ. Баланс владельца не пересчитывается.
func (s *Service) DeleteOrder(ctx context.Context, actor model.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "order not found")
		}
		return err
	}
	s.audit(ctx, actor, "order_deleted", "order", id, nil)
	return nil
}

// UpdateOrderStatus изменяет статус заказа. При переходе в Delivered
// баллы начисляются отдельной транзакцией ровно один раз; ошибка начисления
// логируется и не отменяет смену статуса. Переход в Cancelled выполняет тот
// же возврат баллов, что и CancelOrder.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor model.Actor, id int64, value string) (*model.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	status, ok := validation.ParseOrderStatus(value)
	if !ok {
		if value == "" {
			return nil, newError(ErrInvalidInput, "orderStatus is required")
		}
		return nil, newError(ErrInvalidInput, "invalid orderStatus")
	}

	if status == model.OrderStatusCancelled {
		res, err := s.cancel(ctx, actor, id, false)
		if err != nil {
			return nil, err
		}
		return res.Order, nil
	}

	order, _, err := s.repo.UpdateOrderLedger(ctx, id, func(o *model.Order, _ *model.User) error {
		switch {
		case o.OrderStatus == model.OrderStatusCancelled:
			return newError(ErrInvalidState, "cancelled order cannot change status")
		case o.OrderStatus == model.OrderStatusDelivered && status != model.OrderStatusDelivered:
			return newError(ErrInvalidState, "delivered order cannot move back to %s", status)
		}
		o.OrderStatus = status
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "order not found")
		}
		return nil, err
	}

	s.audit(ctx, actor, "order_status_updated", "order", order.ID, map[string]any{"status": string(status)})

	if status == model.OrderStatusDelivered {
		credited, err := s.creditOrder(ctx, order.ID)
		switch {
		case err == nil:
			order = credited
		case errors.Is(err, errNoChange):
		default:
			s.logger.Error("failed to credit loyalty points on delivery",
				zap.Int64("orderId", order.ID),
				zap.Int64("userId", order.UserID),
				zap.Int64("pointsEarned", order.Meta.PointsEarned),
				zap.Error(err),
			)
		}
	}

	if u, err := s.repo.GetUserByID(ctx, order.UserID); err == nil {
		data := orderData(order, u)
		data["status"] = string(order.OrderStatus)
		s.notify(ctx, model.NotifyOrderStatus, u.Email, data)
	}

	return order, nil
}

// creditOrder начисляет баллы за доставленный заказ, если они ещё не начислены.
// Если начислять нечего, возвращает errNoChange.
func (s *Service) creditOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	order, user, err := s.repo.UpdateOrderLedger(ctx, orderID, func(o *model.Order, u *model.User) error {
		if o.OrderStatus != model.OrderStatusDelivered || o.Meta.PointsCredited || o.Meta.PointsEarned <= 0 {
			return errNoChange
		}
		now := s.now().UTC()
		u.Points += o.Meta.PointsEarned
		o.Meta.PointsCredited = true
		o.Meta.PointsCreditedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loyalty points credited",
		zap.Int64("orderId", order.ID),
		zap.Int64("userId", user.ID),
		zap.Int64("points", order.Meta.PointsEarned),
		zap.Int64("balance", user.Points),
	)
	return order, nil
}

// CancelOrder отменяет заказ владельца: начисленные баллы снимаются (не ниже
// нуля), списанные возвращаются. Повторная отмена ничего не меняет.
func (s *Service) CancelOrder(ctx context.Context, actor model.Actor, id int64) (*OrderResult, error) {
	return s.cancel(ctx, actor, id, true)
}

func (s *Service) cancel(ctx context.Context, actor model.Actor, id int64, ownerOnly bool) (*OrderResult, error) {
	var removed, refunded int64

	order, user, err := s.repo.UpdateOrderLedger(ctx, id, func(o *model.Order, u *model.User) error {
		if ownerOnly && o.UserID != actor.UserID {
			return newError(ErrForbidden, "you can only cancel your own orders")
		}
		switch o.OrderStatus {
		case model.OrderStatusCancelled:
			return errNoChange
		case model.OrderStatusDelivered:
			if !s.opts.AllowCancelDelivered {
				return newError(ErrInvalidState, "delivered orders cannot be cancelled")
			}
		}

		if o.Meta.PointsCredited {
			removed = o.Meta.PointsEarned
		}
		refunded = o.Meta.RedeemedPoints
		u.Points = loyalty.Reverse(u.Points, o.Meta.PointsEarned, o.Meta.PointsCredited, o.Meta.RedeemedPoints)
		o.OrderStatus = model.OrderStatusCancelled
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errNoChange):
			return s.unchangedOrder(ctx, id)
		case errors.Is(err, repository.ErrNotFound):
			return nil, newError(ErrNotFound, "order not found")
		}
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.Int64("orderId", order.ID),
		zap.Int64("pointsRemoved", removed),
		zap.Int64("redeemedRefunded", refunded),
		zap.Int64("balance", user.Points),
	)

	data := orderData(order, user)
	data["status"] = string(order.OrderStatus)
	data["pointsRemoved"] = strconv.FormatInt(removed, 10)
	data["redeemedRefunded"] = strconv.FormatInt(refunded, 10)
	s.notify(ctx, model.NotifyOrderStatus, user.Email, data)
	s.notify(ctx, model.NotifyOrderAdmin, s.opts.AdminEmail, data)
	s.audit(ctx, actor, "order_cancelled", "order", order.ID, map[string]any{
		"pointsRemoved":    removed,
		"redeemedRefunded": refunded,
	})

	return &OrderResult{Order: order, PointsEarned: order.Meta.PointsEarned, CurrentPoints: user.Points}, nil
}

func (s *Service) unchangedOrder(ctx context.Context, id int64) (*OrderResult, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "order not found")
		}
		return nil, err
	}
	u, err := s.repo.GetUserByID(ctx, o.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "user not found")
		}
		return nil, err
	}
	return &OrderResult{Order: o, PointsEarned: o.Meta.PointsEarned, CurrentPoints: u.Points}, nil
}

// RedeemPoints списывает баллы владельца заказа в счёт скидки. Заказ и
// баланс изменяются одной транзакцией; на заказ можно списать баллы один раз.
func (s *Service) RedeemPoints(ctx context.Context, actor model.Actor, id int64, points int64) (*OrderResult, error) {
	if points <= 0 {
		return nil, newError(ErrInvalidInput, "points must be a positive integer")
	}

	var discount int64
	order, user, err := s.repo.UpdateOrderLedger(ctx, id, func(o *model.Order, u *model.User) error {
		switch {
		case o.UserID != actor.UserID:
			return newError(ErrForbidden, "not authorized to redeem points on this order")
		case o.OrderStatus == model.OrderStatusCancelled:
			return newError(ErrInvalidState, "cannot redeem points on a cancelled order")
		case o.Meta.RedeemedPoints > 0:
			return newError(ErrAlreadyRedeemed, "points already redeemed for this order")
		case u.Points < points:
			return newError(ErrInsufficientBalance, "insufficient points: balance is %d", u.Points)
		}

		discount = s.opts.Policy.Discount(points)
		o.TotalAmount = loyalty.ApplyDiscount(o.TotalAmount, discount)
		o.Meta.RedeemedPoints = points
		o.Meta.DiscountApplied = discount
		u.Points -= points
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "order not found")
		}
		return nil, err
	}

	s.audit(ctx, actor, "redeem_points", "order", order.ID, map[string]any{
		"pointsRedeemed": points,
		"discount":       model.ToAmount(discount),
	})

	return &OrderResult{Order: order, PointsEarned: order.Meta.PointsEarned, CurrentPoints: user.Points}, nil
}

// ReconcileResult содержит итоги сверки начислений.
type ReconcileResult struct {
	Found    int
	Credited int
}

// ReconcileCredits находит доставленные заказы без начисленных баллов.
// При autoCredit баллы по ним начисляются.
func (s *Service) ReconcileCredits(ctx context.Context, autoCredit bool, limit int) (*ReconcileResult, error) {
	ids, err := s.repo.UncreditedOrders(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("find uncredited orders: %w", err)
	}

	res := &ReconcileResult{Found: len(ids)}
	for _, id := range ids {
		if !autoCredit {
			s.logger.Warn("delivered order without loyalty credit", zap.Int64("orderId", id))
			continue
		}
		if _, err := s.creditOrder(ctx, id); err != nil {
			if errors.Is(err, errNoChange) {
				continue
			}
			s.logger.Error("failed to credit loyalty points during reconciliation",
				zap.Int64("orderId", id),
				zap.Error(err),
			)
			continue
		}
		res.Credited++
	}
	return res, nil
}

func uniqueMenuIDs(items []OrderItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.MenuItemID]; ok {
			continue
		}
		seen[it.MenuItemID] = struct{}{}
		ids = append(ids, it.MenuItemID)
	}
	return ids
}

func orderData(o *model.Order, u *model.User) map[string]string {
	lines := make([]string, 0, len(o.Items))
	for _, li := range o.Items {
		lines = append(lines, fmt.Sprintf("%d × %s @ ₹%.0f = ₹%.0f",
			li.Quantity, li.Name, model.ToAmount(li.Price), model.ToAmount(li.Subtotal)))
	}

	customer := u.Username
	if customer == "" {
		customer = u.Email
	}

	return map[string]string{
		"orderId":      strconv.FormatInt(o.ID, 10),
		"customer":     customer,
		"items":        strings.Join(lines, "\n"),
		"total":        fmt.Sprintf("₹%.0f", model.ToAmount(o.TotalAmount)),
		"pointsEarned": strconv.FormatInt(o.Meta.PointsEarned, 10),
		"status":       string(o.OrderStatus),
	}
}
