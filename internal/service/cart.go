package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
)

// MaxCartQuantity ограничивает количество одной позиции в корзине и в заказе.
const MaxCartQuantity = 50

func (s *Service) cartStore() (CartStore, error) {
	if s.cart == nil {
		return nil, newError(ErrUnavailable, "cart storage is not configured")
	}
	return s.cart, nil
}

// Cart возвращает корзину автора запроса.
func (s *Service) Cart(ctx context.Context, actor model.Actor) ([]model.CartItem, error) {
	cart, err := s.cartStore()
	if err != nil {
		return nil, err
	}
	return cart.Items(ctx, actor.UserID)
}

// SetCartItem задаёт количество позиции в корзине. Нулевое количество
// удаляет позицию.
func (s *Service) SetCartItem(ctx context.Context, actor model.Actor, menuItemID int64, quantity int) ([]model.CartItem, error) {
	cart, err := s.cartStore()
	if err != nil {
		return nil, err
	}
	if quantity < 0 || quantity > MaxCartQuantity {
		return nil, newError(ErrInvalidInput, "quantity must be between 0 and %d", MaxCartQuantity)
	}

	if quantity == 0 {
		if err := cart.RemoveItem(ctx, actor.UserID, menuItemID); err != nil {
			return nil, err
		}
		return cart.Items(ctx, actor.UserID)
	}

	m, err := s.repo.GetMenuItem(ctx, menuItemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "menu item not found")
		}
		return nil, err
	}
	if !m.IsAvailable {
		return nil, newError(ErrUnavailable, "%s is not available", m.Name)
	}

	if err := cart.SetItem(ctx, actor.UserID, menuItemID, quantity); err != nil {
		return nil, err
	}
	return cart.Items(ctx, actor.UserID)
}

// RemoveCartItem удаляет позицию из корзины.
func (s *Service) RemoveCartItem(ctx context.Context, actor model.Actor, menuItemID int64) ([]model.CartItem, error) {
	cart, err := s.cartStore()
	if err != nil {
		return nil, err
	}
	if err := cart.RemoveItem(ctx, actor.UserID, menuItemID); err != nil {
		return nil, err
	}
	return cart.Items(ctx, actor.UserID)
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context, actor model.Actor) error {
	cart, err := s.cartStore()
	if err != nil {
		return err
	}
	return cart.Clear(ctx, actor.UserID)
}

// Checkout оформляет заказ из корзины и очищает её.
func (s *Service) Checkout(ctx context.Context, actor model.Actor) (*OrderResult, error) {
	cart, err := s.cartStore()
	if err != nil {
		return nil, err
	}

	items, err := cart.Items(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, newError(ErrInvalidInput, "cart is empty")
	}

	in := make([]OrderItemInput, 0, len(items))
	for _, it := range items {
		in = append(in, OrderItemInput{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}

	res, err := s.CreateOrder(ctx, actor, in)
	if err != nil {
		return nil, err
	}

	if err := cart.Clear(ctx, actor.UserID); err != nil {
		s.logger.Warn("failed to clear cart after checkout",
			zap.Int64("userId", actor.UserID),
			zap.Int64("orderId", res.Order.ID),
			zap.Error(err),
		)
	}
	return res, nil
}
