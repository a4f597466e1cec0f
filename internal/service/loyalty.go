package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/loyalty"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

const (
	recentOrdersLimit = 5
	overviewTopLimit  = 5
)

// LoyaltySummary возвращает баланс автора запроса и историю его заказов.
func (s *Service) LoyaltySummary(ctx context.Context, actor model.Actor) (*model.LoyaltySummary, error) {
	sum, err := s.repo.LoyaltySummary(ctx, actor.UserID, recentOrdersLimit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "user not found")
		}
		return nil, err
	}
	return sum, nil
}

// LoyaltyOverview возвращает сводку программы лояльности.
func (s *Service) LoyaltyOverview(ctx context.Context, actor model.Actor) (*model.LoyaltyOverview, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.LoyaltyOverview(ctx, overviewTopLimit)
}

// AdjustPoints вручную изменяет баланс пользователя. identifier содержит числовой
// идентификатор или email. Должно быть задано ровно одно из delta и points.
// Корректировка и запись аудита сохраняются одной транзакцией.
func (s *Service) AdjustPoints(ctx context.Context, actor model.Actor, identifier string, adj model.PointsAdjustment) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if (adj.Delta == nil) == (adj.Points == nil) {
		return nil, newError(ErrInvalidInput, "provide either `delta` (number to add/subtract) or absolute `points` value")
	}

	target, err := s.resolveUser(ctx, identifier)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"delta": nil}
	if adj.Delta != nil {
		meta["delta"] = *adj.Delta
	}

	entry := model.AuditEntry{
		ActorID:    actor.UserID,
		Action:     "loyalty_points_adjusted",
		Resource:   "user",
		ResourceID: target.ID,
		Meta:       meta,
		IP:         actor.IP,
	}

	u, err := s.repo.AdjustUserPoints(ctx, target.ID, func(current int64) (int64, error) {
		return loyalty.Adjust(current, adj.Delta, adj.Points)
	}, entry)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "user not found")
		}
		if errors.Is(err, loyalty.ErrOverflow) {
			return nil, newError(ErrInvalidInput, "points adjustment is out of range")
		}
		return nil, err
	}

	s.logger.Info("loyalty points adjusted",
		zap.Int64("actorId", actor.UserID),
		zap.Int64("userId", u.ID),
		zap.Int64("points", u.Points),
	)
	return u, nil
}

func (s *Service) resolveUser(ctx context.Context, identifier string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, newError(ErrInvalidInput, "user identifier is required")
	}

	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil && id > 0 {
		u, err := s.repo.GetUserByID(ctx, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	u, err := s.repo.GetUserByEmail(ctx, validation.NormalizeEmail(identifier))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "user not found")
		}
		return nil, err
	}
	return u, nil
}
