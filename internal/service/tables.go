package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

const (
	// AvailabilityWindow задаёт, насколько бронь занимает столик до и после своего времени.
	AvailabilityWindow = time.Hour
	// AvailableTablesLimit задаёт, сколько столиков показывается гостю.
	AvailableTablesLimit = 6
)

// AvailableTables возвращает до шести доступных столиков по возрастанию номера.
// Если задано время, исключаются столики с подтверждённой бронью в пределах часа.
func (s *Service) AvailableTables(ctx context.Context, at *time.Time) ([]model.Table, error) {
	if at == nil {
		return s.repo.AvailableTables(ctx, nil, nil, AvailableTablesLimit)
	}
	from := at.Add(-AvailabilityWindow)
	to := at.Add(AvailabilityWindow)
	return s.repo.AvailableTables(ctx, &from, &to, AvailableTablesLimit)
}

// ListTables возвращает все столики.
func (s *Service) ListTables(ctx context.Context, actor model.Actor) ([]model.Table, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.ListTables(ctx)
}

// TableInput содержит данные столика.
type TableInput struct {
	TableNumber int `validate:"gte=1"`
	Capacity    int `validate:"gte=1"`
	IsAvailable *bool
}

// CreateTable создаёт столик.
func (s *Service) CreateTable(ctx context.Context, actor model.Actor, in TableInput) (*model.Table, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, newError(ErrInvalidInput, "%s", err.Error())
	}

	t := &model.Table{TableNumber: in.TableNumber, Capacity: in.Capacity, IsAvailable: true}
	if in.IsAvailable != nil {
		t.IsAvailable = *in.IsAvailable
	}

	created, err := s.repo.CreateTable(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrTableExists) {
			return nil, newError(ErrConflict, "table %d already exists", in.TableNumber)
		}
		return nil, err
	}

	s.audit(ctx, actor, "table_created", "table", created.ID, map[string]any{
		"tableNumber": created.TableNumber,
		"capacity":    created.Capacity,
	})
	return created, nil
}

// TableUpdate содержит изменяемые поля столика.
type TableUpdate struct {
	TableNumber *int
	Capacity    *int
	IsAvailable *bool
}

// UpdateTable изменяет столик. Незаданные поля остаются прежними.
func (s *Service) UpdateTable(ctx context.Context, actor model.Actor, id int64, upd TableUpdate) (*model.Table, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	t, err := s.repo.GetTable(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "table not found")
		}
		return nil, err
	}

	if upd.TableNumber != nil {
		if *upd.TableNumber < 1 {
			return nil, newError(ErrInvalidInput, "tableNumber must be positive")
		}
		t.TableNumber = *upd.TableNumber
	}
	if upd.Capacity != nil {
		if *upd.Capacity < 1 {
			return nil, newError(ErrInvalidInput, "capacity must be positive")
		}
		t.Capacity = *upd.Capacity
	}
	if upd.IsAvailable != nil {
		t.IsAvailable = *upd.IsAvailable
	}

	updated, err := s.repo.UpdateTable(ctx, t)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, newError(ErrNotFound, "table not found")
		case errors.Is(err, repository.ErrTableExists):
			return nil, newError(ErrConflict, "table %d already exists", t.TableNumber)
		}
		return nil, err
	}

	s.audit(ctx, actor, "table_updated", "table", updated.ID, map[string]any{
		"capacity":    updated.Capacity,
		"isAvailable": updated.IsAvailable,
	})
	return updated, nil
}

// DeleteTable удаляет столик без бронирований.
func (s *Service) DeleteTable(ctx context.Context, actor model.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.repo.DeleteTable(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return newError(ErrNotFound, "table not found")
		case errors.Is(err, repository.ErrInUse):
			return newError(ErrConflict, "table has bookings; mark it unavailable instead")
		}
		return err
	}

	s.audit(ctx, actor, "table_deleted", "table", id, nil)
	return nil
}

// DefaultTables возвращает стандартную рассадку: три столика на четверых
// и три на шестерых.
func DefaultTables() []model.Table {
	res := make([]model.Table, 0, 6)
	for n := 1; n <= 6; n++ {
		capacity := 4
		if n > 3 {
			capacity = 6
		}
		res = append(res, model.Table{TableNumber: n, Capacity: capacity, IsAvailable: true})
	}
	return res
}

// SeedTables создаёт или обновляет стандартные столики.
func (s *Service) SeedTables(ctx context.Context) (int, error) {
	return s.repo.UpsertTables(ctx, DefaultTables())
}
