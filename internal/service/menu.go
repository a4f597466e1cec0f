package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gosimple/slug"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

// MenuItemInput содержит данные позиции меню. Цена задаётся в рупиях.
type MenuItemInput struct {
	Name        string  `validate:"required,max=255"`
	Description string  `validate:"max=2000"`
	Category    string  `validate:"required,max=64"`
	Price       float64 `validate:"gte=0"`
	ImageURL    string  `validate:"omitempty,url"`
	IsAvailable *bool
	IsSeasonal  bool
}

// ListMenu возвращает меню. Недоступные позиции видит только администратор.
func (s *Service) ListMenu(ctx context.Context, actor model.Actor, category string) ([]model.MenuItem, error) {
	return s.repo.ListMenu(ctx, strings.TrimSpace(category), !actor.IsAdmin())
}

// GetMenuItem возвращает позицию меню.
func (s *Service) GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error) {
	m, err := s.repo.GetMenuItem(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "menu item not found")
		}
		return nil, err
	}
	return m, nil
}

// CreateMenuItem добавляет позицию меню. Slug строится из названия.
func (s *Service) CreateMenuItem(ctx context.Context, actor model.Actor, in MenuItemInput) (*model.MenuItem, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	m, err := menuItemFromInput(in)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateMenuItem(ctx, m)
	if err != nil {
		if errors.Is(err, repository.ErrMenuItemExists) {
			return nil, newError(ErrConflict, "menu item %q already exists", m.Name)
		}
		return nil, err
	}

	s.audit(ctx, actor, "menu_item_created", "menu", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdateMenuItem перезаписывает позицию меню.
func (s *Service) UpdateMenuItem(ctx context.Context, actor model.Actor, id int64, in MenuItemInput) (*model.MenuItem, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	m, err := menuItemFromInput(in)
	if err != nil {
		return nil, err
	}
	m.ID = id

	updated, err := s.repo.UpdateMenuItem(ctx, m)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, newError(ErrNotFound, "menu item not found")
		case errors.Is(err, repository.ErrMenuItemExists):
			return nil, newError(ErrConflict, "menu item %q already exists", m.Name)
		}
		return nil, err
	}

	s.audit(ctx, actor, "menu_item_updated", "menu", updated.ID, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeleteMenuItem удаляет позицию меню.
func (s *Service) DeleteMenuItem(ctx context.Context, actor model.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteMenuItem(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "menu item not found")
		}
		return err
	}
	s.audit(ctx, actor, "menu_item_deleted", "menu", id, nil)
	return nil
}

func menuItemFromInput(in MenuItemInput) (*model.MenuItem, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if err := validation.Struct(in); err != nil {
		return nil, newError(ErrInvalidInput, "%s", err.Error())
	}

	m := &model.MenuItem{
		Name:        in.Name,
		Slug:        slug.Make(in.Name),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.ToLower(in.Category),
		Price:       model.FromAmount(in.Price),
		IsAvailable: true,
		IsSeasonal:  in.IsSeasonal,
		ImageURL:    in.ImageURL,
	}
	if in.IsAvailable != nil {
		m.IsAvailable = *in.IsAvailable
	}
	if m.Slug == "" {
		return nil, newError(ErrInvalidInput, "name must contain letters or digits")
	}
	return m, nil
}
