package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

// ContactInput содержит обращение из формы обратной связи.
type ContactInput struct {
	Name    string `validate:"required,max=255"`
	Email   string `validate:"required,email"`
	Phone   string `validate:"max=32"`
	Subject string `validate:"max=255"`
	Message string `validate:"required,max=5000"`
}

// SubmitContact сохраняет обращение и уведомляет администратора.
func (s *Service) SubmitContact(ctx context.Context, in ContactInput) (*model.ContactMessage, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = validation.NormalizeEmail(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	if err := validation.Struct(in); err != nil {
		return nil, newError(ErrInvalidInput, "%s", err.Error())
	}

	m, err := s.repo.CreateContactMessage(ctx, &model.ContactMessage{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   strings.TrimSpace(in.Phone),
		Subject: strings.TrimSpace(in.Subject),
		Message: in.Message,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.NotifyContactAdmin, s.opts.AdminEmail, map[string]string{
		"messageId": strconv.FormatInt(m.ID, 10),
		"name":      m.Name,
		"email":     m.Email,
		"phone":     m.Phone,
		"subject":   m.Subject,
		"message":   m.Message,
	})
	return m, nil
}

// ListContactMessages возвращает обращения.
func (s *Service) ListContactMessages(ctx context.Context, actor model.Actor) ([]model.ContactMessage, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.ListContactMessages(ctx)
}

// DeleteContactMessage удаляет обращение.
func (s *Service) DeleteContactMessage(ctx context.Context, actor model.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteContactMessage(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "contact message not found")
		}
		return err
	}
	return nil
}

// Dashboard возвращает счётчики панели администратора.
func (s *Service) Dashboard(ctx context.Context, actor model.Actor) (*model.Dashboard, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.Dashboard(ctx, s.now().UTC())
}
