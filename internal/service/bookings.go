package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

// BookingRequest содержит данные для бронирования столика.
type BookingRequest struct {
	TableID         int64
	BookingDate     *time.Time
	NumberOfGuests  int
	SpecialRequests string
}

// CreateBooking бронирует столик для автора запроса.
func (s *Service) CreateBooking(ctx context.Context, actor model.Actor, req BookingRequest) (*model.Booking, error) {
	if req.TableID <= 0 || req.BookingDate == nil {
		return nil, newError(ErrInvalidInput, "tableId, bookingDate and numberOfGuests are required")
	}

	table, err := s.repo.GetTable(ctx, req.TableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "table not found")
		}
		return nil, err
	}
	if !table.IsAvailable {
		return nil, newError(ErrUnavailable, "table is not available")
	}
	if req.NumberOfGuests < 1 {
		return nil, newError(ErrInvalidInput, "numberOfGuests must be >= 1")
	}
	if req.NumberOfGuests > table.Capacity {
		return nil, newError(ErrInvalidInput, "table capacity is %d, but %d guests requested", table.Capacity, req.NumberOfGuests)
	}

	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "user no longer exists")
		}
		return nil, err
	}

	booking, err := s.repo.CreateBooking(ctx, &model.Booking{
		UserID:            user.ID,
		TableID:           table.ID,
		BookingDate:       req.BookingDate.UTC(),
		NumberOfGuests:    req.NumberOfGuests,
		SpecialRequests:   strings.TrimSpace(req.SpecialRequests),
		ConfirmationEmail: user.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookingConflict):
			return nil, newError(ErrConflict, "table already booked for this time slot (within 1 hour window)")
		case errors.Is(err, repository.ErrNotFound):
			return nil, newError(ErrNotFound, "table not found")
		}
		return nil, err
	}

	s.logger.Info("table booked",
		zap.Int64("bookingId", booking.ID),
		zap.Int("tableNumber", booking.TableNumber),
		zap.Time("bookingDate", booking.BookingDate),
	)

	data := bookingData(booking)
	s.notify(ctx, model.NotifyBookingConfirmed, booking.ConfirmationEmail, data)
	s.notify(ctx, model.NotifyBookingAdmin, s.opts.AdminEmail, data)
	s.audit(ctx, actor, "table_booked", "booking", booking.ID, map[string]any{
		"tableId":        booking.TableID,
		"numberOfGuests": booking.NumberOfGuests,
		"bookingDate":    booking.BookingDate,
	})

	return booking, nil
}

// GetBooking возвращает бронь владельцу или администратору.
func (s *Service) GetBooking(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "booking not found")
		}
		return nil, err
	}
	if !actor.IsAdmin() && b.UserID != actor.UserID {
		return nil, newError(ErrForbidden, "not authorized to view this booking")
	}
	return b, nil
}

// ListMyBookings возвращает брони автора запроса.
func (s *Service) ListMyBookings(ctx context.Context, actor model.Actor) ([]model.Booking, error) {
	return s.repo.ListBookingsByUser(ctx, actor.UserID)
}

// ListBookings возвращает брони по фильтру.
func (s *Service) ListBookings(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if f.Status != "" && f.Status != model.BookingStatusConfirmed && f.Status != model.BookingStatusCancelled {
		return nil, newError(ErrInvalidInput, "status must be Confirmed or Cancelled")
	}
	return s.repo.ListBookings(ctx, f)
}

// CancelBooking отменяет бронь. Отменить может владелец или администратор.
// Повторная отмена ничего не меняет и возвращает бронь как есть.
func (s *Service) CancelBooking(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	b, err := s.GetBooking(ctx, actor, id)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, newError(ErrForbidden, "not authorized to cancel this booking")
		}
		return nil, err
	}
	if b.BookingStatus == model.BookingStatusCancelled {
		return b, nil
	}

	cancelled, err := s.repo.CancelBooking(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "booking not found")
		}
		return nil, err
	}

	s.notify(ctx, model.NotifyBookingCancelled, cancelled.ConfirmationEmail, bookingData(cancelled))
	s.audit(ctx, actor, "booking_cancelled", "booking", cancelled.ID, map[string]any{
		"tableNumber": cancelled.TableNumber,
	})

	return cancelled, nil
}

// SetOperationalStatus изменяет операционный статус брони. Допустим любой
// переход между тремя значениями.
func (s *Service) SetOperationalStatus(ctx context.Context, actor model.Actor, id int64, value string) (*model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	status, ok := validation.ParseOperationalStatus(value)
	if !ok {
		return nil, newError(ErrInvalidInput, "operationalStatus must be one of: 'not reached yet', 'having food', 'done'")
	}

	b, err := s.repo.SetOperationalStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "booking not found")
		}
		return nil, err
	}

	s.audit(ctx, actor, "booking_status_updated", "booking", b.ID, map[string]any{
		"operationalStatus": string(status),
	})
	return b, nil
}

func bookingData(b *model.Booking) map[string]string {
	requests := b.SpecialRequests
	if requests == "" {
		requests = "None"
	}
	return map[string]string{
		"bookingId":       strconv.FormatInt(b.ID, 10),
		"tableNumber":     strconv.Itoa(b.TableNumber),
		"bookingDate":     b.BookingDate.UTC().Format(time.RFC1123),
		"guests":          strconv.Itoa(b.NumberOfGuests),
		"specialRequests": requests,
		"username":        b.Username,
	}
}
