package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// BookingHalfWindow задаёт половину интервала, который бронь занимает на столике.
// Две брони одного столика конфликтуют, если их окна пересекаются,
// то есть если между ними не больше часа.
const BookingHalfWindow = 30 * time.Minute

const bookingSelect = `
	SELECT b.id, b.user_id, b.table_id, t.table_number, t.capacity,
	       b.booking_date, b.number_of_guests, b.special_requests,
	       b.booking_status, b.operational_status, b.confirmation_email,
	       u.username, b.created_at, b.updated_at
	FROM bookings b
	JOIN tables t ON t.id = b.table_id
	JOIN users u ON u.id = b.user_id`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b           model.Booking
		status, ops string
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.TableID, &b.TableNumber, &b.TableCapacity,
		&b.BookingDate, &b.NumberOfGuests, &b.SpecialRequests,
		&status, &ops, &b.ConfirmationEmail,
		&b.Username, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.BookingStatus = model.BookingStatus(status)
	b.OperationalStatus = model.OperationalStatus(ops)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()

	res := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func bookingWindow(at time.Time) pgtype.Range[pgtype.Timestamptz] {
	return pgtype.Range[pgtype.Timestamptz]{
		Lower:     pgtype.Timestamptz{Time: at.Add(-BookingHalfWindow), Valid: true},
		Upper:     pgtype.Timestamptz{Time: at.Add(BookingHalfWindow), Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Inclusive,
		Valid:     true,
	}
}

// CreateBooking сохраняет подтверждённую бронь. Строка столика блокируется
// на время проверки пересечений, ограничение исключения в БД страхует от
// параллельной вставки. При пересечении возвращается ErrBookingConflict.
func (r *PostgresRepository) CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	var id int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var tableID int64
		err := tx.QueryRow(ctx, `SELECT id FROM tables WHERE id = $1 FOR UPDATE`, b.TableID).Scan(&tableID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock table: %w", err)
		}

		var clash bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM bookings
			     WHERE table_id = $1 AND booking_status = $2
			       AND booking_date BETWEEN $3 AND $4
			 )`,
			b.TableID, string(model.BookingStatusConfirmed),
			b.BookingDate.Add(-2*BookingHalfWindow), b.BookingDate.Add(2*BookingHalfWindow),
		).Scan(&clash)
		if err != nil {
			return fmt.Errorf("check booking conflict: %w", err)
		}
		if clash {
			return ErrBookingConflict
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO bookings (user_id, table_id, booking_date, booking_window, number_of_guests,
			                       special_requests, booking_status, operational_status, confirmation_email)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			b.UserID, b.TableID, b.BookingDate, bookingWindow(b.BookingDate), b.NumberOfGuests,
			b.SpecialRequests, string(model.BookingStatusConfirmed),
			string(model.OperationalStatusNotReached), b.ConfirmationEmail,
		).Scan(&id)
		if err != nil {
			if pgCode(err) == pgerrcode.ExclusionViolation {
				return ErrBookingConflict
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetBooking(ctx, id)
}

// GetBooking возвращает бронь по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, bookingSelect+` WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// ListBookingsByUser возвращает брони пользователя, новые первыми.
func (r *PostgresRepository) ListBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, bookingSelect+` WHERE b.user_id = $1 ORDER BY b.booking_date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	return collectBookings(rows)
}

// ListBookings возвращает брони по фильтру, новые первыми.
func (r *PostgresRepository) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("b.booking_status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("b.booking_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("b.booking_date <= $%d", *f.To)
	}

	query := bookingSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY b.booking_date DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	return collectBookings(rows)
}

// CancelBooking переводит бронь в статус Cancelled. Окно брони освобождается.
func (r *PostgresRepository) CancelBooking(ctx context.Context, id int64) (*model.Booking, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET booking_status = $2, updated_at = now() WHERE id = $1`,
		id, string(model.BookingStatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetBooking(ctx, id)
}

// SetOperationalStatus изменяет операционный статус брони.
func (r *PostgresRepository) SetOperationalStatus(ctx context.Context, id int64, status model.OperationalStatus) (*model.Booking, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET operational_status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("set operational status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetBooking(ctx, id)
}
