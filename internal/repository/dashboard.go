package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// Dashboard собирает счётчики для панели администратора.
// Выручка считается по доставленным заказам.
func (r *PostgresRepository) Dashboard(ctx context.Context, now time.Time) (*model.Dashboard, error) {
	var (
		d       model.Dashboard
		revenue int64
	)

	err := r.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM users),
		        (SELECT COUNT(*) FROM menu_items),
		        (SELECT COUNT(*) FROM tables),
		        (SELECT COUNT(*) FROM bookings WHERE booking_status = $1 AND booking_date >= $2),
		        COALESCE((SELECT SUM(total_amount) FROM orders WHERE order_status = $3), 0),
		        (SELECT COUNT(*) FROM contact_messages),
		        (SELECT COUNT(*) FROM orders WHERE order_status = $3 AND NOT points_credited AND points_earned > 0)`,
		string(model.BookingStatusConfirmed), now, string(model.OrderStatusDelivered),
	).Scan(&d.Users, &d.MenuItems, &d.Tables, &d.UpcomingBookings, &revenue, &d.ContactMessages, &d.UncreditedOrders)
	if err != nil {
		return nil, fmt.Errorf("dashboard counters: %w", err)
	}
	d.Revenue = model.ToAmount(revenue)

	rows, err := r.pool.Query(ctx, `SELECT order_status, COUNT(*) FROM orders GROUP BY order_status`)
	if err != nil {
		return nil, fmt.Errorf("orders by status: %w", err)
	}
	defer rows.Close()

	d.OrdersByStatus = make(map[string]int64, len(model.OrderStatuses))
	for _, s := range model.OrderStatuses {
		d.OrdersByStatus[string(s)] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan orders by status: %w", err)
		}
		d.OrdersByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &d, nil
}
