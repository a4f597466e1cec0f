package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

const orderColumns = `id, user_id, total_amount, order_status, points_earned, points_credited,
	points_credited_at, redeemed_points, discount_applied, created_at, updated_at`

// LedgerFunc изменяет заказ и баланс его владельца. Вызывается внутри
// транзакции, когда строки заказа и пользователя уже заблокированы.
// Если функция вернула ошибку, изменения не сохраняются.
type LedgerFunc func(o *model.Order, u *model.User) error

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status,
		&o.Meta.PointsEarned, &o.Meta.PointsCredited, &o.Meta.PointsCreditedAt,
		&o.Meta.RedeemedPoints, &o.Meta.DiscountApplied, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.OrderStatus = model.OrderStatus(status)
	o.Items = []model.LineItem{}
	return &o, nil
}

// queryer описывает общие методы пула и транзакции.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadItems(ctx context.Context, q queryer, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*model.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx,
		`SELECT order_id, menu_item_id, name, quantity, price, subtotal
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			li      model.LineItem
		)
		if err := rows.Scan(&orderID, &li.MenuItemID, &li.Name, &li.Quantity, &li.Price, &li.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, li)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	var ptrs []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := loadItems(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}

	res := make([]model.Order, 0, len(ptrs))
	for _, o := range ptrs {
		res = append(res, *o)
	}
	return res, nil
}

// CreateOrder сохраняет заказ вместе с позициями.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	var id int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, total_amount, order_status, points_earned)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			o.UserID, o.TotalAmount, string(model.OrderStatusPending), o.Meta.PointsEarned,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		rows := make([][]any, 0, len(o.Items))
		for i, li := range o.Items {
			rows = append(rows, []any{id, i, li.MenuItemID, li.Name, li.Quantity, li.Price, li.Subtotal})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "menu_item_id", "name", "quantity", "price", "subtotal"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetOrder(ctx, id)
}

// GetOrder возвращает заказ с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := loadItems(ctx, r.pool, []*model.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		add("order_status = ANY($%d)", statuses)
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	return r.queryOrders(ctx, query, args...)
}

// DeleteOrder удаляет заказ. Баланс владельца не меняется.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrderLedger блокирует заказ и его владельца (в этом порядке),
// передаёт их в fn и сохраняет изменения статуса, суммы, сведений о баллах
// и баланса одной транзакцией.
func (r *PostgresRepository) UpdateOrderLedger(ctx context.Context, orderID int64, fn LedgerFunc) (*model.Order, *model.User, error) {
	var (
		order *model.Order
		user  *model.User
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, o.UserID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if err := loadItems(ctx, tx, []*model.Order{o}); err != nil {
			return err
		}

		if err := fn(o, u); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`UPDATE orders
			 SET total_amount = $2, order_status = $3, points_credited = $4,
			     points_credited_at = $5, redeemed_points = $6, discount_applied = $7,
			     updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			o.ID, o.TotalAmount, string(o.OrderStatus), o.Meta.PointsCredited,
			o.Meta.PointsCreditedAt, o.Meta.RedeemedPoints, o.Meta.DiscountApplied,
		).Scan(&o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET points = $2 WHERE id = $1`, u.ID, u.Points); err != nil {
			return fmt.Errorf("update user points: %w", err)
		}

		order, user = o, u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, user, nil
}

// UncreditedOrders возвращает идентификаторы доставленных заказов, баллы
// по которым ещё не начислены.
func (r *PostgresRepository) UncreditedOrders(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM orders
		 WHERE order_status = $1 AND NOT points_credited AND points_earned > 0
		 ORDER BY id
		 LIMIT $2`,
		string(model.OrderStatusDelivered), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select uncredited orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}
