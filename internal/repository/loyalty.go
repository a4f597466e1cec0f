package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// LoyaltySummary возвращает баланс пользователя, накопленные итоги и
// recent последних заказов. Итоги считаются по всем заказам пользователя.
func (r *PostgresRepository) LoyaltySummary(ctx context.Context, userID int64, recent int) (*model.LoyaltySummary, error) {
	var s model.LoyaltySummary

	err := r.pool.QueryRow(ctx,
		`SELECT u.points,
		        COALESCE((SELECT SUM(points_earned) FROM orders WHERE user_id = u.id), 0),
		        COALESCE((SELECT SUM(redeemed_points) FROM orders WHERE user_id = u.id), 0)
		 FROM users u
		 WHERE u.id = $1`,
		userID,
	).Scan(&s.Points, &s.LifetimeEarned, &s.LifetimeRedeemed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loyalty totals: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, created_at, total_amount, order_status, points_earned, redeemed_points
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, recent,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent orders: %w", err)
	}
	defer rows.Close()

	s.RecentOrders = make([]model.LoyaltyOrder, 0, recent)
	for rows.Next() {
		var (
			lo     model.LoyaltyOrder
			total  int64
			status string
		)
		if err := rows.Scan(&lo.ID, &lo.CreatedAt, &total, &status, &lo.PointsEarned, &lo.RedeemedPoints); err != nil {
			return nil, fmt.Errorf("scan recent order: %w", err)
		}
		lo.TotalAmount = model.ToAmount(total)
		lo.OrderStatus = model.OrderStatus(status)
		s.RecentOrders = append(s.RecentOrders, lo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &s, nil
}

// LoyaltyOverview возвращает итоги программы лояльности, top пользователей
// с наибольшим балансом и top последних списаний.
func (r *PostgresRepository) LoyaltyOverview(ctx context.Context, top int) (*model.LoyaltyOverview, error) {
	var ov model.LoyaltyOverview

	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT SUM(points) FROM users), 0),
		        (SELECT COUNT(*) FROM users WHERE points > 0),
		        COALESCE((SELECT SUM(points_earned) FROM orders), 0),
		        COALESCE((SELECT SUM(redeemed_points) FROM orders), 0)`,
	).Scan(&ov.Totals.TotalPointsInWallets, &ov.Totals.UsersWithPoints,
		&ov.Totals.TotalPointsEarned, &ov.Totals.TotalPointsRedeemed)
	if err != nil {
		return nil, fmt.Errorf("loyalty totals: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, username, email, points
		 FROM users
		 WHERE points > 0
		 ORDER BY points DESC, id
		 LIMIT $1`,
		top,
	)
	if err != nil {
		return nil, fmt.Errorf("select top users: %w", err)
	}

	ov.TopUsers = make([]model.LoyaltyUser, 0, top)
	for rows.Next() {
		var u model.LoyaltyUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Points); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan top user: %w", err)
		}
		ov.TopUsers = append(ov.TopUsers, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	rows, err = r.pool.Query(ctx,
		`SELECT o.id, u.id, u.username, u.email, u.points,
		        o.redeemed_points, o.discount_applied, o.total_amount, o.updated_at
		 FROM orders o
		 JOIN users u ON u.id = o.user_id
		 WHERE o.redeemed_points > 0
		 ORDER BY o.updated_at DESC, o.id DESC
		 LIMIT $1`,
		top,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	ov.RecentRedemptions = make([]model.Redemption, 0, top)
	for rows.Next() {
		var (
			red             model.Redemption
			u               model.LoyaltyUser
			discount, total int64
		)
		err := rows.Scan(&red.OrderID, &u.ID, &u.Username, &u.Email, &u.Points,
			&red.RedeemedPoints, &discount, &total, &red.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		red.User = &u
		red.DiscountApplied = model.ToAmount(discount)
		red.TotalAmount = model.ToAmount(total)
		ov.RecentRedemptions = append(ov.RecentRedemptions, red)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &ov, nil
}

// AdjustUserPoints блокирует пользователя, вычисляет новый баланс через fn
// и в той же транзакции записывает событие аудита. В Meta события
// добавляются поля previousPoints и points.
func (r *PostgresRepository) AdjustUserPoints(ctx context.Context, userID int64, fn func(current int64) (int64, error), entry model.AuditEntry) (*model.User, error) {
	var user *model.User

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		previous := u.Points
		if u.Points, err = fn(previous); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET points = $2 WHERE id = $1`, u.ID, u.Points); err != nil {
			return fmt.Errorf("update user points: %w", err)
		}

		meta := make(map[string]any, len(entry.Meta)+2)
		for k, v := range entry.Meta {
			meta[k] = v
		}
		meta["previousPoints"] = previous
		meta["points"] = u.Points
		entry.Meta = meta

		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}

		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
