package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

const tableColumns = `id, table_number, capacity, is_available, created_at`

func scanTable(row pgx.Row) (*model.Table, error) {
	var t model.Table
	if err := row.Scan(&t.ID, &t.TableNumber, &t.Capacity, &t.IsAvailable, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTables(rows pgx.Rows) ([]model.Table, error) {
	defer rows.Close()

	res := make([]model.Table, 0)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		res = append(res, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListTables возвращает все столики по возрастанию номера.
func (r *PostgresRepository) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tableColumns+` FROM tables ORDER BY table_number`)
	if err != nil {
		return nil, fmt.Errorf("select tables: %w", err)
	}
	return collectTables(rows)
}

// AvailableTables возвращает до limit доступных столиков по возрастанию номера.
// Если задан интервал [from, to], столики с подтверждённой бронью в нём исключаются.
func (r *PostgresRepository) AvailableTables(ctx context.Context, from, to *time.Time, limit int) ([]model.Table, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if from == nil || to == nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+tableColumns+`
			 FROM tables
			 WHERE is_available
			 ORDER BY table_number
			 LIMIT $1`,
			limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+tableColumns+`
			 FROM tables t
			 WHERE t.is_available
			   AND NOT EXISTS (
			       SELECT 1 FROM bookings b
			       WHERE b.table_id = t.id
			         AND b.booking_status = $1
			         AND b.booking_date BETWEEN $2 AND $3
			   )
			 ORDER BY t.table_number
			 LIMIT $4`,
			string(model.BookingStatusConfirmed), *from, *to, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select available tables: %w", err)
	}
	return collectTables(rows)
}

// GetTable возвращает столик по идентификатору.
func (r *PostgresRepository) GetTable(ctx context.Context, id int64) (*model.Table, error) {
	t, err := scanTable(r.pool.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get table: %w", err)
	}
	return t, nil
}

// CreateTable создаёт столик.
func (r *PostgresRepository) CreateTable(ctx context.Context, t *model.Table) (*model.Table, error) {
	created, err := scanTable(r.pool.QueryRow(ctx,
		`INSERT INTO tables (table_number, capacity, is_available)
		 VALUES ($1, $2, $3)
		 RETURNING `+tableColumns,
		t.TableNumber, t.Capacity, t.IsAvailable,
	))
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: number %d", ErrTableExists, t.TableNumber)
		}
		return nil, fmt.Errorf("create table: %w", err)
	}
	return created, nil
}

// UpdateTable изменяет номер, вместимость и доступность столика.
func (r *PostgresRepository) UpdateTable(ctx context.Context, t *model.Table) (*model.Table, error) {
	updated, err := scanTable(r.pool.QueryRow(ctx,
		`UPDATE tables SET table_number = $2, capacity = $3, is_available = $4
		 WHERE id = $1
		 RETURNING `+tableColumns,
		t.ID, t.TableNumber, t.Capacity, t.IsAvailable,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: number %d", ErrTableExists, t.TableNumber)
		}
		return nil, fmt.Errorf("update table: %w", err)
	}
	return updated, nil
}

// DeleteTable удаляет столик. Столик с бронированиями удалить нельзя.
func (r *PostgresRepository) DeleteTable(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tables WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: table %d has bookings", ErrInUse, id)
		}
		return fmt.Errorf("delete table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTables создаёт столики или обновляет вместимость существующих с тем же номером.
func (r *PostgresRepository) UpsertTables(ctx context.Context, tables []model.Table) (int, error) {
	var n int
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		n = 0
		for _, t := range tables {
			_, err := tx.Exec(ctx,
				`INSERT INTO tables (table_number, capacity, is_available)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (table_number) DO UPDATE
				 SET capacity = EXCLUDED.capacity, is_available = EXCLUDED.is_available`,
				t.TableNumber, t.Capacity, t.IsAvailable,
			)
			if err != nil {
				return fmt.Errorf("upsert table %d: %w", t.TableNumber, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
