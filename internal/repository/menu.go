package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

const menuColumns = `id, name, slug, description, category, price, is_available, is_seasonal, image_url, created_at, updated_at`

func scanMenuItem(row pgx.Row) (*model.MenuItem, error) {
	var m model.MenuItem
	err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.Description, &m.Category, &m.Price,
		&m.IsAvailable, &m.IsSeasonal, &m.ImageURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMenu возвращает позиции меню. При onlyAvailable скрываются недоступные позиции.
func (r *PostgresRepository) ListMenu(ctx context.Context, category string, onlyAvailable bool) ([]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+menuColumns+`
		 FROM menu_items
		 WHERE ($1 = '' OR category = $1) AND (NOT $2 OR is_available)
		 ORDER BY category, name`,
		category, onlyAvailable,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu: %w", err)
	}
	defer rows.Close()

	res := make([]model.MenuItem, 0)
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		res = append(res, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetMenuItem возвращает позицию меню по идентификатору.
func (r *PostgresRepository) GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error) {
	m, err := scanMenuItem(r.pool.QueryRow(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get menu item: %w", err)
	}
	return m, nil
}

// GetMenuItems возвращает найденные позиции меню по списку идентификаторов.
// Отсутствующие идентификаторы просто не попадают в результат.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.MenuItem, len(ids))
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		res[m.ID] = *m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateMenuItem создаёт позицию меню.
func (r *PostgresRepository) CreateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error) {
	created, err := scanMenuItem(r.pool.QueryRow(ctx,
		`INSERT INTO menu_items (name, slug, description, category, price, is_available, is_seasonal, image_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+menuColumns,
		m.Name, m.Slug, m.Description, m.Category, m.Price, m.IsAvailable, m.IsSeasonal, m.ImageURL,
	))
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrMenuItemExists, m.Slug)
		}
		return nil, fmt.Errorf("create menu item: %w", err)
	}
	return created, nil
}

// UpdateMenuItem перезаписывает позицию меню.
func (r *PostgresRepository) UpdateMenuItem(ctx context.Context, m *model.MenuItem) (*model.MenuItem, error) {
	updated, err := scanMenuItem(r.pool.QueryRow(ctx,
		`UPDATE menu_items
		 SET name = $2, slug = $3, description = $4, category = $5, price = $6,
		     is_available = $7, is_seasonal = $8, image_url = $9, updated_at = now()
		 WHERE id = $1
		 RETURNING `+menuColumns,
		m.ID, m.Name, m.Slug, m.Description, m.Category, m.Price, m.IsAvailable, m.IsSeasonal, m.ImageURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrMenuItemExists, m.Slug)
		}
		return nil, fmt.Errorf("update menu item: %w", err)
	}
	return updated, nil
}

// DeleteMenuItem удаляет позицию меню. Существующие заказы хранят копию названия и цены.
func (r *PostgresRepository) DeleteMenuItem(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete menu item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
