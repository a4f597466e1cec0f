package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// CreateContactMessage сохраняет обращение из формы обратной связи.
func (r *PostgresRepository) CreateContactMessage(ctx context.Context, m *model.ContactMessage) (*model.ContactMessage, error) {
	res := *m
	err := r.pool.QueryRow(ctx,
		`INSERT INTO contact_messages (name, email, phone, subject, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		m.Name, m.Email, m.Phone, m.Subject, m.Message,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert contact message: %w", err)
	}
	return &res, nil
}

// ListContactMessages возвращает обращения, новые первыми.
func (r *PostgresRepository) ListContactMessages(ctx context.Context) ([]model.ContactMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, phone, subject, message, created_at
		 FROM contact_messages
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select contact messages: %w", err)
	}
	defer rows.Close()

	res := make([]model.ContactMessage, 0)
	for rows.Next() {
		var m model.ContactMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Phone, &m.Subject, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// DeleteContactMessage удаляет обращение.
func (r *PostgresRepository) DeleteContactMessage(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contact_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
