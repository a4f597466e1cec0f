package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

const userColumns = `id, email, username, password_hash, role, points, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &role, &u.Points, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, username, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+userColumns,
		u.Email, u.Username, u.PasswordHash, string(u.Role),
	)

	created, err := scanUser(row)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdatePassword заменяет хеш пароля и отзывает все refresh-токены пользователя.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash []byte) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
}

// SaveRefreshToken сохраняет хеш refresh-токена и оставляет у пользователя
// не более keep самых новых токенов.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, userID int64, tokenHash []byte, expiresAt time.Time, keep int) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return insertRefreshToken(ctx, tx, userID, tokenHash, expiresAt, keep)
	})
}

// RotateRefreshToken атомарно заменяет старый refresh-токен новым.
// Возвращает ErrNotFound, если старый токен отозван или истёк.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash []byte, expiresAt time.Time, keep int) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2 AND expires_at > now()`,
			userID, oldHash,
		)
		if err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return insertRefreshToken(ctx, tx, userID, newHash, expiresAt, keep)
	})
}

func insertRefreshToken(ctx context.Context, tx pgx.Tx, userID int64, tokenHash []byte, expiresAt time.Time, keep int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		uuid.New(), userID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM refresh_tokens
		 WHERE user_id = $1 AND id NOT IN (
		     SELECT id FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2
		 )`,
		userID, keep,
	)
	if err != nil {
		return fmt.Errorf("trim refresh tokens: %w", err)
	}
	return nil
}

// DeleteRefreshToken отзывает refresh-токен пользователя.
func (r *PostgresRepository) DeleteRefreshToken(ctx context.Context, userID int64, tokenHash []byte) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`,
		userID, tokenHash,
	)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens удаляет истёкшие refresh-токены и возвращает их количество.
func (r *PostgresRepository) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
