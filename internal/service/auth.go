package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/token"
	"github.com/mmeshcher/restaurant-system/internal/validation"
)

// RegisterInput содержит данные для регистрации.
type RegisterInput struct {
	Email    string `validate:"required,email,max=255"`
	Username string `validate:"required,min=3,max=64"`
	Password string `validate:"required,password"`
}

// RegisterUser регистрирует покупателя и сразу выдаёт ему токены.
func (s *Service) RegisterUser(ctx context.Context, in RegisterInput) (*model.User, *model.TokenPair, error) {
	in.Email = validation.NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validation.Struct(in); err != nil {
		return nil, nil, newError(ErrInvalidInput, "%s", err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost())
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, &model.User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Role:         model.RoleCustomer,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, nil, newError(ErrConflict, "user with email or username already exists")
		}
		return nil, nil, err
	}

	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	s.notify(ctx, model.NotifyWelcome, u.Email, map[string]string{"username": u.Username})

	return u, pair, nil
}

// AuthenticateUser проверяет email и пароль и выдаёт новую пару токенов.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, *model.TokenPair, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, newError(ErrInvalidInput, "email and password are required")
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, newError(ErrUnauthorized, "invalid credentials")
		}
		return nil, nil, err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, nil, newError(ErrUnauthorized, "invalid credentials")
	}

	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// RefreshTokens обменивает действующий refresh-токен на новую пару.
// Старый токен при этом отзывается.
func (s *Service) RefreshTokens(ctx context.Context, raw string) (*model.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return nil, newError(ErrUnauthorized, "invalid refresh token")
	}

	u, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "invalid refresh token")
		}
		return nil, err
	}

	access, err := s.tokens.IssueAccess(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.tokens.IssueRefresh(u.ID)
	if err != nil {
		return nil, err
	}

	err = s.repo.RotateRefreshToken(ctx, u.ID, token.Hash(raw), token.Hash(refresh), exp, s.opts.MaxRefreshTokens)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "refresh token revoked")
		}
		return nil, err
	}

	return &model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout отзывает refresh-токен. Недействительный токен игнорируется.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return nil
	}
	return s.repo.DeleteRefreshToken(ctx, claims.UserID, token.Hash(raw))
}

// CurrentUser возвращает профиль автора запроса.
func (s *Service) CurrentUser(ctx context.Context, actor model.Actor) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "user no longer exists")
		}
		return nil, err
	}
	return u, nil
}

// ChangePassword меняет пароль и отзывает все refresh-токены пользователя.
func (s *Service) ChangePassword(ctx context.Context, actor model.Actor, current, next string) error {
	u, err := s.CurrentUser(ctx, actor)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(current)) != nil {
		return newError(ErrUnauthorized, "current password is incorrect")
	}
	if !validation.IsValidPassword(next) {
		return newError(ErrInvalidInput, "%s", validation.ErrInvalidPassword.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, u.ID, hash)
}

// PurgeExpiredTokens удаляет истёкшие refresh-токены.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredRefreshTokens(ctx)
}

func (s *Service) issueTokens(ctx context.Context, u *model.User) (*model.TokenPair, error) {
	access, err := s.tokens.IssueAccess(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.tokens.IssueRefresh(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveRefreshToken(ctx, u.ID, token.Hash(refresh), exp, s.opts.MaxRefreshTokens); err != nil {
		return nil, err
	}
	return &model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) bcryptCost() int {
	if s.opts.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.opts.BcryptCost
}
