// Package token выпускает и проверяет JWT-токены доступа и обновления.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// ErrInvalidToken возвращается для неподписанного, просроченного или чужого токена.
var ErrInvalidToken = errors.New("invalid token")

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Claims содержит данные, извлечённые из проверенного токена.
type Claims struct {
	UserID    int64
	Role      model.Role
	ExpiresAt time.Time
}

// Manager подписывает токены секретами доступа и обновления.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewManager создаёт Manager.
func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// IssueAccess выпускает короткоживущий токен доступа с ролью пользователя.
func (m *Manager) IssueAccess(userID int64, role model.Role) (string, error) {
	now := m.now().UTC()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"role": string(role),
		"typ":  kindAccess,
		"iat":  now.Unix(),
		"exp":  now.Add(m.accessTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh выпускает токен обновления. Каждый токен уникален за счёт jti.
func (m *Manager) IssueRefresh(userID int64) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.refreshTTL)
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"typ": kindRefresh,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccess проверяет токен доступа.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, kindAccess)
}

// ParseRefresh проверяет токен обновления.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, kindRefresh)
}

func (m *Manager) parse(raw string, secret []byte, kind string) (*Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if typ, _ := mc["typ"].(string); typ != kind {
		return nil, ErrInvalidToken
	}

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, ErrInvalidToken
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}

	c := &Claims{UserID: id}
	if role, ok := mc["role"].(string); ok {
		c.Role = model.Role(role)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Hash возвращает SHA-256 токена. В хранилище попадает только хеш.
func Hash(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}
