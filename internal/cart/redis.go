// Package cart хранит корзины навынос в Redis.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// DefaultTTL задаёт, сколько корзина хранится с момента последнего изменения.
const DefaultTTL = 7 * 24 * time.Hour

// NewRedisClient подключается к Redis по адресу host:port. Если адрес пуст
// или сервер не отвечает, возвращает nil: корзина и ограничение частоты
// запросов тогда отключаются.
func NewRedisClient(addr string) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// Store хранит корзину пользователя в хеше cart:{userID}: в поле хранится идентификатор
// позиции меню, в значении количество.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore создаёт хранилище корзин.
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(userID int64) string {
	return "cart:" + strconv.FormatInt(userID, 10)
}

// Items возвращает позиции корзины по возрастанию идентификатора.
func (s *Store) Items(ctx context.Context, userID int64) ([]model.CartItem, error) {
	raw, err := s.rdb.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	return decode(raw)
}

// SetItem задаёт количество позиции и продлевает срок жизни корзины.
func (s *Store) SetItem(ctx context.Context, userID, menuItemID int64, quantity int) error {
	k := key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, strconv.FormatInt(menuItemID, 10), quantity)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write cart: %w", err)
	}
	return nil
}

// RemoveItem удаляет позицию из корзины.
func (s *Store) RemoveItem(ctx context.Context, userID, menuItemID int64) error {
	if err := s.rdb.HDel(ctx, key(userID), strconv.FormatInt(menuItemID, 10)).Err(); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

// Clear удаляет корзину целиком.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, key(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func decode(raw map[string]string) ([]model.CartItem, error) {
	items := make([]model.CartItem, 0, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cart field %q: %w", field, err)
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse cart quantity %q: %w", value, err)
		}
		if qty <= 0 {
			continue
		}
		items = append(items, model.CartItem{MenuItemID: id, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].MenuItemID < items[j].MenuItemID })
	return items, nil
}
