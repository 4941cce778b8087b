package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maaaruch/tg-nomination-bot/internal/domain"
)

const (
	activeNominationsKey = "cache:nominations:active"
	activeNominationsTTL = 30 * time.Second
)

// Cache — необязательный redis-кэш списка активных номинаций для бота.
// Голоса его не трогают (счётчики в списке не показываются), а любая
// мутация из админки его сбрасывает.
//
// Nil-безопасен: без клиента каждый вызов — прозрачный промах.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// GetActiveNominations возвращает (nil, false) при промахе или любой ошибке
// redis: кэш не должен ломать путь чтения.
func (c *Cache) GetActiveNominations(ctx context.Context) ([]domain.Nomination, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, activeNominationsKey).Bytes()
	if err != nil {
		return nil, false
	}

	var noms []domain.Nomination
	if err := json.Unmarshal(data, &noms); err != nil {
		return nil, false
	}
	return noms, true
}

func (c *Cache) SetActiveNominations(ctx context.Context, noms []domain.Nomination) {
	if c == nil || c.rdb == nil {
		return
	}

	data, err := json.Marshal(noms)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, activeNominationsKey, data, activeNominationsTTL).Err()
}

func (c *Cache) InvalidateNominations(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, activeNominationsKey).Err()
}

// Connect открывает клиент и проверяет соединение. Пустой addr означает
// «кэш выключен» — возвращается nil-клиент без ошибки.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
