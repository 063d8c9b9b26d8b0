package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/models"
)

// RedisClient is a two-tier cache in front of the store: a small local
// hot map for values read repeatedly within one run, Redis as the warm
// tier shared across runs. Every method degrades to a miss on Redis
// errors; the sync engine never depends on the cache being up.
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig

	mu  sync.RWMutex
	hot map[string]hotEntry
}

type hotEntry struct {
	value   string
	expires time.Time
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
		hot:    make(map[string]hotEntry),
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisClient) hotGet(key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.hot[key]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.value, true
}

func (rc *RedisClient) hotSet(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hot[key] = hotEntry{value: value, expires: time.Now().Add(rc.cfg.HotTTL)}
}

func (rc *RedisClient) hotDelete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.hot, key)
}

// get reads through both tiers, promoting warm hits into the hot map.
func (rc *RedisClient) get(ctx context.Context, key string) (string, bool) {
	if v, ok := rc.hotGet(key); ok {
		return v, true
	}

	v, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		rc.logger.WithError(err).WithField("key", key).Debug("Cache read failed")
		return "", false
	}

	rc.hotSet(key, v)
	return v, true
}

// set writes both tiers. Redis failures are logged and swallowed.
func (rc *RedisClient) set(ctx context.Context, key, value string) {
	rc.hotSet(key, value)
	if err := rc.client.Set(ctx, key, value, rc.cfg.WarmTTL).Err(); err != nil {
		rc.logger.WithError(err).WithField("key", key).Debug("Cache write failed")
	}
}

// Last-data-date cache, consulted before hitting the store during window
// calculation.

func lastDateKey(symbol, frequency string) string {
	return fmt.Sprintf("sync:lastdate:%s:%s", symbol, frequency)
}

// GetLastDataDate returns the cached newest bar date for a series.
func (rc *RedisClient) GetLastDataDate(ctx context.Context, symbol, frequency string) (time.Time, bool) {
	v, ok := rc.get(ctx, lastDateKey(symbol, frequency))
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateFormat, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastDataDate caches the newest bar date for a series.
func (rc *RedisClient) SetLastDataDate(ctx context.Context, symbol, frequency string, date time.Time) {
	rc.set(ctx, lastDateKey(symbol, frequency), date.Format(models.DateFormat))
}

// InvalidateLastDataDate drops the cached date after repairs rewrite
// history.
func (rc *RedisClient) InvalidateLastDataDate(ctx context.Context, symbol, frequency string) {
	key := lastDateKey(symbol, frequency)
	rc.hotDelete(key)
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		rc.logger.WithError(err).WithField("key", key).Debug("Cache delete failed")
	}
}

// Trading calendar cache.

func calendarKey(market string, start, end time.Time) string {
	return fmt.Sprintf("sync:calendar:%s:%s:%s",
		market, start.Format(models.DateFormat), end.Format(models.DateFormat))
}

// GetTradingDays returns cached trading days for a market range.
func (rc *RedisClient) GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, bool) {
	v, ok := rc.get(ctx, calendarKey(market, start, end))
	if !ok {
		return nil, false
	}

	var dates []string
	if err := json.Unmarshal([]byte(v), &dates); err != nil {
		return nil, false
	}

	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse(models.DateFormat, d)
		if err != nil {
			return nil, false
		}
		days = append(days, t)
	}
	return days, true
}

// SetTradingDays caches trading days for a market range.
func (rc *RedisClient) SetTradingDays(ctx context.Context, market string, start, end time.Time, days []time.Time) {
	dates := make([]string, len(days))
	for i, d := range days {
		dates[i] = d.Format(models.DateFormat)
	}
	data, err := json.Marshal(dates)
	if err != nil {
		return
	}
	rc.set(ctx, calendarKey(market, start, end), string(data))
}

// Universe refresh marker, used to skip the stock list fetch when the
// list was refreshed recently.

const universeRefreshKey = "sync:universe:refreshed_at"

// GetUniverseRefreshedAt returns when the stock list was last refreshed.
func (rc *RedisClient) GetUniverseRefreshedAt(ctx context.Context) (time.Time, bool) {
	v, ok := rc.get(ctx, universeRefreshKey)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetUniverseRefreshedAt marks the stock list as refreshed now.
func (rc *RedisClient) SetUniverseRefreshedAt(ctx context.Context, t time.Time) {
	rc.set(ctx, universeRefreshKey, t.Format(time.RFC3339))
}
