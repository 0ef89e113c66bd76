package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pompaku/backend/internal/domain"
)

type RedisReportCache struct {
	client redis.UniversalClient
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisReportCache(client redis.UniversalClient) *RedisReportCache {
	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) GetMonthly(ctx context.Context, year int, month int) (*domain.MonthlySalesReport, bool, error) {
	val, err := c.client.Get(ctx, MonthlyKey(year, month)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.MonthlySalesReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

// MonthlyGeneration is the sum of the month counter and the global counter.
// Both only grow, so any invalidation changes the sum.
func (c *RedisReportCache) MonthlyGeneration(ctx context.Context, year int, month int) (int64, error) {
	return readGeneration(ctx, c.client, year, month)
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readGeneration(ctx context.Context, cmd multiGetter, year int, month int) (int64, error) {
	vals, err := cmd.MGet(ctx, monthGenerationKey(year, month), allGenerationKey).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SetMonthly stores report only while the generation still equals
// generation. It reports whether the report was written.
func (c *RedisReportCache) SetMonthly(ctx context.Context, report *domain.MonthlySalesReport, generation int64, ttl time.Duration) (bool, error) {
	if report == nil {
		return false, nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return false, err
	}

	stored := false
	genKey := monthGenerationKey(report.Year, report.Month)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, report.Year, report.Month)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, MonthlyKey(report.Year, report.Month), payload, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey, allGenerationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (c *RedisReportCache) InvalidateMonth(ctx context.Context, year int, month int) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, monthGenerationKey(year, month))
		pipe.Del(ctx, MonthlyKey(year, month))
		return nil
	})
	return err
}

func (c *RedisReportCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, allGenerationKey).Err(); err != nil {
		return err
	}
	iter := c.client.Scan(ctx, 0, monthlyKeyPrefix+"*", 100).Iterator()
	keys := make([]string, 0, 16)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
