package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// AcquireDeliveryLock takes a short-lived lock keyed by queue message id so a
// duplicate delivery of the same message is dropped at the relay instead of
// producing a second webhook call. Returns false if another delivery holds it.
func (s *Store) AcquireDeliveryLock(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, "discovery:delivery:"+messageID, 1, ttl).Result()
}

func (s *Store) ReleaseDeliveryLock(ctx context.Context, messageID string) error {
	return s.rdb.Del(ctx, "discovery:delivery:"+messageID).Err()
}

// BumpDeadLetterAlert increments the dead-letter counter for a job. The
// counter feeds alerting; it expires after a day so stale jobs age out.
func (s *Store) BumpDeadLetterAlert(ctx context.Context, jobID string) (int64, error) {
	key := "discovery:dlq:" + jobID
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = s.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}
