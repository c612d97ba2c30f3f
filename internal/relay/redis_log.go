package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const compactRetries = 3

// RedisLog stores the update log of each room in a Redis list and fans
// frames out to every relay instance over a per-room pub/sub channel.
type RedisLog struct {
	client *redis.Client
	prefix string
}

// NewRedisLog connects to Redis and verifies the connection.
func NewRedisLog(redisURL string) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLogWithClient(client), nil
}

// NewRedisLogWithClient creates a log from an existing Redis client.
func NewRedisLogWithClient(client *redis.Client) *RedisLog {
	return &RedisLog{
		client: client,
		prefix: "room:",
	}
}

func (l *RedisLog) key(room string) string {
	return l.prefix + room + ":updates"
}

func (l *RedisLog) channel(room string) string {
	return l.prefix + room
}

// Append adds an encoded update to the room log and returns the new length.
func (l *RedisLog) Append(ctx context.Context, room string, update []byte) (int64, error) {
	n, err := l.client.RPush(ctx, l.key(room), update).Result()
	if err != nil {
		return 0, fmt.Errorf("append update: %w", err)
	}
	return n, nil
}

// Range returns the whole room log, oldest first.
func (l *RedisLog) Range(ctx context.Context, room string) ([][]byte, error) {
	values, err := l.client.LRange(ctx, l.key(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read updates: %w", err)
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (l *RedisLog) Len(ctx context.Context, room string) (int64, error) {
	n, err := l.client.LLen(ctx, l.key(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// Compact replaces the room log with the single update returned by merge.
// The swap is optimistic: if another writer appends meanwhile, it is
// retried. An empty log is left alone and yields nil.
func (l *RedisLog) Compact(ctx context.Context, room string, merge func([][]byte) ([]byte, error)) ([]byte, error) {
	key := l.key(room)
	var merged []byte
	txf := func(tx *redis.Tx) error {
		values, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		merged = nil
		if len(values) == 0 {
			return nil
		}
		updates := make([][]byte, 0, len(values))
		for _, v := range values {
			updates = append(updates, []byte(v))
		}
		merged, err = merge(updates)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, merged)
			return nil
		})
		return err
	}

	for i := 0; i < compactRetries; i++ {
		err := l.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("compact updates: %w", err)
		}
		return merged, nil
	}
	return nil, fmt.Errorf("compact updates: %w", redis.TxFailedErr)
}

// Publish sends payload to every relay instance subscribed to room.
func (l *RedisLog) Publish(ctx context.Context, room string, payload []byte) error {
	if err := l.client.Publish(ctx, l.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to the room channel and waits for the subscription to
// be confirmed, so that no later publish is missed.
func (l *RedisLog) Subscribe(ctx context.Context, room string) (*redis.PubSub, error) {
	sub := l.client.Subscribe(ctx, l.channel(room))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Close closes the Redis connection
func (l *RedisLog) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
