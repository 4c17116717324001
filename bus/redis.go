package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/minhvt/candlecast/model/candle"
)

const (
	// recentCacheSize bounds the per-pair recent-candle list.
	recentCacheSize = 500

	logKeyPrefix    = "candlelog:"
	recentKeyPrefix = "candles:"
)

// Redis backs both sinks with one connection: the broadcast bus is
// redis pub/sub on the topic key, the durable log is a redis stream per
// (symbol, interval), and every appended candle is also pushed to a
// bounded recent-candle list served over the HTTP API.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *Redis) Append(ctx context.Context, symbol string, iv candle.Interval, payload []byte) error {
	logKey := logKeyPrefix + symbol + ":" + string(iv)
	recentKey := recentKeyPrefix + symbol + ":" + string(iv)

	pipe := r.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: logKey,
		Values: map[string]interface{}{"candle": payload},
	})
	pipe.LPush(ctx, recentKey, payload)
	pipe.LTrim(ctx, recentKey, 0, recentCacheSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append %s %s: %w", symbol, iv, err)
	}
	return nil
}

// Recent returns up to limit most recently appended candles for a pair,
// newest first, as raw wire payloads.
func (r *Redis) Recent(ctx context.Context, symbol, interval string, limit int) ([][]byte, error) {
	if limit <= 0 || limit > recentCacheSize {
		limit = recentCacheSize
	}
	key := recentKeyPrefix + symbol + ":" + interval
	vals, err := r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Listen subscribes to every candle topic via a pattern subscription
// and pumps deliveries into the returned channel until ctx is done.
func (r *Redis) Listen(ctx context.Context, pattern string) (<-chan Message, error) {
	sub := r.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	out := make(chan Message, 128)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					log.Warn("redis bus: listener buffer full, dropping message")
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
