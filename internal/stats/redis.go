package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// redisCmdable is the part of the redis client the sink uses.
type redisCmdable interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink stores the latest stats in a hash and announces each on a channel.
type RedisSink struct {
	client  redisCmdable
	hash    string
	channel string
}

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	Addr    string
	Hash    string
	Channel string
}

// NewRedisSink connects a sink to the server at opts.Addr. The returned
// close function releases the connection pool.
func NewRedisSink(opts RedisOptions) (*RedisSink, func() error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr})
	return newRedisSink(client, opts.Hash, opts.Channel), client.Close
}

func newRedisSink(client redisCmdable, hash, channel string) *RedisSink {
	return &RedisSink{client: client, hash: hash, channel: channel}
}

// Send implements Sink. An empty channel disables publishing.
func (s *RedisSink) Send(ctx context.Context, key string, value uint64) error {
	v := strconv.FormatUint(value, 10)
	if err := s.client.HSet(ctx, s.hash, key, v).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	if s.channel == "" {
		return nil
	}
	if err := s.client.Publish(ctx, s.channel, key+"="+v).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}
