package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// Ping checks redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// IncrWindow bumps a fixed-window counter. The first hit in a window sets the
// expiry; the returned ttl is what remains of the current window.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	n, err := c.redisdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	if n == 1 {
		if err := c.redisdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return n, window, nil
	}

	ttl, err := c.redisdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	// key survived without an expiry (e.g. PEXPIRE lost to a crash); repair it
	if ttl < 0 {
		if err := c.redisdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}

	return n, ttl, nil
}
