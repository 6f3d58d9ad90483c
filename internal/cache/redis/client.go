package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

const connectTimeout = 5 * time.Second

// keyPrefix namespaces our entries so the store can share a redis DB with
// other services.
const keyPrefix = "collectibus:"

type Client struct {
	rdb *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  connectTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("Redis cache connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get loads and decodes the entry for key into v. A missing key is not an
// error. An entry that fails to decode is deleted so it cannot poison
// later reads.
func (c *Client) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		c.rdb.Del(ctx, keyPrefix+key)
		return false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return true, nil
}

func (c *Client) Put(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
