package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/config"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

const tokenField = "token"

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient connects and pings the server.
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{
		Client: client,
	}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// TokenStore reads the bearer token the login flow left in a session hash.
type TokenStore struct {
	rdb redis.Cmdable
	key string
}

func NewTokenStore(rdb redis.Cmdable, key string) *TokenStore {
	return &TokenStore{rdb: rdb, key: key}
}

func (s *TokenStore) Token(ctx context.Context) (string, error) {
	token, err := s.rdb.HGet(ctx, s.key, tokenField).Result()
	if errors.Is(err, redis.Nil) {
		return "", services.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from %s: %w", s.key, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", services.ErrNoToken
	}
	return token, nil
}
