package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the hash holding user name to bcrypt hash entries.
const DefaultRedisKey = "roomchat:users"

// RedisAuthenticator checks logins against a Redis hash.
type RedisAuthenticator struct {
	client *redis.Client
	key    string
	hasher *PasswordHasher
	log    zerolog.Logger
}

// NewRedisAuthenticator connects to redisURL and verifies the connection.
func NewRedisAuthenticator(ctx context.Context, redisURL, key string, hasher *PasswordHasher, logger zerolog.Logger) (*RedisAuthenticator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if key == "" {
		key = DefaultRedisKey
	}
	if hasher == nil {
		hasher = NewPasswordHasher(DefaultBcryptCost)
	}
	return &RedisAuthenticator{
		client: client,
		key:    key,
		hasher: hasher,
		log:    logger.With().Str("component", "redis_auth").Logger(),
	}, nil
}

// Close closes the Redis connection.
func (a *RedisAuthenticator) Close() error {
	return a.client.Close()
}

// Register stores a hashed password for userName.
func (a *RedisAuthenticator) Register(ctx context.Context, userName, password string) error {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", userName, err)
	}
	return a.client.HSet(ctx, a.key, userName, hash).Err()
}

// Remove deletes userName.
func (a *RedisAuthenticator) Remove(ctx context.Context, userName string) error {
	return a.client.HDel(ctx, a.key, userName).Err()
}

// Allowed reports whether password matches the hash stored for userName.
// Lookup failures are logged and refuse the login.
func (a *RedisAuthenticator) Allowed(ctx context.Context, userName, password string) bool {
	hash, err := a.client.HGet(ctx, a.key, userName).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		a.log.Error().Err(err).Str("user", userName).Msg("user lookup failed")
		return false
	}
	return a.hasher.Verify(password, hash)
}
