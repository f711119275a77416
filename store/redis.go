// Package store persists what outlives a consultation: the user's language
// preference and an archive of finished consultations.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ConnectRedis connects to Redis, returning nil when the server cannot be
// reached so callers fall back to in-memory state.
func ConnectRedis(ctx context.Context, addr, password string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, continuing without it")
		_ = client.Close()
		return nil
	}
	log.Info().Str("addr", addr).Msg("connected to redis")
	return client
}
