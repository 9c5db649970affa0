package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridepulse/internal/models"
)

const updateRetries = 16

// RedisStore persists one JSON-encoded lobby per key, so lobbies survive a
// relay restart and multiple relay processes can share the same session state.
// Update uses WATCH/MULTI optimistic concurrency, which gives the same
// per-code atomicity the memory store gets from its mutex.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // 0 means no expiry
}

func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, ttl: ttl}
}

func lobbyKey(code string) string { return "lobby:" + code }

func (r *RedisStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := r.client.Exists(ctx, lobbyKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Get(ctx context.Context, code string) (*models.Lobby, error) {
	raw, err := r.client.Get(ctx, lobbyKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var lobby models.Lobby
	if err := json.Unmarshal(raw, &lobby); err != nil {
		return nil, fmt.Errorf("decode lobby %s: %w", code, err)
	}
	return &lobby, nil
}

func (r *RedisStore) Put(ctx context.Context, lobby *models.Lobby) error {
	raw, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, lobbyKey(lobby.Code), raw, r.ttl).Err()
}

func (r *RedisStore) Remove(ctx context.Context, code string) error {
	return r.client.Del(ctx, lobbyKey(code)).Err()
}

func (r *RedisStore) Update(ctx context.Context, code string, fn func(*models.Lobby) error) (*models.Lobby, error) {
	key := lobbyKey(code)
	var updated *models.Lobby
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var lobby models.Lobby
		if err := json.Unmarshal(raw, &lobby); err != nil {
			return fmt.Errorf("decode lobby %s: %w", code, err)
		}
		if err := fn(&lobby); err != nil {
			return err
		}
		next, err := json.Marshal(&lobby)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &lobby
		return nil
	}
	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer won the race, re-read and retry
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update lobby %s: too much contention", code)
}

// Close releases the underlying client connection pool.
func (r *RedisStore) Close() error { return r.client.Close() }
