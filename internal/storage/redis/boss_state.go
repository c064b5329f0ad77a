// Package redis persists boss states in Redis hashes, one hash per
// instance keyed "<prefix>:instance:<id>:bosses".
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cory-johannsen/encounter/internal/config"
	"github.com/cory-johannsen/encounter/internal/game/instance"
)

// ErrNotFound is returned when a boss has no stored state.
var ErrNotFound = errors.New("redis: boss state not found")

// NewClient connects to Redis and verifies the connection.
//
// Postcondition: Returns a pinged client or a non-nil error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// BossStateStore implements instance.Persister over Redis hashes.
type BossStateStore struct {
	client goredis.Cmdable
	prefix string
}

var _ instance.Persister = (*BossStateStore)(nil)

// NewBossStateStore returns a store writing keys under prefix.
//
// Precondition: client must not be nil.
// Postcondition: an empty prefix defaults to "encounter".
func NewBossStateStore(client goredis.Cmdable, prefix string) *BossStateStore {
	if client == nil {
		panic("redis.NewBossStateStore: client must not be nil")
	}
	if prefix == "" {
		prefix = "encounter"
	}
	return &BossStateStore{client: client, prefix: prefix}
}

// Key returns the hash key of instanceID.
func (s *BossStateStore) Key(instanceID string) string {
	return fmt.Sprintf("%s:instance:%s:bosses", s.prefix, instanceID)
}

// LoadBossStates implements instance.Persister.
//
// Postcondition: Returns a non-nil map, empty for an unknown instance.
func (s *BossStateStore) LoadBossStates(ctx context.Context, instanceID string) (map[string]instance.BossState, error) {
	raw, err := s.client.HGetAll(ctx, s.Key(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading boss states of %q: %w", instanceID, err)
	}
	out := make(map[string]instance.BossState, len(raw))
	for boss, name := range raw {
		state, err := instance.ParseBossState(name)
		if err != nil {
			return nil, fmt.Errorf("boss %q of %q: %w", boss, instanceID, err)
		}
		out[boss] = state
	}
	return out, nil
}

// SaveBossState implements instance.Persister.
func (s *BossStateStore) SaveBossState(ctx context.Context, instanceID, boss string, state instance.BossState) error {
	if err := s.client.HSet(ctx, s.Key(instanceID), boss, state.String()).Err(); err != nil {
		return fmt.Errorf("saving boss %q of %q: %w", boss, instanceID, err)
	}
	return nil
}

// BossState returns one stored state.
//
// Postcondition: Returns ErrNotFound when boss has no entry.
func (s *BossStateStore) BossState(ctx context.Context, instanceID, boss string) (instance.BossState, error) {
	name, err := s.client.HGet(ctx, s.Key(instanceID), boss).Result()
	if errors.Is(err, goredis.Nil) {
		return instance.NotStarted, ErrNotFound
	}
	if err != nil {
		return instance.NotStarted, fmt.Errorf("loading boss %q of %q: %w", boss, instanceID, err)
	}
	return instance.ParseBossState(name)
}

// DeleteInstance removes every stored state of instanceID.
func (s *BossStateStore) DeleteInstance(ctx context.Context, instanceID string) error {
	if err := s.client.Del(ctx, s.Key(instanceID)).Err(); err != nil {
		return fmt.Errorf("deleting boss states of %q: %w", instanceID, err)
	}
	return nil
}

// Health reports whether the server answers a ping before ctx expires.
func (s *BossStateStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
