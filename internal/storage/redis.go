package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"safe-by-design/server/internal/config"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
)

const (
	defaultEventLogSize = 200
	defaultRecentLimit  = 50
	maxRecentLimit      = 1000
	defaultKeyTTL       = 24 * time.Hour
)

func resolvedKey(gameID string, cycle int) string {
	return fmt.Sprintf("resolved:%s:%d", gameID, cycle)
}

func eventsKey(gameID string) string {
	return "events:" + gameID
}

func clampLimit(limit int64) int64 {
	if limit <= 0 || limit > maxRecentLimit {
		return defaultRecentLimit
	}
	return limit
}

func toLogged(e interfaces.OutboundEvent) (interfaces.LoggedEvent, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return interfaces.LoggedEvent{}, fmt.Errorf("failed to marshal %s payload: %w", e.Name, err)
	}
	return interfaces.LoggedEvent{
		GameID:   e.GameID,
		Name:     e.Name,
		Audience: e.Audience,
		Payload:  payload,
		At:       e.At,
	}, nil
}

// RedisStore backs the resolution guard and the recent event log so both
// survive a restart.
type RedisStore struct {
	client  *redis.Client
	logSize int64
	ttl     time.Duration
	log     *logger.Logger
}

var (
	_ interfaces.ResolutionGuard = (*RedisStore)(nil)
	_ interfaces.EventLog        = (*RedisStore)(nil)
)

func NewRedisStore(cfg config.RedisConfig, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.EventLogSize, cfg.KeyTTL, log), nil
}

func NewRedisStoreFromClient(client *redis.Client, logSize int, ttl time.Duration, log *logger.Logger) *RedisStore {
	if logSize <= 0 {
		logSize = defaultEventLogSize
	}
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisStore{client: client, logSize: int64(logSize), ttl: ttl, log: log.With("component", "redis")}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetClient() *redis.Client {
	return s.client
}

// Acquire claims the (game, cycle) with SETNX.
func (s *RedisStore) Acquire(ctx context.Context, gameID string, cycle int) (bool, error) {
	ok, err := s.client.SetNX(ctx, resolvedKey(gameID, cycle), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim resolution: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, gameID string, cycle int) error {
	if err := s.client.Del(ctx, resolvedKey(gameID, cycle)).Err(); err != nil {
		return fmt.Errorf("failed to release resolution: %w", err)
	}
	return nil
}

// Append pushes the event to the front of the game's list and trims it.
func (s *RedisStore) Append(ctx context.Context, event interfaces.OutboundEvent) error {
	logged, err := toLogged(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(logged)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventsKey(event.GameID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, s.logSize-1).Err(); err != nil {
		return fmt.Errorf("failed to trim event list: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.log.Warn("failed to set event list ttl", "game_id", event.GameID, "error", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, gameID string, limit int64) ([]interfaces.LoggedEvent, error) {
	limit = clampLimit(limit)

	raw, err := s.client.LRange(ctx, eventsKey(gameID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]interfaces.LoggedEvent, 0, len(raw))
	for _, r := range raw {
		var e interfaces.LoggedEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *RedisStore) EventCount(ctx context.Context, gameID string) (int64, error) {
	return s.client.LLen(ctx, eventsKey(gameID)).Result()
}
