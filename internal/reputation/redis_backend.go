package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/botdetect/internal/core"
)

// RedisBackend persists PatternReputation records in Redis so multiple
// engine instances share one reputation table. Uses a key-prefix +
// JSON-marshal layout against the real github.com/redis/go-redis/v9
// client.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	indexKey  string // set of all known pattern ids, for Scan
}

// NewRedisBackend creates a Redis-backed reputation Backend.
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "botdetect:reputation:"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix, indexKey: keyPrefix + "index"}
}

type repJSON struct {
	PatternID string  `json:"pattern_id"`
	BotScore  float64 `json:"bot_score"`
	Support   float64 `json:"support"`
	State     int     `json:"state"`
	LastSeen  int64   `json:"last_seen"`
}

func toJSON(rep core.PatternReputation) repJSON {
	return repJSON{
		PatternID: rep.PatternID,
		BotScore:  rep.BotScore,
		Support:   rep.Support,
		State:     int(rep.State),
		LastSeen:  rep.LastSeen.Unix(),
	}
}

func fromJSON(j repJSON) core.PatternReputation {
	return core.PatternReputation{
		PatternID: j.PatternID,
		BotScore:  j.BotScore,
		Support:   j.Support,
		State:     core.ReputationState(j.State),
		LastSeen:  time.Unix(j.LastSeen, 0),
	}
}

func (r *RedisBackend) key(patternID string) string {
	return r.keyPrefix + "p:" + patternID
}

func (r *RedisBackend) Load(ctx context.Context, patternID string) (core.PatternReputation, bool, error) {
	data, err := r.client.Get(ctx, r.key(patternID)).Bytes()
	if err == redis.Nil {
		return core.PatternReputation{}, false, nil
	}
	if err != nil {
		return core.PatternReputation{}, false, fmt.Errorf("redis get: %w", err)
	}
	var j repJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.PatternReputation{}, false, fmt.Errorf("unmarshal reputation: %w", err)
	}
	return fromJSON(j), true, nil
}

func (r *RedisBackend) Save(ctx context.Context, rep core.PatternReputation) error {
	data, err := json.Marshal(toJSON(rep))
	if err != nil {
		return fmt.Errorf("marshal reputation: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rep.PatternID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return r.client.SAdd(ctx, r.indexKey, rep.PatternID).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, patternID string) error {
	if err := r.client.Del(ctx, r.key(patternID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return r.client.SRem(ctx, r.indexKey, patternID).Err()
}

func (r *RedisBackend) Scan(ctx context.Context, fn func(core.PatternReputation) bool) error {
	ids, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	for _, id := range ids {
		rep, ok, err := r.Load(ctx, id)
		if err != nil || !ok {
			continue
		}
		if !fn(rep) {
			return nil
		}
	}
	return nil
}
