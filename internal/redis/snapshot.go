package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache mirrors the rebuilt leaderboard cache in Redis. Each window
// is a sorted set of user IDs scored by 1-based position; entry payloads
// live in one hash shared by all windows. Publish swaps everything in a
// single MULTI/EXEC so readers never see a half-written snapshot.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewSnapshotCache connects to Redis and returns the mirror
func NewSnapshotCache(cfg *config.RedisConfig, logger *slog.Logger) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newSnapshotCache(client, cfg.KeyPrefix, logger), nil
}

func newSnapshotCache(client *redis.Client, prefix string, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Ping checks connectivity
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// positionsKey returns the sorted set key for a window
func (c *SnapshotCache) positionsKey(w domain.Window) string {
	return fmt.Sprintf("%s:leaderboard:%s:positions", c.prefix, w)
}

// entriesKey returns the hash holding entry payloads
func (c *SnapshotCache) entriesKey() string {
	return fmt.Sprintf("%s:leaderboard:entries", c.prefix)
}

// metaKey returns the hash holding rebuild metadata
func (c *SnapshotCache) metaKey() string {
	return fmt.Sprintf("%s:leaderboard:meta", c.prefix)
}

// Publish replaces the mirrored snapshot with entries
func (c *SnapshotCache) Publish(ctx context.Context, entries []domain.LeaderboardCacheEntry, at time.Time) error {
	payloads := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding entry %s: %w", e.UserID, err)
		}
		payloads[e.UserID] = data
	}

	pipe := c.client.TxPipeline()
	keys := []string{c.entriesKey(), c.metaKey()}
	for _, w := range domain.Windows {
		keys = append(keys, c.positionsKey(w))
	}
	pipe.Del(ctx, keys...)

	if len(entries) > 0 {
		for _, w := range domain.Windows {
			ranked := domain.Rank(entries, w)
			members := make([]redis.Z, len(ranked))
			for i, r := range ranked {
				members[i] = redis.Z{Score: float64(r.Position), Member: r.UserID}
			}
			pipe.ZAdd(ctx, c.positionsKey(w), members...)
		}
		pipe.HSet(ctx, c.entriesKey(), payloads)
	}
	pipe.HSet(ctx, c.metaKey(), map[string]interface{}{
		"rebuilt_at": at.UTC().Format(time.RFC3339Nano),
		"count":      len(entries),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing leaderboard snapshot: %w", err)
	}

	c.logger.Debug("published leaderboard snapshot", "entries", len(entries))
	return nil
}

// Top returns the first limit entries of a window
func (c *SnapshotCache) Top(ctx context.Context, w domain.Window, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	ids, err := c.client.ZRange(ctx, c.positionsKey(w), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting %s positions: %w", w, err)
	}
	if len(ids) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	values, err := c.client.HMGet(ctx, c.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ids))
	for i, v := range values {
		e, err := decodeEntry(v)
		if err != nil {
			return nil, fmt.Errorf("decoding entry %s: %w", ids[i], err)
		}
		entries = append(entries, domain.LeaderboardEntry{Position: i + 1, LeaderboardCacheEntry: e})
	}
	return entries, nil
}

// Position returns a user's standing in a window
func (c *SnapshotCache) Position(ctx context.Context, w domain.Window, userID string) (*domain.Standing, error) {
	pipe := c.client.Pipeline()
	posCmd := pipe.ZScore(ctx, c.positionsKey(w), userID)
	cardCmd := pipe.ZCard(ctx, c.positionsKey(w))
	entryCmd := pipe.HGet(ctx, c.entriesKey(), userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting %s position: %w", w, err)
	}

	pos, err := posCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotRanked
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s position: %w", w, err)
	}

	raw, err := entryCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding entry %s: %w", userID, err)
	}

	return &domain.Standing{
		Window:   w,
		UserID:   userID,
		Position: int(pos),
		Score:    e.Score(w),
		Total:    int(cardCmd.Val()),
	}, nil
}

// decodeEntry accepts the string or nil values returned by HGET/HMGET
func decodeEntry(v interface{}) (domain.LeaderboardCacheEntry, error) {
	var e domain.LeaderboardCacheEntry
	s, ok := v.(string)
	if !ok {
		return e, errors.New("missing entry payload")
	}
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return e, err
	}
	return e, nil
}
