package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"prompt2web_server/internal/tracer"
	"prompt2web_server/internal/types"
)

const (
	recordKeyPrefix  = "project:"
	accountKeyFormat = "account:%s:projects"
)

// Redis stores each record as JSON under project:<id> and indexes it in a
// per-account sorted set scored by creation time.
type Redis struct {
	rdb *redis.Client
}

var _ Store = (*Redis)(nil)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Client exposes the connection so other components can share it.
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

func accountKey(accountID string) string {
	return fmt.Sprintf(accountKeyFormat, accountID)
}

func (r *Redis) Create(ctx context.Context, rec types.ProjectRecord) error {
	ctx, span := tracer.StartStore(ctx, "Create", "redis", rec.ID)
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		tracer.Fail(span, err)
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.SetNX(ctx, recordKeyPrefix+rec.ID, data, 0)
	pipe.ZAdd(ctx, accountKey(rec.AccountID), redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		tracer.Fail(span, err)
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, accountID string) ([]types.ProjectRecord, error) {
	ctx, span := tracer.StartStore(ctx, "List", "redis", "")
	defer span.End()

	ids, err := r.rdb.ZRevRange(ctx, accountKey(accountID), 0, -1).Result()
	if err != nil {
		tracer.Fail(span, err)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyPrefix + id
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		tracer.Fail(span, err)
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	out := make([]types.ProjectRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec types.ProjectRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) Get(ctx context.Context, accountID, id string) (types.ProjectRecord, error) {
	ctx, span := tracer.StartStore(ctx, "Get", "redis", id)
	defer span.End()

	data, err := r.rdb.Get(ctx, recordKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ProjectRecord{}, ErrNotFound
	}
	if err != nil {
		tracer.Fail(span, err)
		return types.ProjectRecord{}, fmt.Errorf("failed to load record: %w", err)
	}

	var rec types.ProjectRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.ProjectRecord{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec.AccountID != accountID {
		return types.ProjectRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
