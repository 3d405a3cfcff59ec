package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/pkg/log"
)

// Sentinel errors. ErrUnavailable marks every failure of the backing store;
// callers fail the whole request on it and must not enqueue jobs.
var (
	ErrNotFound    = errors.New("cache: record not found")
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Store exposes record, index, counter and list operations over the shared
// Redis backend. One Store is constructed at process start and passed into
// every feature service.
type Store struct {
	rdb    *redis.Client
	logger log.Logger
}

// New creates a Store around an existing client. The client is owned by the
// runtime and closed there.
func New(rdb *redis.Client, logger log.Logger) *Store {
	return &Store{rdb: rdb, logger: logger.WithComponent("cache")}
}

// Ping verifies backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return s.failed("ping", "", err)
	}
	return nil
}

// failed wraps a backend error with ErrUnavailable while keeping the cause
// reachable through errors.Is/As.
func (s *Store) failed(op, key string, err error) error {
	s.logger.Error("operation failed", log.Str("op", op), log.Str("key", key), log.Err(err))
	return fmt.Errorf("%s %q: %w (%w)", op, key, ErrUnavailable, err)
}

// WriteFields upserts all given fields into the record as one atomic batch;
// readers observe either none or all of them.
func (s *Store) WriteFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, flatten(fields)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.failed("writeFields", key, err)
	}
	return nil
}

// WriteRecordIndexed writes the record fields and its index membership in
// the same MULTI/EXEC, so an id appears in the index iff its record exists.
func (s *Store) WriteRecordIndexed(ctx context.Context, key string, fields map[string]string, index string, score int64, member string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(score), Member: member})
	pipe.HSet(ctx, key, flatten(fields)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.failed("writeRecordIndexed", key, err)
	}
	return nil
}

// ReadAll returns the full field map for key, or ErrNotFound when no record
// exists.
func (s *Store) ReadAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.failed("readAll", key, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("readAll %q: %w", key, ErrNotFound)
	}
	return m, nil
}

// ReadField returns a single field value, or ErrNotFound when the field is
// absent.
func (s *Store) ReadField(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("readField %q.%s: %w", key, field, ErrNotFound)
	}
	if err != nil {
		return "", s.failed("readField", key, err)
	}
	return v, nil
}

// ReadInt returns a counter field as int64. Missing fields read as zero.
func (s *Store) ReadInt(ctx context.Context, key, field string) (int64, error) {
	v, err := s.ReadField(ctx, key, field)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.ParseInt(v, 10, 64)
	if convErr != nil {
		return 0, fmt.Errorf("readInt %q.%s: %v", key, field, convErr)
	}
	return n, nil
}

// Increment atomically adjusts a counter field and returns the new value.
// This is the only path that mutates counters.
func (s *Store) Increment(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, s.failed("increment", key, err)
	}
	return n, nil
}

// IndexAdd inserts member into a sorted index at the given score.
func (s *Store) IndexAdd(ctx context.Context, index string, score int64, member string) error {
	if err := s.rdb.ZAdd(ctx, index, redis.Z{Score: float64(score), Member: member}).Err(); err != nil {
		return s.failed("indexAdd", index, err)
	}
	return nil
}

// IndexRemove removes member from a sorted index.
func (s *Store) IndexRemove(ctx context.Context, index, member string) error {
	if err := s.rdb.ZRem(ctx, index, member).Err(); err != nil {
		return s.failed("indexRemove", index, err)
	}
	return nil
}

// IndexRange returns members by rank. With reverse set, the newest (highest
// score) come first, which is the feed ordering.
func (s *Store) IndexRange(ctx context.Context, index string, start, stop int64, reverse bool) ([]string, error) {
	var cmd *redis.StringSliceCmd
	if reverse {
		cmd = s.rdb.ZRevRange(ctx, index, start, stop)
	} else {
		cmd = s.rdb.ZRange(ctx, index, start, stop)
	}
	members, err := cmd.Result()
	if err != nil {
		return nil, s.failed("indexRange", index, err)
	}
	return members, nil
}

// IndexScoreRange returns members whose score lies in [min, max]. Used for
// per-user partitions where the uid is the score.
func (s *Store) IndexScoreRange(ctx context.Context, index string, min, max int64) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, s.failed("indexScoreRange", index, err)
	}
	return members, nil
}

// IndexCard returns the member count of a sorted index.
func (s *Store) IndexCard(ctx context.Context, index string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, index).Result()
	if err != nil {
		return 0, s.failed("indexCard", index, err)
	}
	return n, nil
}

// ListPush prepends a value to a list key.
func (s *Store) ListPush(ctx context.Context, key, value string) error {
	if err := s.rdb.LPush(ctx, key, value).Err(); err != nil {
		return s.failed("listPush", key, err)
	}
	return nil
}

// ListAppend appends a value to a list key.
func (s *Store) ListAppend(ctx context.Context, key, value string) error {
	if err := s.rdb.RPush(ctx, key, value).Err(); err != nil {
		return s.failed("listAppend", key, err)
	}
	return nil
}

// ListRange returns list values in [start, stop]; 0,-1 is the whole list.
func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.failed("listRange", key, err)
	}
	return vals, nil
}

// ListRemove removes the first occurrence of value from the list.
func (s *Store) ListRemove(ctx context.Context, key, value string) error {
	if err := s.rdb.LRem(ctx, key, 1, value).Err(); err != nil {
		return s.failed("listRemove", key, err)
	}
	return nil
}

// ListSet overwrites the element at idx.
func (s *Store) ListSet(ctx context.Context, key string, idx int64, value string) error {
	if err := s.rdb.LSet(ctx, key, idx, value).Err(); err != nil {
		return s.failed("listSet", key, err)
	}
	return nil
}

// DeleteRecordAndIndices removes the record, all of its index memberships
// and any dependent keys in one logical operation.
func (s *Store) DeleteRecordAndIndices(ctx context.Context, key string, memberships []IndexMembership, extraKeys ...string) error {
	pipe := s.rdb.TxPipeline()
	for _, m := range memberships {
		pipe.ZRem(ctx, m.Index, m.Member)
	}
	pipe.Del(ctx, key)
	if len(extraKeys) > 0 {
		pipe.Del(ctx, extraKeys...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return s.failed("deleteRecordAndIndices", key, err)
	}
	return nil
}

func flatten(fields map[string]string) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
