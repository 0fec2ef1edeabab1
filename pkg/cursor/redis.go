package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/redis/go-redis/v9"
)

// getScript returns a cursor's fields and restarts its idle window, or
// false if the cursor does not exist.
var getScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
redis.call("HSET", KEYS[1], "lastAccess", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return redis.call("HMGET", KEYS[1], "basePath", "resourceId", "position", "lastAccess")
`)

// advanceScript moves a cursor from ARGV[1] to ARGV[2]. It returns -1 if
// the cursor does not exist, -2 if the move is backwards, -3 if the cursor
// is no longer at ARGV[1], otherwise the new position.
var advanceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local current = tonumber(redis.call("HGET", KEYS[1], "position"))
local from = tonumber(ARGV[1])
local target = tonumber(ARGV[2])
if target < from then
  return -2
end
if current ~= from then
  return -3
end
redis.call("HSET", KEYS[1], "position", target, "lastAccess", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return target
`)

// RouteLookup resolves the route a cursor was created for.
type RouteLookup func(key config.Key) (*config.RouteConfig, bool)

// RedisStore keeps cursors in Redis hashes whose TTL is the idle window.
// Ids come from INCR, so they stay unique across server instances sharing
// the same Redis.
//
// Idle cursors expire inside Redis; no eviction hook fires for them.
type RedisStore struct {
	client *redis.Client
	routes RouteLookup
	opts   options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on client. routes re-attaches the route
// configuration to cursors read back from Redis.
func NewRedisStore(client *redis.Client, routes RouteLookup, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, routes: routes, opts: o}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) seqKey() string {
	return s.opts.keyPrefix + "cursor:seq"
}

func (s *RedisStore) key(id uint64) string {
	return s.opts.keyPrefix + "cursor:" + strconv.FormatUint(id, 10)
}

func (s *RedisStore) ttlMillis() int64 {
	return s.opts.idleTimeout.Milliseconds()
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, route *config.RouteConfig) (uint64, error) {
	if route == nil {
		return 0, fmt.Errorf("creating cursor: nil route")
	}
	n, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("allocating cursor id: %w", err)
	}
	id := uint64(n)

	key := s.key(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"basePath", route.BasePath,
			"resourceId", route.ResourceID,
			"position", 0,
			"lastAccess", s.opts.now().UnixMilli(),
		)
		pipe.PExpire(ctx, key, s.opts.idleTimeout)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storing cursor %d: %w", id, err)
	}
	return id, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id uint64) (State, error) {
	res, err := getScript.Run(ctx, s.client, []string{s.key(id)}, s.opts.now().UnixMilli(), s.ttlMillis()).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return State{}, fmt.Errorf("reading cursor %d: %w", id, err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 4 {
		return State{}, fmt.Errorf("reading cursor %d: unexpected reply %T", id, res)
	}
	basePath, _ := fields[0].(string)
	resourceID, _ := fields[1].(string)
	positionStr, _ := fields[2].(string)
	lastAccessStr, _ := fields[3].(string)

	position, err := strconv.Atoi(positionStr)
	if err != nil {
		return State{}, fmt.Errorf("reading cursor %d: bad position %q", id, positionStr)
	}
	lastAccess, err := strconv.ParseInt(lastAccessStr, 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("reading cursor %d: bad lastAccess %q", id, lastAccessStr)
	}

	route, ok := s.routes(config.Key{BasePath: basePath, ResourceID: resourceID})
	if !ok {
		// The route is gone, most likely after a config reload.
		_ = s.remove(ctx, id, ReasonRouteRemoved)
		return State{}, &NotFoundError{ID: id}
	}

	return State{
		ID:         id,
		Route:      route,
		Position:   position,
		LastAccess: time.UnixMilli(lastAccess),
	}, nil
}

// Advance implements Store.
func (s *RedisStore) Advance(ctx context.Context, id uint64, from, to int) error {
	res, err := advanceScript.Run(ctx, s.client, []string{s.key(id)}, from, to, s.opts.now().UnixMilli(), s.ttlMillis()).Int64()
	if err != nil {
		return fmt.Errorf("advancing cursor %d: %w", id, err)
	}
	switch res {
	case -1:
		return &NotFoundError{ID: id}
	case -2:
		return fmt.Errorf("%w: cursor %d, %d to %d", ErrBackwardAdvance, id, from, to)
	case -3:
		return fmt.Errorf("%w: cursor %d, expected %d", ErrPositionChanged, id, from)
	}
	return nil
}

// Evict implements Store.
func (s *RedisStore) Evict(ctx context.Context, id uint64) error {
	return s.remove(ctx, id, ReasonExhausted)
}

func (s *RedisStore) remove(ctx context.Context, id uint64, reason string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("evicting cursor %d: %w", id, err)
	}
	if n > 0 && s.opts.onEvict != nil {
		s.opts.onEvict(id, reason)
	}
	return nil
}

// Len implements Store. It scans the key space and is meant for metrics
// and tests, not hot paths.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.opts.keyPrefix+"cursor:*", 100).Iterator()
	for iter.Next(ctx) {
		if iter.Val() != s.seqKey() {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("counting cursors: %w", err)
	}
	return count, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
