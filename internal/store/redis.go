package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/Mingle/internal/domain"
)

// Redis keeps one hash per handle plus two sorted sets scored by
// last_active (unix nanos): the searching pool and the activity index.
// Multi-key transitions go through Lua so another broker instance can
// never observe a half-written pair.
type Redis struct {
	client *redis.Client
	prefix string
}

const (
	keySearching = "mingle:searching"
	keyActive    = "mingle:active"
)

// DialRedis connects and pings with a short timeout.
func DialRedis(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "mingle:presence:"}
}

func (r *Redis) key(h domain.Handle) string {
	return r.prefix + string(h)
}

// KEYS: presence hash, searching zset, active zset
// ARGV: status, session_id, now, handle
var setStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'session_id', ARGV[2], 'last_active', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
if ARGV[1] == 'searching' then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
else
	redis.call('ZREM', KEYS[2], ARGV[4])
end
return 1
`)

// KEYS: presence hash, searching zset, active zset
// ARGV: now, handle
var touchScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 0 end
redis.call('HSET', KEYS[1], 'last_active', ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
if st == 'searching' then
	redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
end
return 1
`)

// KEYS: presence hash, searching zset, active zset
// ARGV: handle
var removeScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st == 'paired' then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

// KEYS: hash a, hash b, searching zset, active zset
// ARGV: session_id, now, handle a, handle b
var claimPairScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'searching' then return 0 end
if redis.call('HGET', KEYS[2], 'status') ~= 'searching' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'paired', 'session_id', ARGV[1], 'last_active', ARGV[2])
redis.call('HSET', KEYS[2], 'status', 'paired', 'session_id', ARGV[1], 'last_active', ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[3], ARGV[4])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[4])
return 1
`)

func (r *Redis) Put(ctx context.Context, h domain.Handle) error {
	now := time.Now().UnixNano()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(h),
			"status", string(domain.StatusIdle),
			"session_id", "",
			"last_active", strconv.FormatInt(now, 10),
		)
		pipe.ZRem(ctx, keySearching, string(h))
		pipe.ZAdd(ctx, keyActive, redis.Z{Score: float64(now), Member: string(h)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", h, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, h domain.Handle) (domain.Presence, error) {
	fields, err := r.client.HGetAll(ctx, r.key(h)).Result()
	if err != nil {
		return domain.Presence{}, fmt.Errorf("get %s: %w", h, err)
	}
	if len(fields) == 0 {
		return domain.Presence{}, ErrNotFound
	}
	nanos, _ := strconv.ParseInt(fields["last_active"], 10, 64)
	return domain.Presence{
		Handle:     h,
		Status:     domain.Status(fields["status"]),
		SessionID:  domain.SessionID(fields["session_id"]),
		LastActive: time.Unix(0, nanos),
	}, nil
}

func (r *Redis) Remove(ctx context.Context, h domain.Handle) (bool, error) {
	res, err := removeScript.Run(ctx, r.client,
		[]string{r.key(h), keySearching, keyActive},
		string(h),
	).Int()
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", h, err)
	}
	return res == 1, nil
}

func (r *Redis) SetStatus(ctx context.Context, h domain.Handle, st domain.Status, sid domain.SessionID) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := setStatusScript.Run(ctx, r.client,
		[]string{r.key(h), keySearching, keyActive},
		string(st), string(sid), now, string(h),
	).Int()
	if err != nil {
		return fmt.Errorf("set status %s: %w", h, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, h domain.Handle) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := touchScript.Run(ctx, r.client,
		[]string{r.key(h), keySearching, keyActive},
		now, string(h),
	).Int()
	if err != nil {
		return fmt.Errorf("touch %s: %w", h, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) FindSearching(ctx context.Context, exclude domain.Handle) (domain.Handle, error) {
	// The pool is scored by last_active, so the earliest searcher comes
	// first. Two entries cover the case where the head is the caller.
	members, err := r.client.ZRange(ctx, keySearching, 0, 1).Result()
	if err != nil {
		return "", fmt.Errorf("find searching: %w", err)
	}
	for _, m := range members {
		if domain.Handle(m) != exclude {
			return domain.Handle(m), nil
		}
	}
	return "", ErrNotFound
}

func (r *Redis) ClaimPair(ctx context.Context, a, b domain.Handle, sid domain.SessionID) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := claimPairScript.Run(ctx, r.client,
		[]string{r.key(a), r.key(b), keySearching, keyActive},
		string(sid), now, string(a), string(b),
	).Int()
	if err != nil {
		return false, fmt.Errorf("claim %s+%s: %w", a, b, err)
	}
	return res == 1, nil
}

func (r *Redis) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	min := strconv.FormatInt(since.UnixNano(), 10)
	n, err := r.client.ZCount(ctx, keyActive, "("+min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return int(n), nil
}

func (r *Redis) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]domain.Handle, error) {
	max := strconv.FormatInt(cutoff.UnixNano(), 10)
	members, err := r.client.ZRangeByScore(ctx, keyActive, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	handles := make([]domain.Handle, 0, len(members))
	for _, m := range members {
		handles = append(handles, domain.Handle(m))
	}
	return handles, nil
}
