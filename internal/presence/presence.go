package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker stores agent heartbeats in one sorted set per workspace
// (member = user id, score = last seen unix millis).
type Tracker struct {
	rdb       redis.Cmdable
	prefix    string
	retention time.Duration
	clock     func() time.Time
}

func NewTracker(rdb redis.Cmdable, prefix string) *Tracker {
	if prefix == "" {
		prefix = "presence"
	}
	return &Tracker{rdb: rdb, prefix: prefix, retention: 24 * time.Hour, clock: time.Now}
}

var ErrInvalidArgument = errors.New("presence: invalid argument")

func (t *Tracker) key(workspaceID string) string { return t.prefix + ":" + workspaceID }

// Heartbeat marks userID as online now and prunes entries past retention.
func (t *Tracker) Heartbeat(ctx context.Context, workspaceID, userID string) error {
	if workspaceID == "" || userID == "" {
		return ErrInvalidArgument
	}
	now := t.clock()
	key := t.key(workspaceID)
	cutoff := now.Add(-t.retention).UnixMilli()

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: userID})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, t.retention)
		return nil
	})
	return err
}

// Offline removes userID, making its assignments immediately reclaimable.
func (t *Tracker) Offline(ctx context.Context, workspaceID, userID string) error {
	if workspaceID == "" || userID == "" {
		return ErrInvalidArgument
	}
	return t.rdb.ZRem(ctx, t.key(workspaceID), userID).Err()
}

// LastOnline is the liveness snapshot used by the stale-assignment sweep.
func (t *Tracker) LastOnline(ctx context.Context, workspaceID string) (map[string]time.Time, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	zs, err := t.rdb.ZRangeWithScores(ctx, t.key(workspaceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[id] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return out, nil
}
