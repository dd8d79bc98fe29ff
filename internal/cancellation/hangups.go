package cancellation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"

	"github.com/redis/go-redis/v9"
)

// HangupRequest asks the provider to end one live call.
type HangupRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	CampaignID  string    `json:"campaign_id"`
	CallSID     string    `json:"call_sid"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// HangupQueue is the fire-and-forget buffer between cancellation and the
// provider.
type HangupQueue interface {
	Push(ctx context.Context, reqs ...HangupRequest) error
	// Pop waits up to wait for a request; ok is false when none arrived.
	Pop(ctx context.Context, wait time.Duration) (req HangupRequest, ok bool, err error)
	DeadLetter(ctx context.Context, req HangupRequest) error
}

// RedisHangupQueue is a Redis list shared by every process.
type RedisHangupQueue struct {
	rdb    redis.Cmdable
	key    string
	dlqKey string
}

func NewRedisHangupQueue(rdb redis.Cmdable, prefix string) *RedisHangupQueue {
	if prefix == "" {
		prefix = "hangups"
	}
	return &RedisHangupQueue{rdb: rdb, key: prefix + ":ready", dlqKey: prefix + ":dlq"}
}

func (q *RedisHangupQueue) Push(ctx context.Context, reqs ...HangupRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(reqs))
	for _, r := range reqs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	return q.rdb.RPush(ctx, q.key, vals...).Err()
}

func (q *RedisHangupQueue) Pop(ctx context.Context, wait time.Duration) (HangupRequest, bool, error) {
	if wait <= 0 {
		// BLPOP with a zero timeout blocks forever.
		raw, err := q.rdb.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return HangupRequest{}, false, nil
		}
		if err != nil {
			return HangupRequest{}, false, err
		}
		return decodeHangup(raw)
	}
	res, err := q.rdb.BLPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return HangupRequest{}, false, nil
	}
	if err != nil {
		return HangupRequest{}, false, err
	}
	// BLPOP answers [key, value].
	if len(res) != 2 {
		return HangupRequest{}, false, fmt.Errorf("cancellation: unexpected BLPOP reply %v", res)
	}
	return decodeHangup(res[1])
}

func decodeHangup(raw string) (HangupRequest, bool, error) {
	var r HangupRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return HangupRequest{}, false, err
	}
	return r, true, nil
}

func (q *RedisHangupQueue) DeadLetter(ctx context.Context, req HangupRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.dlqKey, b).Err()
}

// Depth is the number of pending requests.
func (q *RedisHangupQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// MemoryHangupQueue is an in-process HangupQueue for tests and local runs.
type MemoryHangupQueue struct {
	mu    sync.Mutex
	items []HangupRequest
	dead  []HangupRequest
}

func NewMemoryHangupQueue() *MemoryHangupQueue { return &MemoryHangupQueue{} }

func (q *MemoryHangupQueue) Push(ctx context.Context, reqs ...HangupRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, reqs...)
	return nil
}

// Pop never blocks.
func (q *MemoryHangupQueue) Pop(ctx context.Context, wait time.Duration) (HangupRequest, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return HangupRequest{}, false, nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true, nil
}

func (q *MemoryHangupQueue) DeadLetter(ctx context.Context, req HangupRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, req)
	return nil
}

func (q *MemoryHangupQueue) Pending() []HangupRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]HangupRequest(nil), q.items...)
}

func (q *MemoryHangupQueue) Dead() []HangupRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]HangupRequest(nil), q.dead...)
}

type ProviderResolver interface {
	Resolve(workspaceID string) (telephony.Provider, error)
}

// Drainer sends queued hangups to the provider. Retryable failures go back
// on the queue until MaxAttempts, then to the dead-letter list.
type Drainer struct {
	queue       HangupQueue
	providers   ProviderResolver
	maxAttempts int
	wait        time.Duration
	log         *slog.Logger
}

func NewDrainer(q HangupQueue, providers ProviderResolver, maxAttempts int, log *slog.Logger) *Drainer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Drainer{queue: q, providers: providers, maxAttempts: maxAttempts, wait: 2 * time.Second, log: log}
}

// Run drains until ctx ends.
func (d *Drainer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, ok, err := d.queue.Pop(ctx, d.wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("hangup queue pop failed", "err", err)
			if err := sleepCtx(ctx, d.wait); err != nil {
				return err
			}
			continue
		}
		if !ok {
			continue
		}
		d.process(ctx, req)
	}
}

// DrainOnce processes every request currently queued and reports how many
// were handled.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		req, ok, err := d.queue.Pop(ctx, 0)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		d.process(ctx, req)
		n++
	}
}

func (d *Drainer) process(ctx context.Context, req HangupRequest) {
	log := d.log.With("call_sid", req.CallSID, "campaign_id", req.CampaignID)
	p, err := d.providers.Resolve(req.WorkspaceID)
	if err == nil {
		err = p.UpdateCall(ctx, telephony.UpdateCallRequest{WorkspaceID: req.WorkspaceID, SID: req.CallSID, Hangup: true})
	}
	if err == nil {
		telemetry.HangupsTotal.WithLabelValues("sent").Inc()
		return
	}

	req.Attempts++
	if telephony.IsRetryable(err) && req.Attempts < d.maxAttempts {
		telemetry.HangupsTotal.WithLabelValues("retried").Inc()
		log.Warn("hangup failed; requeued", "attempts", req.Attempts, "err", err)
		if perr := d.queue.Push(ctx, req); perr != nil {
			log.Error("hangup requeue failed", "err", perr)
		}
		return
	}
	telemetry.HangupsTotal.WithLabelValues("dead").Inc()
	log.Error("hangup abandoned", "attempts", req.Attempts, "err", err)
	if derr := d.queue.DeadLetter(ctx, req); derr != nil {
		log.Error("hangup dead-letter failed", "err", derr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
