package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tclesius/ltq"
)

// RedisBroker is the production Broker backend. Per queue Q it keeps:
//   - queue:{Q}        sorted set, member = serialized Message, score = visibility epoch ms
//   - processing:{Q}:{worker_id} sorted set, member = serialized Message, score = lease epoch ms
//   - ids:{Q}          set of message IDs currently visible or in-flight, for Publish idempotence
//
// consume/nack-requeue/recover are each a single Lua script so no message
// can be observed by two workers between the visible-set removal and the
// in-flight-set insertion.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisFromURL parses a redis://host:port[/db] URL and returns a
// connected RedisBroker.
func NewRedisFromURL(url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis url: %w", err)
	}
	return &RedisBroker{rdb: redis.NewClient(opts)}, nil
}

// NewRedis wraps an already-configured *redis.Client.
func NewRedis(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func queueKey(queue string) string                { return "queue:" + queue }
func idsKey(queue string) string                  { return "ids:" + queue }
func processingKey(queue, workerID string) string  { return "processing:" + queue + ":" + workerID }
func processingPattern(queue string) string        { return "processing:" + queue + ":*" }

func nowMillis() int64 { return time.Now().UnixMilli() }

var publishScript = redis.NewScript(`
local queue_key = KEYS[1]
local ids_key = KEYS[2]
local id = ARGV[1]
local score = ARGV[2]
local payload = ARGV[3]

if redis.call('SISMEMBER', ids_key, id) == 1 then
	return 0
end
redis.call('SADD', ids_key, id)
redis.call('ZADD', queue_key, score, payload)
return 1
`)

// Publish marshals msg and makes it visible at now+delayMillis. Idempotent
// on msg.ID via the ids:{queue} set.
func (b *RedisBroker) Publish(ctx context.Context, queue string, msg ltq.Message, delayMillis int64) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	score := nowMillis() + delayMillis
	return publishScript.Run(ctx, b.rdb,
		[]string{queueKey(queue), idsKey(queue)},
		msg.ID, score, payload,
	).Err()
}

var consumeScript = redis.NewScript(`
local queue_key = KEYS[1]
local processing_key = KEYS[2]
local now = ARGV[1]
local count = tonumber(ARGV[2])

local members = redis.call('ZRANGEBYSCORE', queue_key, '-inf', now, 'LIMIT', 0, count)
if #members == 0 then
	return members
end
redis.call('ZREM', queue_key, unpack(members))
for _, m in ipairs(members) do
	redis.call('ZADD', processing_key, now, m)
end
return members
`)

// Consume atomically leases up to count due Messages on queue to workerID.
// block is honored as a single short poll-retry loop: Redis has no native
// blocking ZRANGEBYSCORE, so a miss sleeps briefly and retries until block
// elapses, matching the spec's "returning fewer, including zero, is always
// permitted".
func (b *RedisBroker) Consume(ctx context.Context, queue, workerID string, count int, block time.Duration) ([]ltq.Message, error) {
	deadline := time.Now().Add(block)
	for {
		res, err := consumeScript.Run(ctx, b.rdb,
			[]string{queueKey(queue), processingKey(queue, workerID)},
			nowMillis(), count,
		).Result()
		if err != nil {
			return nil, fmt.Errorf("broker: consume: %w", err)
		}

		raw, _ := res.([]any)
		if len(raw) > 0 {
			out := make([]ltq.Message, 0, len(raw))
			for _, r := range raw {
				s, _ := r.(string)
				var msg ltq.Message
				if err := json.Unmarshal([]byte(s), &msg); err != nil {
					return nil, fmt.Errorf("broker: unmarshal message: %w", err)
				}
				out = append(out, msg.WithLeasePayload([]byte(s)))
			}
			return out, nil
		}

		if time.Now().After(deadline) || block <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

var ackScript = redis.NewScript(`
local processing_key = KEYS[1]
local ids_key = KEYS[2]
local payload = ARGV[1]
local id = ARGV[2]

redis.call('ZREM', processing_key, payload)
redis.call('SREM', ids_key, id)
return 1
`)

// leasedPayload returns the exact bytes Consume wrote into the processing
// set for msg, so Ack/Nack can remove that ZSET member by its original wire
// form rather than re-marshaling msg, which may have been mutated (e.g. by
// middleware.MaxTries bumping Ctx["tries"]) since it was consumed. Falls
// back to marshaling msg when no lease payload is attached, e.g. a Message
// built directly in a test rather than returned from Consume.
func leasedPayload(msg ltq.Message) ([]byte, error) {
	if p := msg.LeasePayload(); p != nil {
		return p, nil
	}
	return json.Marshal(msg)
}

// Ack removes msg from workerID's in-flight set and drops it.
func (b *RedisBroker) Ack(ctx context.Context, queue, workerID string, msg ltq.Message) error {
	payload, err := leasedPayload(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	return ackScript.Run(ctx, b.rdb,
		[]string{processingKey(queue, workerID), idsKey(queue)},
		payload, msg.ID,
	).Err()
}

var nackRequeueScript = redis.NewScript(`
local processing_key = KEYS[1]
local queue_key = KEYS[2]
local old_payload = ARGV[1]
local new_payload = ARGV[2]
local new_score = ARGV[3]

redis.call('ZREM', processing_key, old_payload)
redis.call('ZADD', queue_key, new_score, new_payload)
return 1
`)

// Nack removes msg from workerID's in-flight set. If drop, it is discarded
// (same as Ack plus ids cleanup); otherwise it's republished with
// visibility at now+delayMillis, preserving ID and Ctx.
func (b *RedisBroker) Nack(ctx context.Context, queue, workerID string, msg ltq.Message, delayMillis int64, drop bool) error {
	if drop {
		return b.Ack(ctx, queue, workerID, msg)
	}

	oldPayload, err := leasedPayload(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	newPayload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	newScore := nowMillis() + delayMillis

	return nackRequeueScript.Run(ctx, b.rdb,
		[]string{processingKey(queue, workerID), queueKey(queue)},
		string(oldPayload), string(newPayload), strconv.FormatInt(newScore, 10),
	).Err()
}

var recoverScript = redis.NewScript(`
local processing_key = KEYS[1]
local queue_key = KEYS[2]
local cutoff = ARGV[1]
local now = ARGV[2]

local members = redis.call('ZRANGEBYSCORE', processing_key, '-inf', cutoff)
if #members == 0 then
	return 0
end
redis.call('ZREM', processing_key, unpack(members))
for _, m in ipairs(members) do
	redis.call('ZADD', queue_key, now, m)
end
return #members
`)

// Recover scans every processing:{queue}:* set and reclaims leases older
// than olderThan, returning them to queue's visible set at now. Used by a
// fresh worker to survive a crashed prior instance.
func (b *RedisBroker) Recover(ctx context.Context, queue string, olderThan time.Duration) (int, error) {
	cutoff := nowMillis() - olderThan.Milliseconds()
	keys, err := b.scanKeys(ctx, processingPattern(queue))
	if err != nil {
		return 0, fmt.Errorf("broker: recover: scan processing sets: %w", err)
	}

	total := 0
	for _, pk := range keys {
		res, err := recoverScript.Run(ctx, b.rdb,
			[]string{pk, queueKey(queue)},
			cutoff, nowMillis(),
		).Result()
		if err != nil {
			return total, fmt.Errorf("broker: recover: %w", err)
		}
		n, _ := res.(int64)
		total += int(n)
	}
	return total, nil
}

// Size returns the count of visible Messages on queue, counting all
// members of queue:{Q} regardless of score (future-visibility messages
// included), per the spec's documented choice.
func (b *RedisBroker) Size(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.ZCard(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: size: %w", err)
	}
	return n, nil
}

// Clear deletes queue:{Q}, ids:{Q}, and every processing:{Q}:* set.
func (b *RedisBroker) Clear(ctx context.Context, queue string) error {
	keys, err := b.scanKeys(ctx, processingPattern(queue))
	if err != nil {
		return fmt.Errorf("broker: clear: scan processing sets: %w", err)
	}
	keys = append(keys, queueKey(queue), idsKey(queue))
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

// Close releases the underlying Redis connection pool.
func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
