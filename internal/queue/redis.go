package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	promoteBatch      = 100
	defaultVisibility = 11 * time.Minute
	leaseExpiredError = "delivery lease expired before acknowledgement"
)

// promoteScript moves due members of the delayed set onto the ready list in
// one step so two workers never promote the same message.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// requeueScript hands an expired delivery back to the ready list. The lease
// removal is the claim, so concurrent reclaimers requeue a message once.
var requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[3], ARGV[2])
return 1
`)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisQueue keeps ready messages in a list, retries in a sorted set scored
// by due time and exhausted messages in a dead-letter list. Popped messages
// move to a processing list with a lease; deliveries not acknowledged before
// the lease expires go back to the ready list.
type RedisQueue struct {
	client        *redis.Client
	clock         clockwork.Clock
	visibility    time.Duration
	readyKey      string
	delayedKey    string
	processingKey string
	leasesKey     string
	deadLetterKey string
}

func NewRedisQueue(client *redis.Client, name string, visibility time.Duration, clock clockwork.Clock) *RedisQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	return &RedisQueue{
		client:        client,
		clock:         clock,
		visibility:    visibility,
		readyKey:      name + ":queue",
		delayedKey:    name + ":delayed",
		processingKey: name + ":processing",
		leasesKey:     name + ":leases",
		deadLetterKey: name + ":deadletter",
	}
}

func (q *RedisQueue) Push(ctx context.Context, msg models.QueueMessage) error {
	if q.client == nil {
		return ErrNoClient
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push message to redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) PushDelayed(ctx context.Context, msg models.QueueMessage, at time.Time) error {
	if q.client == nil {
		return ErrNoClient
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	member := redis.Z{Score: float64(at.UnixMilli()), Member: data}
	if err := q.client.ZAdd(ctx, q.delayedKey, member).Err(); err != nil {
		return fmt.Errorf("failed to schedule message in redis: %w", err)
	}
	return nil
}

// Pop promotes due retries, reclaims expired deliveries, then blocks on the
// ready list. The message stays in the processing list until Ack. Redis
// rounds wait up to whole seconds.
func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (models.QueueMessage, bool, error) {
	if q.client == nil {
		return models.QueueMessage{}, false, ErrNoClient
	}
	if _, err := q.promote(ctx); err != nil {
		return models.QueueMessage{}, false, err
	}
	if _, err := q.Reclaim(ctx); err != nil {
		return models.QueueMessage{}, false, err
	}

	raw, err := q.client.BLMove(ctx, q.readyKey, q.processingKey, "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.QueueMessage{}, false, nil
		}
		return models.QueueMessage{}, false, fmt.Errorf("redis BLMOVE: %w", err)
	}

	// a missing lease is adopted by the next Reclaim
	lease := redis.Z{Score: float64(q.clock.Now().Add(q.visibility).UnixMilli()), Member: raw}
	if err := q.client.ZAdd(ctx, q.leasesKey, lease).Err(); err != nil {
		return models.QueueMessage{}, false, fmt.Errorf("failed to lease message: %w", err)
	}

	var msg models.QueueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		if dlErr := q.buryRaw(ctx, raw); dlErr != nil {
			return models.QueueMessage{}, false, errors.Join(err, dlErr)
		}
		return models.QueueMessage{}, false, fmt.Errorf("failed to decode message: %w", err)
	}
	msg.Receipt = raw
	return msg, true, nil
}

// Ack drops the delivery from the processing list. Messages without a
// receipt were not delivered by this queue and are ignored.
func (q *RedisQueue) Ack(ctx context.Context, msg models.QueueMessage) error {
	if q.client == nil {
		return ErrNoClient
	}
	if msg.Receipt == "" {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, msg.Receipt)
		pipe.ZRem(ctx, q.leasesKey, msg.Receipt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Reclaim returns deliveries whose lease expired to the ready list, counting
// the lost delivery as an attempt. Processing entries without a lease, left by
// a worker that died between pop and lease, get a fresh lease first.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	if q.client == nil {
		return 0, ErrNoClient
	}

	inFlight, err := q.client.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read processing list: %w", err)
	}
	if len(inFlight) == 0 {
		return 0, nil
	}

	now := q.clock.Now()
	deadline := float64(now.Add(q.visibility).UnixMilli())
	pipe := q.client.Pipeline()
	for _, raw := range inFlight {
		pipe.ZAddNX(ctx, q.leasesKey, redis.Z{Score: deadline, Member: raw})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to adopt unleased messages: %w", err)
	}

	expired, err := q.client.ZRangeByScore(ctx, q.leasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read expired leases: %w", err)
	}

	reclaimed := 0
	for _, raw := range expired {
		next := raw
		var msg models.QueueMessage
		if err := json.Unmarshal([]byte(raw), &msg); err == nil {
			msg.Attempts++
			msg.LastError = leaseExpiredError
			if data, err := json.Marshal(msg); err == nil {
				next = string(data)
			}
		}

		n, err := requeueScript.Run(ctx, q.client, []string{q.leasesKey, q.processingKey, q.readyKey}, raw, next).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("failed to requeue expired message: %w", err)
		}
		reclaimed += n
	}
	return reclaimed, nil
}

// buryRaw moves an undecodable delivery straight to the dead-letter list.
func (q *RedisQueue) buryRaw(ctx context.Context, raw string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, raw)
		pipe.ZRem(ctx, q.leasesKey, raw)
		pipe.LPush(ctx, q.deadLetterKey, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bury undecodable message: %w", err)
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context) (int64, error) {
	now := q.clock.Now().UnixMilli()
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now, promoteBatch).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed messages: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, msg models.QueueMessage) error {
	if q.client == nil {
		return ErrNoClient
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]models.QueueMessage, error) {
	if q.client == nil {
		return nil, ErrNoClient
	}
	raw, err := q.client.LRange(ctx, q.deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]models.QueueMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.QueueMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Len counts ready and scheduled messages. In-flight deliveries are not
// included.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, ErrNoClient
	}
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return ready.Val() + delayed.Val(), nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if q.client == nil {
		return ErrNoClient
	}
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
