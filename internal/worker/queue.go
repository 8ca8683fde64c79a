package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// item is one decoded queue entry together with its raw payload, which is
// what gets pushed back on failure.
type item[T any] struct {
	raw   string
	value *T
}

// queueConsumer pops JSON payloads from a Redis list and hands them to flush
// in batches. A batch is flushed when it is full or BatchTimeout has passed.
type queueConsumer[T any] struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
	flush func(ctx context.Context, batch []item[T])
}

func (c *queueConsumer[T]) run(ctx context.Context) {
	batch := make([]item[T], 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			c.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			c.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			c.flush(context.Background(), batch)
			c.drain(context.Background())
			c.log.Info().Msg("Worker stopped")
			return

		default:
			res, err := c.rdb.BLPop(ctx, PollTimeout, c.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					c.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(PollTimeout)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}
			if it, ok := c.decode(res[1]); ok {
				batch = append(batch, it)
			}
		}
	}
}

// drain flushes whatever is left in the queue before shutdown. Items that
// fail are requeued by flush, so drain stops after one pass.
func (c *queueConsumer[T]) drain(ctx context.Context) {
	n, err := c.rdb.LLen(ctx, c.queue).Result()
	if err != nil || n == 0 {
		return
	}

	drained := 0
	batch := make([]item[T], 0, BatchSize)
	for i := int64(0); i < n; i++ {
		raw, err := c.rdb.LPop(ctx, c.queue).Result()
		if err != nil {
			break
		}
		if it, ok := c.decode(raw); ok {
			batch = append(batch, it)
		}
		if len(batch) >= BatchSize {
			c.flush(ctx, batch)
			drained += len(batch)
			batch = batch[:0]
		}
	}
	c.flush(ctx, batch)
	drained += len(batch)

	if drained > 0 {
		c.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func (c *queueConsumer[T]) decode(raw string) (item[T], bool) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.log.Error().Err(err).Msg("Invalid JSON payload")
		return item[T]{}, false
	}
	return item[T]{raw: raw, value: &v}, true
}

func (c *queueConsumer[T]) requeue(ctx context.Context, it item[T]) {
	if err := c.rdb.RPush(ctx, c.queue, it.raw).Err(); err != nil {
		c.log.Error().Err(err).Msg("Requeue failed, payload lost")
	}
}

func values[T any](batch []item[T]) []*T {
	out := make([]*T, len(batch))
	for i := range batch {
		out[i] = batch[i].value
	}
	return out
}
