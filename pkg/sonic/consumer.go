package sonic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// Handler applies one task.
type Handler func(ctx context.Context, task srv6.Task) error

const (
	defaultPopBatch      = 128
	defaultRetryInterval = time.Second
)

// ConsumerStateTable pops staged entries of one APPL_DB table.
type ConsumerStateTable struct {
	client        *redis.Client
	table         string
	popBatch      int64
	retryInterval time.Duration
}

// NewConsumerStateTable creates a consumer for table.
func NewConsumerStateTable(client *redis.Client, table string) *ConsumerStateTable {
	return &ConsumerStateTable{
		client:        client,
		table:         table,
		popBatch:      defaultPopBatch,
		retryInterval: defaultRetryInterval,
	}
}

// Table returns the consumed table name.
func (c *ConsumerStateTable) Table() string {
	return c.table
}

// SetRetryInterval sets how often deferred tasks are retried and the key
// set is polled for notifications that were missed.
func (c *ConsumerStateTable) SetRetryInterval(d time.Duration) {
	if d > 0 {
		c.retryInterval = d
	}
}

// Pops moves up to one batch of staged entries into the table and returns
// their tasks. A key with staged fields becomes a SET carrying the entry's
// full field set; a key without becomes a DEL. A key deleted and then set
// again before the pop yields a DEL followed by a SET.
func (c *ConsumerStateTable) Pops(ctx context.Context) ([]srv6.Task, error) {
	keys, err := c.client.SPopN(ctx, keySetKey(c.table), c.popBatch).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("popping %s: %w", keySetKey(c.table), err)
	}
	sort.Strings(keys)

	tasks := make([]srv6.Task, 0, len(keys))
	for _, key := range keys {
		ts, err := c.pop(ctx, key)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, ts...)
	}
	return tasks, nil
}

func (c *ConsumerStateTable) pop(ctx context.Context, key string) ([]srv6.Task, error) {
	deleted, err := c.client.SRem(ctx, delSetKey(c.table), key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", delSetKey(c.table), err)
	}
	staged, err := c.client.HGetAll(ctx, stagingKey(c.table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", stagingKey(c.table, key), err)
	}

	delTask := srv6.Task{Table: c.table, Op: srv6.OpDel, Key: key}
	if len(staged) == 0 {
		if err := c.client.Del(ctx, tableKey(c.table, key)).Err(); err != nil {
			return nil, fmt.Errorf("deleting %s: %w", tableKey(c.table, key), err)
		}
		return []srv6.Task{delTask}, nil
	}

	args := make([]interface{}, 0, len(staged)*2)
	for k, v := range staged {
		args = append(args, k, v)
	}
	pipe := c.client.TxPipeline()
	if deleted > 0 {
		pipe.Del(ctx, tableKey(c.table, key))
	}
	pipe.HSet(ctx, tableKey(c.table, key), args...)
	pipe.Del(ctx, stagingKey(c.table, key))
	all := pipe.HGetAll(ctx, tableKey(c.table, key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("committing %s: %w", tableKey(c.table, key), err)
	}

	setTask := srv6.Task{Table: c.table, Op: srv6.OpSet, Key: key, Fields: stripNull(all.Val())}
	if deleted > 0 {
		return []srv6.Task{delTask, setTask}, nil
	}
	return []srv6.Task{setTask}, nil
}

// Run applies the table's entries until ctx is cancelled. It drains the
// key set at start, on every channel notification and on every retry tick.
// Tasks failing on a missing or still-referenced dependency are retried.
func (c *ConsumerStateTable) Run(ctx context.Context, apply Handler) error {
	log := util.WithField("table", c.table)

	sub := c.client.Subscribe(ctx, channelName(c.table))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", channelName(c.table), err)
	}
	notifications := sub.Channel()

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	queue := newTaskQueue()
	log.Info("Consumer started")
	for {
		if err := c.drain(ctx, queue, apply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("Draining: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Infof("Consumer stopped with %d deferred task(s)", queue.len())
			return nil
		case _, ok := <-notifications:
			if !ok {
				return fmt.Errorf("subscription to %s closed", channelName(c.table))
			}
		case <-ticker.C:
		}
	}
}

func (c *ConsumerStateTable) drain(ctx context.Context, queue *taskQueue, apply Handler) error {
	for {
		tasks, err := c.Pops(ctx)
		for _, t := range tasks {
			queue.put(t)
		}
		if err != nil {
			queue.flush(ctx, apply)
			return err
		}
		if len(tasks) == 0 {
			break
		}
	}
	queue.flush(ctx, apply)
	return nil
}
