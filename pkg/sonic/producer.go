package sonic

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ProducerStateTable writes entries the way SONiC producers do: stage the
// fields, mark the key, notify consumers. All steps of one write run in a
// single MULTI/EXEC transaction.
type ProducerStateTable struct {
	client *redis.Client
	table  string
}

// NewProducerStateTable creates a producer for table.
func NewProducerStateTable(client *redis.Client, table string) *ProducerStateTable {
	return &ProducerStateTable{client: client, table: table}
}

// Set stages fields for key. An empty field map is written as the NULL
// sentinel so the entry still exists.
func (p *ProducerStateTable) Set(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if len(args) == 0 {
		args = append(args, nullField, nullField)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, stagingKey(p.table, key), args...)
	pipe.SAdd(ctx, keySetKey(p.table), key)
	pipe.Publish(ctx, channelName(p.table), "G")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("producing SET %s: %w", tableKey(p.table, key), err)
	}
	return nil
}

// Del marks key for deletion. Fields staged earlier for the key are dropped.
func (p *ProducerStateTable) Del(ctx context.Context, key string) error {
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, stagingKey(p.table, key))
	pipe.SAdd(ctx, keySetKey(p.table), key)
	pipe.SAdd(ctx, delSetKey(p.table), key)
	pipe.Publish(ctx, channelName(p.table), "G")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("producing DEL %s: %w", tableKey(p.table, key), err)
	}
	return nil
}
