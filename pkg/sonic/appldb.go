// Package sonic carries table notifications between SONiC's APPL_DB (Redis
// DB 0) and the engine.
//
// APPL_DB producers stage an entry in a temporary hash, record its key in
// the table's key set and publish on the table channel. Consumers pop keys
// from the key set and move the staged fields into the table proper.
package sonic

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// AppDBClient wraps a Redis client for APP_DB access (DB 0).
type AppDBClient struct {
	client *redis.Client
}

// NewAppDBClient creates a new APP_DB client.
func NewAppDBClient(addr string) *AppDBClient {
	return &AppDBClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   0, // APP_DB
		}),
	}
}

// Connect tests the connection.
func (c *AppDBClient) Connect(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("app_db ping: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *AppDBClient) Close() error {
	return c.client.Close()
}

// Consumer returns a consumer for table.
func (c *AppDBClient) Consumer(table string) *ConsumerStateTable {
	return NewConsumerStateTable(c.client, table)
}

// Producer returns a producer for table.
func (c *AppDBClient) Producer(table string) *ProducerStateTable {
	return NewProducerStateTable(c.client, table)
}

// Get reads an entry from the table proper. It returns nil, not an error,
// when the key does not exist.
func (c *AppDBClient) Get(ctx context.Context, table, key string) (map[string]string, error) {
	vals, err := c.client.HGetAll(ctx, tableKey(table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", tableKey(table, key), err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return stripNull(vals), nil
}

// Keys lists the keys present in the table proper.
func (c *AppDBClient) Keys(ctx context.Context, table string) ([]string, error) {
	redisKeys, err := scanKeys(ctx, c.client, table+":*", 100)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", table, err)
	}
	keys := make([]string, len(redisKeys))
	for i, k := range redisKeys {
		keys[i] = k[len(table)+1:]
	}
	return keys, nil
}

func tableKey(table, key string) string   { return table + ":" + key }
func stagingKey(table, key string) string { return "_" + table + ":" + key }
func keySetKey(table string) string       { return table + "_KEY_SET" }
func delSetKey(table string) string       { return table + "_DEL_SET" }
func channelName(table string) string     { return table + "_CHANNEL@0" }

func stripNull(vals map[string]string) map[string]string {
	if v, ok := vals[nullField]; ok && v == nullField {
		delete(vals, nullField)
	}
	return vals
}

const nullField = "NULL"

// scanKeys iterates Redis keys matching the given pattern using cursor-based
// SCAN instead of the blocking O(N) KEYS command.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
