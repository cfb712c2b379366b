package sai

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	asicStatePrefix = "ASIC_STATE:"
	vidCounterKey   = "VIDCOUNTER"
	nullField       = "NULL"
)

// RedisStore is a Store backed by ASIC_DB (Redis DB 1). Objects are hashes
// at ASIC_STATE:<type>:<id>; OIDs are allocated from VIDCOUNTER.
type RedisStore struct {
	client    *redis.Client
	switchOID string
	defaultVR string
}

// NewRedisStore creates a store for the ASIC_DB at addr. Call Connect before use.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   1, // ASIC_DB
		}),
	}
}

// Connect checks the connection and discovers the switch and default VR OIDs.
func (s *RedisStore) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("asic_db ping: %w", err)
	}

	keys, err := s.scanKeys(ctx, objectKey(ObjectTypeSwitch, "*"))
	if err != nil {
		return fmt.Errorf("asic_db: cannot discover switch OID: %w", err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("asic_db: no switch object")
	}
	s.switchOID = strings.TrimPrefix(keys[0], objectKey(ObjectTypeSwitch, ""))

	defaultVR, err := s.client.HGet(ctx, keys[0], AttrSwitchDefaultVirtualRouter).Result()
	if err != nil {
		return fmt.Errorf("asic_db: cannot read default VR from switch: %w", err)
	}
	s.defaultVR = defaultVR
	return nil
}

// Close closes the connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SwitchID() string             { return s.switchOID }
func (s *RedisStore) DefaultVirtualRouter() string { return s.defaultVR }

func objectKey(t ObjectType, id string) string {
	return asicStatePrefix + string(t) + ":" + id
}

func hsetArgs(attrs Attributes) []interface{} {
	if len(attrs) == 0 {
		// Empty object: write NULL sentinel (SONiC convention)
		return []interface{}{nullField, nullField}
	}
	args := make([]interface{}, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	return args
}

func (s *RedisStore) Create(ctx context.Context, t ObjectType, attrs Attributes) (string, error) {
	if t.IsEntry() {
		return "", fmt.Errorf("%s requires an entry key", t)
	}
	n, err := s.client.Incr(ctx, vidCounterKey).Result()
	if err != nil {
		return "", fmt.Errorf("allocating oid: %w", err)
	}
	id := fmt.Sprintf("oid:0x%x", n)
	if err := s.client.HSet(ctx, objectKey(t, id), hsetArgs(attrs)...).Err(); err != nil {
		return "", fmt.Errorf("creating %s: %w", t, err)
	}
	return id, nil
}

func (s *RedisStore) CreateEntry(ctx context.Context, t ObjectType, key string, attrs Attributes) error {
	if !t.IsEntry() {
		return fmt.Errorf("%s is not an entry type", t)
	}
	if err := s.client.HSet(ctx, objectKey(t, key), hsetArgs(attrs)...).Err(); err != nil {
		return fmt.Errorf("creating %s: %w", t, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, t ObjectType, id string) (Attributes, error) {
	vals, err := s.client.HGetAll(ctx, objectKey(t, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", t, id, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}
	delete(vals, nullField)
	return Attributes(vals), nil
}

// Set applies all changes in one MULTI/EXEC so readers never see a partial
// update.
func (s *RedisStore) Set(ctx context.Context, t ObjectType, id string, attrs Attributes) error {
	key := objectKey(t, id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", t, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}

	pipe := s.client.TxPipeline()
	var set []interface{}
	for k, v := range attrs {
		if v == "" {
			pipe.HDel(ctx, key, k)
		} else {
			set = append(set, k, v)
		}
	}
	if len(set) > 0 {
		pipe.HSet(ctx, key, set...)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("setting %s %s: %w", t, id, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, t ObjectType, id string) error {
	n, err := s.client.Del(ctx, objectKey(t, id)).Result()
	if err != nil {
		return fmt.Errorf("removing %s %s: %w", t, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, t ObjectType) ([]string, error) {
	prefix := objectKey(t, "")
	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", t, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// scanKeys uses SCAN to find keys matching a pattern (avoids KEYS on large databases).
func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var allKeys []string
	var cursor uint64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, err
		}
		allKeys = append(allKeys, keys...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return allKeys, nil
}
